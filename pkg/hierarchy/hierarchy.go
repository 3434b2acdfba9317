// Package hierarchy 维护上下文的父子层级。
//
// 职责：维护 PARENT_OF 边并保证层级无环；按继承策略推导
// 一个上下文的有效候选集；原子地克隆上下文到新项目。
// 所有遍历都施加硬性深度上限，即使存储数据不一致也保证
// 终止（该上限同时充当病态图的防护）。
package hierarchy

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/store"
)

// InheritancePolicy 有效候选集的继承策略
type InheritancePolicy string

const (
	// PolicyOwnOnly 只取上下文自身的条目
	PolicyOwnOnly InheritancePolicy = "own_only"
	// PolicyIncludeAncestors 并入所有祖先的条目
	PolicyIncludeAncestors InheritancePolicy = "include_ancestors"
	// PolicyIncludeDescendants 并入所有后代的条目
	PolicyIncludeDescendants InheritancePolicy = "include_descendants"
)

// DefaultMaxDepth 层级遍历的默认深度上限
const DefaultMaxDepth = 64

// DefaultReadRetries 读路径对上游不可用错误的默认重试次数
const DefaultReadRetries = 2

// DefaultRetryBaseDelay 读路径重试的默认基础退避
const DefaultRetryBaseDelay = 50 * time.Millisecond

// EffectiveCandidate 有效候选集中的条目
//
// Distance 是条目所在上下文到查询上下文的层级距离，
// 用作相关性衰减的输入（衰减本身不在本包计算）。
type EffectiveCandidate struct {
	// Item 上下文条目
	Item *model.ContextItem
	// Distance 层级距离（自身条目为 0）
	Distance int
}

// Manager 上下文层级管理器
type Manager struct {
	items      store.ItemStore
	graph      store.GraphStore
	maxDepth   int
	maxRetries int
	retryDelay time.Duration
}

// ManagerOption 配置 Manager。
type ManagerOption func(*Manager)

// WithMaxDepth 设置层级遍历深度上限。
func WithMaxDepth(depth int) ManagerOption {
	return func(m *Manager) {
		m.maxDepth = depth
	}
}

// WithRetryPolicy 设置读路径的重试次数与基础退避。
// 只有遍历与列举这类只读调用走重试，写路径不受影响。
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.retryDelay = baseDelay
	}
}

// NewManager 创建层级管理器
func NewManager(items store.ItemStore, graph store.GraphStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		items:      items,
		graph:      graph,
		maxDepth:   DefaultMaxDepth,
		maxRetries: DefaultReadRetries,
		retryDelay: DefaultRetryBaseDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateContext 创建上下文并登记图节点与父边
func (m *Manager) CreateContext(ctx context.Context, c *model.Context) error {
	if c == nil || c.ID == "" {
		return errors.ErrInvalidInput
	}

	if c.ParentID != "" {
		if _, err := m.items.GetContext(ctx, c.ParentID); err != nil {
			return errors.WrapError(err, "parent context")
		}
	}

	if err := m.items.PutContext(ctx, c); err != nil {
		return errors.WrapError(err, "persist context")
	}

	if err := m.graph.UpsertNode(ctx, &store.GraphNode{
		ID:   c.ID,
		Kind: store.NodeKindContext,
		Properties: map[string]interface{}{
			"project_id": c.ProjectID,
			"name":       c.Name,
		},
	}); err != nil {
		return errors.WrapError(err, "upsert context node")
	}

	if c.ParentID != "" {
		edge := model.NewRelationship(c.ParentID, c.ID, model.RelationParentOf)
		if err := m.graph.AddEdge(ctx, edge); err != nil {
			return errors.WrapError(err, "add parent edge")
		}
	}

	return nil
}

// SetParent 重设上下文的父节点
//
// 在写入前沿新父节点的祖先链向根遍历；若被移动的上下文
// 出现在链上，拒绝并返回 ErrCycleDetected，层级保持不变。
func (m *Manager) SetParent(ctx context.Context, contextID, newParentID string) error {
	if contextID == "" || contextID == newParentID {
		return errors.ErrCycleDetected
	}

	c, err := m.items.GetContext(ctx, contextID)
	if err != nil {
		return errors.WrapError(err, "context")
	}

	if newParentID != "" {
		if _, err := m.items.GetContext(ctx, newParentID); err != nil {
			return errors.WrapError(err, "new parent context")
		}

		chain, err := m.Ancestors(ctx, newParentID)
		if err != nil {
			return err
		}
		for _, id := range chain {
			if id == contextID {
				return errors.ErrCycleDetected
			}
		}
	}

	// 检查通过后才动边：先摘旧边，再挂新边
	if c.ParentID != "" {
		if err := m.graph.DeleteEdge(ctx, c.ParentID, contextID, model.RelationParentOf); err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return errors.WrapError(err, "delete old parent edge")
		}
	}

	if newParentID != "" {
		edge := model.NewRelationship(newParentID, contextID, model.RelationParentOf)
		if err := m.graph.AddEdge(ctx, edge); err != nil {
			return errors.WrapError(err, "add parent edge")
		}
	}

	c.ParentID = newParentID
	if err := m.items.PutContext(ctx, c); err != nil {
		return errors.WrapError(err, "persist context")
	}

	return nil
}

// neighbors 带重试地取邻居，瞬时的上游不可用错误按退避重试
func (m *Manager) neighbors(ctx context.Context, id string, relType model.RelationType, dir store.EdgeDirection) ([]string, error) {
	var out []string
	err := store.WithRetry(ctx, m.maxRetries, m.retryDelay, func() error {
		var err error
		out, err = m.graph.Neighbors(ctx, id, relType, dir)
		return err
	})
	return out, err
}

// listItems 带重试地列举上下文条目
func (m *Manager) listItems(ctx context.Context, contextID string) ([]*model.ContextItem, error) {
	var out []*model.ContextItem
	err := store.WithRetry(ctx, m.maxRetries, m.retryDelay, func() error {
		var err error
		out, err = m.items.ListContextItems(ctx, contextID)
		return err
	})
	return out, err
}

// Ancestors 返回从直接父节点到根的祖先链
//
// 超出深度上限返回 ErrHierarchyTooDeep 而非死循环。
func (m *Manager) Ancestors(ctx context.Context, contextID string) ([]string, error) {
	var chain []string
	current := contextID

	for depth := 0; ; depth++ {
		if depth >= m.maxDepth {
			return nil, errors.ErrHierarchyTooDeep
		}

		parents, err := m.neighbors(ctx, current, model.RelationParentOf, store.DirectionIn)
		if err != nil {
			return nil, errors.WrapError(err, "fetch parent")
		}
		if len(parents) == 0 {
			return chain, nil
		}

		// 每个上下文至多一个父节点
		current = parents[0]
		chain = append(chain, current)
	}
}

// Descendants 返回全部后代及其距离（广度优先）
func (m *Manager) Descendants(ctx context.Context, contextID string) (map[string]int, error) {
	result := make(map[string]int)
	frontier := []string{contextID}

	for depth := 1; len(frontier) > 0; depth++ {
		if depth > m.maxDepth {
			return nil, errors.ErrHierarchyTooDeep
		}

		var next []string
		for _, id := range frontier {
			children, err := m.neighbors(ctx, id, model.RelationParentOf, store.DirectionOut)
			if err != nil {
				return nil, errors.WrapError(err, "fetch children")
			}
			for _, child := range children {
				if _, seen := result[child]; seen || child == contextID {
					continue
				}
				result[child] = depth
				next = append(next, child)
			}
		}
		frontier = next
	}

	return result, nil
}

// EffectiveCandidates 按继承策略推导有效候选集
//
// 自身条目距离为 0；继承条目带上与查询上下文的层级距离。
// 同一内容出现在多个层级时保留距离最近的条目。
// 输出按 (Distance, Position, ContentID) 排序，保证确定性。
func (m *Manager) EffectiveCandidates(ctx context.Context, contextID string, policy InheritancePolicy) ([]EffectiveCandidate, error) {
	own, err := m.listItems(ctx, contextID)
	if err != nil {
		return nil, errors.WrapError(err, "list own items")
	}

	seen := make(map[string]struct{}, len(own))
	result := make([]EffectiveCandidate, 0, len(own))
	for _, item := range own {
		seen[item.ContentID] = struct{}{}
		result = append(result, EffectiveCandidate{Item: item, Distance: 0})
	}

	switch policy {
	case PolicyOwnOnly, "":
		// 自身条目已齐

	case PolicyIncludeAncestors:
		chain, err := m.Ancestors(ctx, contextID)
		if err != nil {
			return nil, err
		}
		for i, ancestorID := range chain {
			items, err := m.listItems(ctx, ancestorID)
			if err != nil {
				return nil, errors.WrapError(err, "list ancestor items")
			}
			for _, item := range items {
				if _, dup := seen[item.ContentID]; dup {
					continue
				}
				seen[item.ContentID] = struct{}{}
				result = append(result, EffectiveCandidate{Item: item, Distance: i + 1})
			}
		}

	case PolicyIncludeDescendants:
		descendants, err := m.Descendants(ctx, contextID)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(descendants))
		for id := range descendants {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			items, err := m.listItems(ctx, id)
			if err != nil {
				return nil, errors.WrapError(err, "list descendant items")
			}
			for _, item := range items {
				if _, dup := seen[item.ContentID]; dup {
					continue
				}
				seen[item.ContentID] = struct{}{}
				result = append(result, EffectiveCandidate{Item: item, Distance: descendants[id]})
			}
		}

	default:
		return nil, errors.WrapError(errors.ErrInvalidInput, fmt.Sprintf("inheritance policy %q", policy))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Distance != result[j].Distance {
			return result[i].Distance < result[j].Distance
		}
		if result[i].Item.Position != result[j].Item.Position {
			return result[i].Item.Position < result[j].Item.Position
		}
		return result[i].Item.ContentID < result[j].Item.ContentID
	})

	return result, nil
}

// GetHierarchy 返回项目的上下文层级森林
//
// 子节点按名称排序（同名按 ID），保证输出确定。
func (m *Manager) GetHierarchy(ctx context.Context, projectID string) ([]*model.ContextTree, error) {
	var contexts []*model.Context
	err := store.WithRetry(ctx, m.maxRetries, m.retryDelay, func() error {
		var err error
		contexts, err = m.items.ListContexts(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, errors.WrapError(err, "list contexts")
	}

	nodes := make(map[string]*model.ContextTree, len(contexts))
	for _, c := range contexts {
		nodes[c.ID] = &model.ContextTree{Context: c}
	}

	var roots []*model.ContextTree
	for _, c := range contexts {
		node := nodes[c.ID]
		if c.ParentID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[c.ParentID]
		if !ok {
			// 父节点在项目外（或已删除）时按根处理
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	var sortTrees func(trees []*model.ContextTree)
	sortTrees = func(trees []*model.ContextTree) {
		sort.Slice(trees, func(i, j int) bool {
			if trees[i].Context.Name != trees[j].Context.Name {
				return trees[i].Context.Name < trees[j].Context.Name
			}
			return trees[i].Context.ID < trees[j].Context.ID
		})
		for _, t := range trees {
			sortTrees(t.Children)
		}
	}
	sortTrees(roots)

	return roots, nil
}
