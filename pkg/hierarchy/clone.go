package hierarchy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/store"
)

// CloneOption 配置一次克隆。
type CloneOption func(*cloneOptions)

type cloneOptions struct {
	recurse bool
}

// WithRecurse 连同子上下文一起克隆。
// 默认浅克隆：只复制目标上下文本体及其条目。
func WithRecurse(recurse bool) CloneOption {
	return func(o *cloneOptions) {
		o.recurse = recurse
	}
}

// Clone 把上下文深拷贝到目标项目
//
// 复制 Context 实体与其全部 ContextItem：新身份、相同的
// relevanceScore/position，selected 重置为 false，挂起状态清空。
// 整个批次（上下文 + 条目）通过 ItemStore.ApplyClone 原子落库，
// 图侧的节点与 HAS_CONTEXT 边随后登记，失败时做补偿删除——
// 部分克隆绝不允许对后续读可见。
func (m *Manager) Clone(ctx context.Context, sourceID, targetProjectID, newName string, opts ...CloneOption) (string, error) {
	options := &cloneOptions{}
	for _, opt := range opts {
		opt(options)
	}

	source, err := m.items.GetContext(ctx, sourceID)
	if err != nil {
		return "", errors.WrapError(err, "source context")
	}

	batch := &store.CloneBatch{}
	newRootID, err := m.buildCloneBatch(ctx, source, targetProjectID, newName, "", options.recurse, 0, batch)
	if err != nil {
		return "", err
	}

	if err := m.items.ApplyClone(ctx, batch); err != nil {
		return "", errors.WrapError(err, "apply clone")
	}

	// 图侧登记；失败时补偿删除已落库的上下文，保持克隆不可见
	if err := m.registerCloneGraph(ctx, batch); err != nil {
		for _, c := range batch.Contexts {
			_ = m.items.DeleteContext(ctx, c.ID)
		}
		return "", errors.WrapError(err, "register clone graph")
	}

	return newRootID, nil
}

// buildCloneBatch 递归装配克隆批次，返回新根的 ID
func (m *Manager) buildCloneBatch(ctx context.Context, source *model.Context, targetProjectID, name, newParentID string, recurse bool, depth int, batch *store.CloneBatch) (string, error) {
	if depth >= m.maxDepth {
		return "", errors.ErrHierarchyTooDeep
	}

	clone := model.NewContext(targetProjectID, name,
		model.WithContextID(uuid.New().String()),
		model.WithParent(newParentID),
		model.WithSettings(copySettings(source.Settings)),
	)
	clone.IsActive = source.IsActive
	batch.Contexts = append(batch.Contexts, clone)

	items, err := m.items.ListContextItems(ctx, source.ID)
	if err != nil {
		return "", errors.WrapError(err, "list source items")
	}
	for _, item := range items {
		batch.Items = append(batch.Items, item.Clone(clone.ID, item.ContentID))
	}

	if recurse {
		children, err := m.graph.Neighbors(ctx, source.ID, model.RelationParentOf, store.DirectionOut)
		if err != nil {
			return "", errors.WrapError(err, "fetch children")
		}
		for _, childID := range children {
			child, err := m.items.GetContext(ctx, childID)
			if err != nil {
				return "", errors.WrapError(err, "child context")
			}
			if _, err := m.buildCloneBatch(ctx, child, targetProjectID, child.Name, clone.ID, recurse, depth+1, batch); err != nil {
				return "", err
			}
		}
	}

	return clone.ID, nil
}

// registerCloneGraph 在图存储中登记克隆产物
func (m *Manager) registerCloneGraph(ctx context.Context, batch *store.CloneBatch) error {
	for _, c := range batch.Contexts {
		if err := m.graph.UpsertNode(ctx, &store.GraphNode{
			ID:   c.ID,
			Kind: store.NodeKindContext,
			Properties: map[string]interface{}{
				"project_id": c.ProjectID,
				"name":       c.Name,
			},
		}); err != nil {
			return err
		}
	}

	for _, c := range batch.Contexts {
		if c.ParentID == "" {
			continue
		}
		if err := m.graph.AddEdge(ctx, model.NewRelationship(c.ParentID, c.ID, model.RelationParentOf)); err != nil {
			return fmt.Errorf("parent edge for %s: %w", c.ID, err)
		}
	}

	for _, item := range batch.Items {
		if err := m.graph.AddEdge(ctx, model.NewRelationship(item.ContentID, item.ContextID, model.RelationHasContext)); err != nil {
			return fmt.Errorf("has-context edge for %s: %w", item.ContentID, err)
		}
	}

	return nil
}

func copySettings(settings map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	return cp
}
