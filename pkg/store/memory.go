package store

import (
	"context"
	"sort"
	"sync"

	"github.com/easyops/contextcore-go/pkg/model"
)

// MemoryItemStore 内存条目存储
//
// 默认实现，适用于测试与嵌入式场景。所有读操作返回副本，
// 避免调用方与存储共享可变状态。
type MemoryItemStore struct {
	contexts     map[string]*model.Context
	contents     map[string]*model.ContentItem
	contextItems map[string]map[string]*model.ContextItem // contextID -> contentID -> item
	mu           sync.RWMutex
}

// NewMemoryItemStore 创建内存条目存储
func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{
		contexts:     make(map[string]*model.Context),
		contents:     make(map[string]*model.ContentItem),
		contextItems: make(map[string]map[string]*model.ContextItem),
	}
}

// PutContext 存储上下文
func (s *MemoryItemStore) PutContext(ctx context.Context, c *model.Context) error {
	if c == nil || c.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[c.ID] = copyContext(c)
	return nil
}

// GetContext 获取上下文
func (s *MemoryItemStore) GetContext(ctx context.Context, id string) (*model.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContext(c), nil
}

// ListContexts 列出项目下的全部上下文
func (s *MemoryItemStore) ListContexts(ctx context.Context, projectID string) ([]*model.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Context
	for _, c := range s.contexts {
		if c.ProjectID == projectID {
			result = append(result, copyContext(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// DeleteContext 删除上下文及其全部条目
func (s *MemoryItemStore) DeleteContext(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[id]; !ok {
		return ErrNotFound
	}

	delete(s.contexts, id)
	delete(s.contextItems, id)
	return nil
}

// PutContentItem 存储内容条目
func (s *MemoryItemStore) PutContentItem(ctx context.Context, item *model.ContentItem) error {
	if item == nil || item.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.contents[item.ID] = copyContentItem(item)
	return nil
}

// GetContentItem 获取内容条目
func (s *MemoryItemStore) GetContentItem(ctx context.Context, id string) (*model.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.contents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContentItem(item), nil
}

// PutContextItem 存储上下文条目
func (s *MemoryItemStore) PutContextItem(ctx context.Context, item *model.ContextItem) error {
	if item == nil || item.ContextID == "" || item.ContentID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putContextItemLocked(item)
	return nil
}

func (s *MemoryItemStore) putContextItemLocked(item *model.ContextItem) {
	byContent, ok := s.contextItems[item.ContextID]
	if !ok {
		byContent = make(map[string]*model.ContextItem)
		s.contextItems[item.ContextID] = byContent
	}
	byContent[item.ContentID] = copyContextItem(item)
}

// GetContextItem 获取上下文条目
func (s *MemoryItemStore) GetContextItem(ctx context.Context, contextID, contentID string) (*model.ContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byContent, ok := s.contextItems[contextID]; ok {
		if item, ok := byContent[contentID]; ok {
			return copyContextItem(item), nil
		}
	}
	return nil, ErrNotFound
}

// ListContextItems 列出上下文的全部条目
//
// Position 升序、ContentID 升序，保证重复调用的顺序一致。
func (s *MemoryItemStore) ListContextItems(ctx context.Context, contextID string) ([]*model.ContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byContent := s.contextItems[contextID]
	result := make([]*model.ContextItem, 0, len(byContent))
	for _, item := range byContent {
		result = append(result, copyContextItem(item))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Position != result[j].Position {
			return result[i].Position < result[j].Position
		}
		return result[i].ContentID < result[j].ContentID
	})

	return result, nil
}

// DeleteContextItem 硬删除上下文条目
func (s *MemoryItemStore) DeleteContextItem(ctx context.Context, contextID, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byContent, ok := s.contextItems[contextID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byContent[contentID]; !ok {
		return ErrNotFound
	}

	delete(byContent, contentID)
	return nil
}

// ApplyClone 原子落库一次克隆
//
// 先在锁内校验全部产物，再一次性提交；校验失败时不留下
// 任何部分产物。
func (s *MemoryItemStore) ApplyClone(ctx context.Context, batch *CloneBatch) error {
	if batch == nil || len(batch.Contexts) == 0 {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 校验阶段：任何冲突都整体拒绝
	for _, c := range batch.Contexts {
		if c == nil || c.ID == "" {
			return ErrInvalidInput
		}
		if _, exists := s.contexts[c.ID]; exists {
			return ErrInvalidInput
		}
	}
	for _, item := range batch.Items {
		if item == nil || item.ContextID == "" || item.ContentID == "" {
			return ErrInvalidInput
		}
	}

	// 提交阶段
	for _, c := range batch.Contexts {
		s.contexts[c.ID] = copyContext(c)
	}
	for _, item := range batch.Items {
		s.putContextItemLocked(item)
	}

	return nil
}

// Close 关闭存储
func (s *MemoryItemStore) Close() error {
	return nil
}

// MemoryGraphStore 内存图存储
//
// 邻接表实现，默认图后端。所有遍历输出按 ID 排序。
type MemoryGraphStore struct {
	nodes map[string]*GraphNode
	// edges[source][type][target] -> relationship
	edges map[string]map[model.RelationType]map[string]*model.Relationship
	// reverse[target][type][source] -> struct{}
	reverse map[string]map[model.RelationType]map[string]struct{}
	mu      sync.RWMutex
}

// NewMemoryGraphStore 创建内存图存储
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		nodes:   make(map[string]*GraphNode),
		edges:   make(map[string]map[model.RelationType]map[string]*model.Relationship),
		reverse: make(map[string]map[model.RelationType]map[string]struct{}),
	}
}

// UpsertNode 添加/更新节点
func (s *MemoryGraphStore) UpsertNode(ctx context.Context, node *GraphNode) error {
	if node == nil || node.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.ID] = copyNode(node)
	return nil
}

// GetNode 获取节点
func (s *MemoryGraphStore) GetNode(ctx context.Context, id string) (*GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// DeleteNode 删除节点及其所有边
func (s *MemoryGraphStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return ErrNotFound
	}

	delete(s.nodes, id)

	// 出边
	for relType, targets := range s.edges[id] {
		for target := range targets {
			s.dropReverseLocked(target, relType, id)
		}
	}
	delete(s.edges, id)

	// 入边
	for relType, sources := range s.reverse[id] {
		for source := range sources {
			if byType, ok := s.edges[source]; ok {
				if targets, ok := byType[relType]; ok {
					delete(targets, id)
				}
			}
		}
	}
	delete(s.reverse, id)

	return nil
}

// AddEdge 添加边；重复的 (source, target, type) 被拒绝
func (s *MemoryGraphStore) AddEdge(ctx context.Context, edge *model.Relationship) error {
	if edge == nil || edge.SourceID == "" || edge.TargetID == "" || !edge.Type.Valid() {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.edges[edge.SourceID]
	if !ok {
		byType = make(map[model.RelationType]map[string]*model.Relationship)
		s.edges[edge.SourceID] = byType
	}
	targets, ok := byType[edge.Type]
	if !ok {
		targets = make(map[string]*model.Relationship)
		byType[edge.Type] = targets
	}

	if _, exists := targets[edge.TargetID]; exists {
		return ErrDuplicateEdge
	}

	targets[edge.TargetID] = copyRelationship(edge)
	s.addReverseLocked(edge.TargetID, edge.Type, edge.SourceID)
	return nil
}

// DeleteEdge 删除边
func (s *MemoryGraphStore) DeleteEdge(ctx context.Context, sourceID, targetID string, relType model.RelationType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.edges[sourceID]
	if !ok {
		return ErrNotFound
	}
	targets, ok := byType[relType]
	if !ok {
		return ErrNotFound
	}
	if _, ok := targets[targetID]; !ok {
		return ErrNotFound
	}

	delete(targets, targetID)
	s.dropReverseLocked(targetID, relType, sourceID)
	return nil
}

// Neighbors 按边类型和方向取邻居 ID
func (s *MemoryGraphStore) Neighbors(ctx context.Context, id string, relType model.RelationType, dir EdgeDirection) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	switch dir {
	case DirectionOut:
		if byType, ok := s.edges[id]; ok {
			for target := range byType[relType] {
				ids = append(ids, target)
			}
		}
	case DirectionIn:
		if byType, ok := s.reverse[id]; ok {
			for source := range byType[relType] {
				ids = append(ids, source)
			}
		}
	default:
		return nil, ErrInvalidInput
	}

	sort.Strings(ids)
	return ids, nil
}

// Edges 取节点在指定类型下的所有出边
func (s *MemoryGraphStore) Edges(ctx context.Context, sourceID string, relType model.RelationType) ([]*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Relationship
	if byType, ok := s.edges[sourceID]; ok {
		for _, edge := range byType[relType] {
			result = append(result, copyRelationship(edge))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TargetID < result[j].TargetID
	})

	return result, nil
}

// Close 关闭存储
func (s *MemoryGraphStore) Close() error {
	return nil
}

func (s *MemoryGraphStore) addReverseLocked(target string, relType model.RelationType, source string) {
	byType, ok := s.reverse[target]
	if !ok {
		byType = make(map[model.RelationType]map[string]struct{})
		s.reverse[target] = byType
	}
	sources, ok := byType[relType]
	if !ok {
		sources = make(map[string]struct{})
		byType[relType] = sources
	}
	sources[source] = struct{}{}
}

func (s *MemoryGraphStore) dropReverseLocked(target string, relType model.RelationType, source string) {
	if byType, ok := s.reverse[target]; ok {
		if sources, ok := byType[relType]; ok {
			delete(sources, source)
		}
	}
}

// ---- 深拷贝辅助 ----

func copyContext(c *model.Context) *model.Context {
	cp := *c
	if c.Settings != nil {
		cp.Settings = make(map[string]interface{}, len(c.Settings))
		for k, v := range c.Settings {
			cp.Settings[k] = v
		}
	}
	return &cp
}

func copyContentItem(item *model.ContentItem) *model.ContentItem {
	cp := *item
	if item.Tags != nil {
		cp.Tags = append([]string(nil), item.Tags...)
	}
	return &cp
}

func copyContextItem(item *model.ContextItem) *model.ContextItem {
	cp := *item
	if item.PendingSelected != nil {
		pending := *item.PendingSelected
		cp.PendingSelected = &pending
	}
	return &cp
}

func copyNode(node *GraphNode) *GraphNode {
	cp := *node
	if node.Properties != nil {
		cp.Properties = make(map[string]interface{}, len(node.Properties))
		for k, v := range node.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

func copyRelationship(edge *model.Relationship) *model.Relationship {
	cp := *edge
	if edge.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(edge.Metadata))
		for k, v := range edge.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Compile-time interface check
var _ ItemStore = (*MemoryItemStore)(nil)
var _ GraphStore = (*MemoryGraphStore)(nil)
