package engine

import (
	"context"
	stderrors "errors"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/hierarchy"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/otel"
	"github.com/easyops/contextcore-go/pkg/store"
	"github.com/easyops/contextcore-go/pkg/token"
)

// SelectionResult 单条目选择更新的结果
//
// Accepted 表示同步校验通过且乐观值已生效；持久化层的
// 后续失败通过 Events 通道回报，不在这里体现。
type SelectionResult struct {
	// ContentID 内容 ID
	ContentID string
	// Accepted 是否通过同步校验
	Accepted bool
	// Err 同步校验失败的原因
	Err error
}

// SetRelevance 乐观更新相关性，返回立即生效的值
func (e *Engine) SetRelevance(ctx context.Context, contextID, contentID string, score float64) (float64, error) {
	if _, err := e.items.GetContextItem(ctx, contextID, contentID); err != nil {
		return 0, errors.WrapError(err, "context item")
	}

	e.metrics.Counter(otel.MetricSyncUpdates).Add(ctx, 1)
	return e.coord.SetRelevance(ctx, contextID, contentID, score)
}

// SetSelection 批量乐观更新选择状态，逐条返回结果
//
// 单条失败不中断整批，调用方按 ContentID 对齐结果。
func (e *Engine) SetSelection(ctx context.Context, contextID string, contentIDs []string, selected bool) ([]SelectionResult, error) {
	if len(contentIDs) == 0 {
		return nil, errors.WrapError(errors.ErrInvalidInput, "empty content id list")
	}

	results := make([]SelectionResult, 0, len(contentIDs))
	for _, contentID := range contentIDs {
		result := SelectionResult{ContentID: contentID}

		if _, err := e.items.GetContextItem(ctx, contextID, contentID); err != nil {
			result.Err = errors.WrapError(err, "context item")
			results = append(results, result)
			continue
		}

		e.metrics.Counter(otel.MetricSyncUpdates).Add(ctx, 1)
		if _, err := e.coord.SetSelection(ctx, contextID, contentID, selected); err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		result.Accepted = true
		results = append(results, result)
	}

	return results, nil
}

// AttachContent 把内容条目挂到上下文并触发重算
func (e *Engine) AttachContent(ctx context.Context, contextID, contentID string, position int) error {
	ctx, span := e.tracer.Start(ctx, "engine.attach_content",
		otel.WithAttributes(otel.ContextID(contextID), otel.ContentID(contentID)))
	defer span.End()

	if _, err := e.items.GetContext(ctx, contextID); err != nil {
		return errors.WrapError(err, "context")
	}
	if _, err := e.items.GetContentItem(ctx, contentID); err != nil {
		return errors.WrapError(err, "content item")
	}
	if _, err := e.items.GetContextItem(ctx, contextID, contentID); err == nil {
		return errors.WrapError(errors.ErrDuplicateEdge, "content already attached")
	} else if !stderrors.Is(err, store.ErrNotFound) {
		return errors.WrapError(err, "context item")
	}

	item := model.NewContextItem(contextID, contentID, position)
	if err := e.items.PutContextItem(ctx, item); err != nil {
		return errors.WrapError(err, "persist context item")
	}

	edge := model.NewRelationship(contentID, contextID, model.RelationHasContext)
	if err := e.graph.AddEdge(ctx, edge); err != nil && !stderrors.Is(err, store.ErrDuplicateEdge) {
		return errors.WrapError(err, "add has-context edge")
	}

	e.scheduleRecompute(contextID)
	return nil
}

// DetachContent 把内容条目从上下文摘除并触发重算
func (e *Engine) DetachContent(ctx context.Context, contextID, contentID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.detach_content",
		otel.WithAttributes(otel.ContextID(contextID), otel.ContentID(contentID)))
	defer span.End()

	if err := e.items.DeleteContextItem(ctx, contextID, contentID); err != nil {
		return errors.WrapError(err, "delete context item")
	}
	if err := e.graph.DeleteEdge(ctx, contentID, contextID, model.RelationHasContext); err != nil &&
		!stderrors.Is(err, store.ErrNotFound) {
		return errors.WrapError(err, "delete has-context edge")
	}

	// 条目消失后丢弃其乐观状态，避免旧值泄漏到后续读
	e.coord.Forget(contextID, contentID)

	e.scheduleRecompute(contextID)
	return nil
}

// IngestContent 创建内容条目并完成 Token 计数
func (e *Engine) IngestContent(ctx context.Context, contentType model.ContentType, payload token.Payload, opts ...model.ContentItemOption) (*model.ContentItem, error) {
	cost, err := e.coster.Cost(contentType, payload)
	if err != nil {
		return nil, err
	}

	item := model.NewContentItem(contentType, opts...)
	item.Tokens = cost

	if err := e.items.PutContentItem(ctx, item); err != nil {
		return nil, errors.WrapError(err, "persist content item")
	}

	if err := e.graph.UpsertNode(ctx, &store.GraphNode{
		ID:   item.ID,
		Kind: store.NodeKindContent,
		Properties: map[string]interface{}{
			"contentType": string(item.Type),
		},
	}); err != nil {
		return nil, errors.WrapError(err, "upsert content node")
	}

	return item, nil
}

// UpdateContentPayload 更新内容负载，重算 Token 成本并递增版本
func (e *Engine) UpdateContentPayload(ctx context.Context, contentID string, payload token.Payload) (*model.ContentItem, error) {
	item, err := e.items.GetContentItem(ctx, contentID)
	if err != nil {
		return nil, errors.WrapError(err, "content item")
	}

	cost, err := e.coster.Cost(item.Type, payload)
	if err != nil {
		return nil, err
	}

	item.BumpVersion(cost)
	if err := e.items.PutContentItem(ctx, item); err != nil {
		return nil, errors.WrapError(err, "persist content item")
	}

	return item, nil
}

// AddRelationship 建立内容间关系
//
// 对称关系（SIMILAR_TO）存成两条有向边；任一方向已存在
// 时整体拒绝为重复边。
func (e *Engine) AddRelationship(ctx context.Context, sourceID, targetID string, relType model.RelationType) error {
	if !relType.Valid() {
		return errors.WrapError(errors.ErrInvalidInput, string(relType))
	}

	rel := model.NewRelationship(sourceID, targetID, relType)
	if err := e.graph.AddEdge(ctx, rel); err != nil {
		return err
	}

	if relType.Symmetric() {
		if err := e.graph.AddEdge(ctx, rel.Reverse()); err != nil {
			if stderrors.Is(err, store.ErrDuplicateEdge) {
				return err
			}
			// 正向边已写入，回滚保持两方向一致
			if delErr := e.graph.DeleteEdge(ctx, sourceID, targetID, relType); delErr != nil {
				return errors.WrapError(err, "add reverse edge (forward edge left dangling)")
			}
			return errors.WrapError(err, "add reverse edge")
		}
	}

	return nil
}

// RelatedContent 按关系类型取相邻内容 ID（升序）
func (e *Engine) RelatedContent(ctx context.Context, contentID string, relType model.RelationType) ([]string, error) {
	if !relType.Valid() {
		return nil, errors.WrapError(errors.ErrInvalidInput, string(relType))
	}
	return e.graph.Neighbors(ctx, contentID, relType, store.DirectionOut)
}

// CreateContext 创建上下文并登记图节点
func (e *Engine) CreateContext(ctx context.Context, c *model.Context) error {
	return e.hier.CreateContext(ctx, c)
}

// SetParent 变更上下文的父节点（成环时拒绝）
func (e *Engine) SetParent(ctx context.Context, contextID, newParentID string) error {
	err := e.hier.SetParent(ctx, contextID, newParentID)
	if err != nil && errors.IsConsistencyViolation(err) {
		e.metrics.Counter(otel.MetricHierarchyCycleRejects).Add(ctx, 1)
	}
	return err
}

// CloneContext 原子克隆上下文，返回新上下文 ID
func (e *Engine) CloneContext(ctx context.Context, sourceID, targetProjectID, newName string, recurse bool) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.clone_context",
		otel.WithAttributes(otel.ContextID(sourceID)))
	defer span.End()

	newID, err := e.hier.Clone(ctx, sourceID, targetProjectID, newName, hierarchy.WithRecurse(recurse))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otel.StatusError, err.Error())
		return "", err
	}

	e.metrics.Counter(otel.MetricCloneOperations).Add(ctx, 1)
	span.SetStatus(otel.StatusOK, "")

	e.logger.WithContext(ctx).Info("cloned context",
		"source_id", sourceID,
		"new_id", newID,
		"recurse", recurse,
	)

	return newID, nil
}

// GetHierarchy 返回项目的上下文树
func (e *Engine) GetHierarchy(ctx context.Context, projectID string) ([]*model.ContextTree, error) {
	return e.hier.GetHierarchy(ctx, projectID)
}
