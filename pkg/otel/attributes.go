package otel

import "go.opentelemetry.io/otel/attribute"

// 预定义的语义属性键
// 遵循 OpenTelemetry 语义约定
const (
	// Context 相关属性
	AttrContextID      = "context.id"
	AttrContextProject = "context.project_id"
	AttrContextDepth   = "context.depth"
	AttrContextPolicy  = "context.inheritance_policy"

	// Content 相关属性
	AttrContentID    = "content.id"
	AttrContentType  = "content.type"
	AttrContentCount = "content.count"

	// Plan 相关属性
	AttrPlanBudget         = "plan.token_budget"
	AttrPlanSelectedTokens = "plan.selected_tokens"
	AttrPlanIncludedItems  = "plan.included_items"
	AttrPlanTruncated      = "plan.truncated"

	// Sync 相关属性
	AttrSyncKind      = "sync.kind"
	AttrSyncRelevance = "sync.relevance"

	// Clone 相关属性
	AttrCloneSource   = "clone.source_id"
	AttrCloneContexts = "clone.contexts"
	AttrCloneItems    = "clone.items"
	AttrCloneRecurse  = "clone.recurse"

	// Error 相关属性
	AttrErrorType      = "error.type"
	AttrErrorMessage   = "error.message"
	AttrErrorRetryable = "error.retryable"
)

// ContextID 创建上下文 ID 属性
func ContextID(id string) attribute.KeyValue {
	return attribute.String(AttrContextID, id)
}

// ContentID 创建内容 ID 属性
func ContentID(id string) attribute.KeyValue {
	return attribute.String(AttrContentID, id)
}

// ContentType 创建内容类型属性
func ContentType(typ string) attribute.KeyValue {
	return attribute.String(AttrContentType, typ)
}

// PlanBudget 创建 Token 预算属性
func PlanBudget(budget int) attribute.KeyValue {
	return attribute.Int(AttrPlanBudget, budget)
}

// PlanAttrs 创建优化结果属性
func PlanAttrs(selectedTokens, includedItems int, truncated bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrPlanSelectedTokens, selectedTokens),
		attribute.Int(AttrPlanIncludedItems, includedItems),
		attribute.Bool(AttrPlanTruncated, truncated),
	}
}

// CloneAttrs 创建克隆操作属性
func CloneAttrs(sourceID string, contexts, items int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCloneSource, sourceID),
		attribute.Int(AttrCloneContexts, contexts),
		attribute.Int(AttrCloneItems, items),
	}
}

// ErrorAttrs 创建错误属性
func ErrorAttrs(errType, message string, retryable bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, message),
		attribute.Bool(AttrErrorRetryable, retryable),
	}
}
