package model

import "time"

// PlanReason 条目进入/未进入计划的原因
type PlanReason string

const (
	// ReasonPinned 用户钉选，无条件优先纳入
	ReasonPinned PlanReason = "pinned"
	// ReasonRanked 按相关性排名纳入
	ReasonRanked PlanReason = "ranked"
	// ReasonBudgetExceededByPinned 钉选条目总量已超预算，被排除
	ReasonBudgetExceededByPinned PlanReason = "budget_exceeded_by_pinned"
	// ReasonExceedsRemainingBudget 自身 Token 数超过剩余预算，被跳过
	ReasonExceedsRemainingBudget PlanReason = "exceeds_remaining_budget"
	// ReasonBelowMinRelevance 相关性低于阈值，被过滤
	ReasonBelowMinRelevance PlanReason = "below_min_relevance"
	// ReasonUncountable Token 数无法计算（内容类型不受支持），被跳过
	ReasonUncountable PlanReason = "uncountable"
)

// PlanEntry 一次优化中单个候选的裁决
type PlanEntry struct {
	// ContentID 内容 ID
	ContentID string `json:"content_id"`
	// Included 是否纳入
	Included bool `json:"included"`
	// Reason 裁决原因
	Reason PlanReason `json:"reason"`
	// Tokens 条目 Token 数
	Tokens int `json:"tokens"`
	// RelevanceScore 参与排序的相关性分数
	RelevanceScore float64 `json:"relevance_score"`
	// Position 手动排序位
	Position int `json:"position"`
}

// TokenBudgetPlan 一次优化运行的输出
//
// 短暂对象，不持久化。条目顺序即评估顺序：先钉选
// （按 Position 升序），再排名候选（按综合键降序）。
type TokenBudgetPlan struct {
	// ContextID 被优化的上下文
	ContextID string `json:"context_id"`
	// Entries 按评估顺序排列的裁决列表
	Entries []PlanEntry `json:"entries"`
	// TotalSelectedTokens 纳入条目的 Token 总量
	TotalSelectedTokens int `json:"total_selected_tokens"`
	// TotalAvailableTokens 全部候选的 Token 总量
	TotalAvailableTokens int `json:"total_available_tokens"`
	// Truncated 钉选条目超出预算时为 true
	Truncated bool `json:"truncated"`
	// GeneratedAt 生成时间。仅作诊断用途，比较两份计划是否
	// 等价时应忽略该字段
	GeneratedAt time.Time `json:"generated_at"`
}

// IncludedIDs 返回纳入条目的内容 ID（按评估顺序）
func (p *TokenBudgetPlan) IncludedIDs() []string {
	ids := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		if e.Included {
			ids = append(ids, e.ContentID)
		}
	}
	return ids
}

// Entry 按内容 ID 查找裁决，未找到返回 nil
func (p *TokenBudgetPlan) Entry(contentID string) *PlanEntry {
	for i := range p.Entries {
		if p.Entries[i].ContentID == contentID {
			return &p.Entries[i]
		}
	}
	return nil
}
