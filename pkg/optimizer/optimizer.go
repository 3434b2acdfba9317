// Package optimizer 实现 Token 预算下的内容选择算法。
//
// 优化器是纯计算：对输入快照的一次求值，无状态、无副作用，
// 可在任意数量的 goroutine 上并发运行。是否/何时把计划中的
// 选择状态落库由 coordinator 决定。
//
// 选择策略：钉选条目按 Position 升序无条件优先占用预算；
// 余下候选按 (相关性降序, Position 升序, ContentID 升序)
// 的复合键排序后贪心纳入。单项超出剩余预算的候选被跳过，
// 但继续向后评估更小的候选（装箱松弛，而非简单前缀截断），
// 以获得更高的相关性利用率。
package optimizer

import (
	"sort"
	"time"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
)

// Candidate 一次优化的候选条目
type Candidate struct {
	// ContentID 内容 ID
	ContentID string
	// Tokens 条目 Token 数
	Tokens int
	// RelevanceScore 相关性分数 [0, 1]
	RelevanceScore float64
	// Position 手动排序位（稳定平局裁决）
	Position int
	// Pinned 用户显式钉选，绕过排名
	Pinned bool
}

// Optimizer 选择优化器
type Optimizer struct {
	minRelevance float64
}

// Option 配置 Optimizer。
type Option func(*Optimizer)

// WithMinRelevance 设置非钉选候选的最低相关性阈值。
// 低于阈值的候选被过滤并标注原因，0 表示不过滤。
func WithMinRelevance(threshold float64) Option {
	return func(o *Optimizer) {
		o.minRelevance = threshold
	}
}

// New 创建选择优化器。
func New(opts ...Option) *Optimizer {
	o := &Optimizer{}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Optimize 在预算内从候选中产出一次 TokenBudgetPlan。
//
// budget <= 0 返回 ErrInvalidBudget。空候选列表产出零纳入的
// 计划，不是错误。对相同输入重复调用产出相同的条目与总量
// （排序稳定、无 map 迭代依赖）；GeneratedAt 记录生成时刻，
// 不在确定性范围内。
func (o *Optimizer) Optimize(contextID string, candidates []Candidate, budget int) (*model.TokenBudgetPlan, error) {
	return o.OptimizeWithThreshold(contextID, candidates, budget, o.minRelevance)
}

// OptimizeWithThreshold 以调用方给定的相关性阈值执行优化，
// 覆盖构造时的 WithMinRelevance 设置。上下文级阈值
// (relevanceThreshold 设置项) 经此入口生效。
func (o *Optimizer) OptimizeWithThreshold(contextID string, candidates []Candidate, budget int, minRelevance float64) (*model.TokenBudgetPlan, error) {
	if budget <= 0 {
		return nil, errors.ErrInvalidBudget
	}

	plan := &model.TokenBudgetPlan{
		ContextID:   contextID,
		Entries:     make([]model.PlanEntry, 0, len(candidates)),
		GeneratedAt: time.Now(),
	}

	for _, c := range candidates {
		plan.TotalAvailableTokens += c.Tokens
	}

	// 1. 分拆钉选与可排名候选
	var pinned, rankable []Candidate
	for _, c := range candidates {
		if c.Pinned {
			pinned = append(pinned, c)
		} else {
			rankable = append(rankable, c)
		}
	}

	// 2. 钉选条目按 Position 升序无条件优先占用预算。
	// 钉选顺序是用户意图，不适用装箱松弛：一旦某条放不下，
	// 其余钉选条目全部排除并上报，整个计划标记 truncated。
	sort.Slice(pinned, func(i, j int) bool {
		if pinned[i].Position != pinned[j].Position {
			return pinned[i].Position < pinned[j].Position
		}
		return pinned[i].ContentID < pinned[j].ContentID
	})

	used := 0
	exceeded := false
	for _, c := range pinned {
		if exceeded || used+c.Tokens > budget {
			exceeded = true
			plan.Truncated = true
			plan.Entries = append(plan.Entries, entry(c, false, model.ReasonBudgetExceededByPinned))
			continue
		}
		used += c.Tokens
		plan.Entries = append(plan.Entries, entry(c, true, model.ReasonPinned))
	}

	// 3. 余下候选按复合键排序：相关性降序，Position 升序，
	// ContentID 升序兜底，保证重复运行输出一致。
	sort.Slice(rankable, func(i, j int) bool {
		if rankable[i].RelevanceScore != rankable[j].RelevanceScore {
			return rankable[i].RelevanceScore > rankable[j].RelevanceScore
		}
		if rankable[i].Position != rankable[j].Position {
			return rankable[i].Position < rankable[j].Position
		}
		return rankable[i].ContentID < rankable[j].ContentID
	})

	// 4. 贪心纳入，单项超预算的候选跳过但继续向后评估
	for _, c := range rankable {
		if minRelevance > 0 && c.RelevanceScore < minRelevance {
			plan.Entries = append(plan.Entries, entry(c, false, model.ReasonBelowMinRelevance))
			continue
		}
		if used+c.Tokens > budget {
			plan.Entries = append(plan.Entries, entry(c, false, model.ReasonExceedsRemainingBudget))
			continue
		}
		used += c.Tokens
		plan.Entries = append(plan.Entries, entry(c, true, model.ReasonRanked))
	}

	plan.TotalSelectedTokens = used
	return plan, nil
}

func entry(c Candidate, included bool, reason model.PlanReason) model.PlanEntry {
	return model.PlanEntry{
		ContentID:      c.ContentID,
		Included:       included,
		Reason:         reason,
		Tokens:         c.Tokens,
		RelevanceScore: c.RelevanceScore,
		Position:       c.Position,
	}
}
