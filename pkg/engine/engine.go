// Package engine 提供上下文优化引擎的统一门面。
//
// 组合层级管理器、选择优化器、相关性模型与同步协调器，
// 对外暴露 Optimize / SetRelevance / SetSelection / CloneContext /
// GetHierarchy 等操作。引擎可被多个调用方并发使用：优化本身
// 是快照上的纯计算，跨调用方的串行化由协调器按键完成。
package engine

import (
	"context"
	stderrors "errors"
	"math"
	"sync"
	"time"

	"github.com/easyops/contextcore-go/pkg/coordinator"
	"github.com/easyops/contextcore-go/pkg/core/config"
	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/hierarchy"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/optimizer"
	"github.com/easyops/contextcore-go/pkg/otel"
	"github.com/easyops/contextcore-go/pkg/relevance"
	"github.com/easyops/contextcore-go/pkg/store"
	"github.com/easyops/contextcore-go/pkg/token"
)

// DefaultRecomputeDelay 同一上下文重算触发的合并窗口
const DefaultRecomputeDelay = 200 * time.Millisecond

// DefaultDistanceDecay 继承条目按祖先距离衰减的默认因子
const DefaultDistanceDecay = 0.9

// Engine 上下文优化引擎
type Engine struct {
	items  store.ItemStore
	graph  store.GraphStore
	hier   *hierarchy.Manager
	rel    *relevance.Model
	opt    *optimizer.Optimizer
	coster *token.Coster
	coord  *coordinator.Coordinator

	tracer  otel.Tracer
	metrics otel.Metrics
	logger  otel.Logger

	policy        hierarchy.InheritancePolicy
	distanceDecay float64
	defaultBudget int
	minRelevance  float64
	rejectUnknown bool

	// 配置节带来的组件参数，在 New 装配默认组件时消费
	tokenModel     string
	maxDepth       int
	debounceWindow time.Duration
	persistTimeout time.Duration

	recomputeDelay  time.Duration
	recomputeMu     sync.Mutex
	recomputeTimers map[string]*time.Timer

	planMu sync.RWMutex
	plans  map[string]*model.TokenBudgetPlan

	events chan coordinator.Event
	pumped sync.WaitGroup
	closed bool
	mu     sync.Mutex

	coordOpts []coordinator.Option
}

// Option 配置 Engine。
type Option func(*Engine)

// WithConfig 按配置节初始化引擎参数。
//
// TokenModel / MaxDepth 只影响 New 装配的默认计价器和层级管理器，
// 通过 WithCoster / WithHierarchyManager 显式注入的组件不受影响；
// DebounceWindow / PersistTimeout 作为协调器的基础选项生效，
// WithCoordinatorOptions 传入的同名选项可覆盖。
func WithConfig(cfg config.EngineConfig) Option {
	return func(e *Engine) {
		e.defaultBudget = cfg.DefaultTokenBudget
		e.minRelevance = cfg.MinRelevance
		e.rejectUnknown = cfg.RejectUnknownTypes
		e.tokenModel = cfg.TokenModel
		e.maxDepth = cfg.MaxDepth
		e.debounceWindow = cfg.DebounceWindow
		e.persistTimeout = cfg.PersistTimeout
		if cfg.RecomputeDelay > 0 {
			e.recomputeDelay = cfg.RecomputeDelay
		}
	}
}

// WithObservability 注入追踪器、指标和日志。
func WithObservability(tracer otel.Tracer, metrics otel.Metrics, logger otel.Logger) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
		if metrics != nil {
			e.metrics = metrics
		}
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithInheritancePolicy 设置候选集的继承策略。
func WithInheritancePolicy(policy hierarchy.InheritancePolicy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithDistanceDecay 设置继承条目的距离衰减因子 (0, 1]。
func WithDistanceDecay(decay float64) Option {
	return func(e *Engine) {
		e.distanceDecay = decay
	}
}

// WithOptimizer 替换选择优化器。
func WithOptimizer(opt *optimizer.Optimizer) Option {
	return func(e *Engine) {
		e.opt = opt
	}
}

// WithCoster 替换 Token 计价器。
func WithCoster(coster *token.Coster) Option {
	return func(e *Engine) {
		e.coster = coster
	}
}

// WithHierarchyManager 替换层级管理器。
func WithHierarchyManager(m *hierarchy.Manager) Option {
	return func(e *Engine) {
		e.hier = m
	}
}

// WithCoordinatorOptions 透传同步协调器的选项。
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(e *Engine) {
		e.coordOpts = append(e.coordOpts, opts...)
	}
}

// New 创建上下文优化引擎
func New(items store.ItemStore, graph store.GraphStore, opts ...Option) *Engine {
	e := &Engine{
		items:           items,
		graph:           graph,
		tracer:          otel.GetTracer(),
		metrics:         otel.GetMetrics(),
		logger:          otel.GetLogger(),
		policy:          hierarchy.PolicyIncludeAncestors,
		distanceDecay:   DefaultDistanceDecay,
		defaultBudget:   8192,
		recomputeDelay:  DefaultRecomputeDelay,
		recomputeTimers: make(map[string]*time.Timer),
		plans:           make(map[string]*model.TokenBudgetPlan),
		events:          make(chan coordinator.Event, 64),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.hier == nil {
		var hierOpts []hierarchy.ManagerOption
		if e.maxDepth > 0 {
			hierOpts = append(hierOpts, hierarchy.WithMaxDepth(e.maxDepth))
		}
		e.hier = hierarchy.NewManager(items, graph, hierOpts...)
	}
	if e.rel == nil {
		e.rel = relevance.NewModel(items)
	}
	if e.opt == nil {
		e.opt = optimizer.New()
	}
	if e.coster == nil {
		if e.tokenModel != "" {
			if counter, err := token.NewTiktokenCounter(token.WithModel(e.tokenModel)); err == nil {
				e.coster = token.NewCoster(token.WithCounter(counter))
			} else {
				e.logger.Warn("tiktoken counter unavailable, falling back to estimation",
					"model", e.tokenModel,
					"error", err,
				)
			}
		}
		if e.coster == nil {
			e.coster = token.NewCoster()
		}
	}

	coordOpts := []coordinator.Option{
		coordinator.WithLoaders(e.loadConfirmedRelevance, e.loadConfirmedSelection),
	}
	if e.debounceWindow > 0 {
		coordOpts = append(coordOpts, coordinator.WithDebounceWindow(e.debounceWindow))
	}
	if e.persistTimeout > 0 {
		coordOpts = append(coordOpts, coordinator.WithPersistTimeout(e.persistTimeout))
	}
	coordOpts = append(coordOpts, e.coordOpts...)
	e.coord = coordinator.New(e.persistRelevance, e.persistSelection, coordOpts...)

	e.pumped.Add(1)
	go e.pumpEvents()

	return e
}

// Events 返回失败/确认事件通道
//
// 回滚事件通过该通道推送给外部通知层，不提供轮询接口。
func (e *Engine) Events() <-chan coordinator.Event {
	return e.events
}

// LastPlan 返回上下文最近一次的优化计划（无则返回 nil）
func (e *Engine) LastPlan(contextID string) *model.TokenBudgetPlan {
	e.planMu.RLock()
	defer e.planMu.RUnlock()
	return e.plans[contextID]
}

// Close 关闭引擎并等待在途事件处理结束
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.recomputeMu.Lock()
	for id, t := range e.recomputeTimers {
		t.Stop()
		delete(e.recomputeTimers, id)
	}
	e.recomputeMu.Unlock()

	e.coord.Close()
	e.pumped.Wait()
	close(e.events)
}

// Optimize 为上下文计算 Token 预算内的选择计划
//
// 候选集按继承策略从层级管理器取得，继承条目的相关性按
// 祖先距离衰减。计划是快照上的纯计算，不产生副作用。
func (e *Engine) Optimize(ctx context.Context, contextID string, budget int) (*model.TokenBudgetPlan, error) {
	ctx, span := e.tracer.Start(ctx, "engine.optimize",
		otel.WithAttributes(otel.ContextID(contextID), otel.PlanBudget(budget)))
	defer span.End()

	start := time.Now()

	candidates, uncountable, err := e.assembleCandidates(ctx, contextID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otel.StatusError, err.Error())
		return nil, err
	}

	// 阈值解析：上下文设置 > 引擎配置 > 优化器自身设置
	minRel := e.minRelevance
	if c, err := e.items.GetContext(ctx, contextID); err == nil {
		minRel = c.RelevanceThreshold(minRel)
	}

	var plan *model.TokenBudgetPlan
	if minRel > 0 {
		plan, err = e.opt.OptimizeWithThreshold(contextID, candidates, budget, minRel)
	} else {
		plan, err = e.opt.Optimize(contextID, candidates, budget)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otel.StatusError, err.Error())
		return nil, err
	}

	// 不可计数的条目作为计划标注报告，不算错误
	plan.Entries = append(plan.Entries, uncountable...)

	e.planMu.Lock()
	e.plans[contextID] = plan
	e.planMu.Unlock()

	elapsed := float64(time.Since(start).Milliseconds())
	e.metrics.Counter(otel.MetricOptimizerRuns).Add(ctx, 1)
	e.metrics.Histogram(otel.MetricOptimizerRunDuration).Record(ctx, elapsed)
	e.metrics.Histogram(otel.MetricPlanSelectedTokens).Record(ctx, float64(plan.TotalSelectedTokens))
	e.metrics.Histogram(otel.MetricPlanIncludedItems).Record(ctx, float64(len(plan.IncludedIDs())))
	if budget > 0 {
		e.metrics.Histogram(otel.MetricPlanBudgetUtilization).Record(ctx,
			float64(plan.TotalSelectedTokens)/float64(budget))
	}
	if plan.Truncated {
		e.metrics.Counter(otel.MetricOptimizerTruncations).Add(ctx, 1)
	}

	span.SetAttributes(otel.PlanAttrs(plan.TotalSelectedTokens, len(plan.IncludedIDs()), plan.Truncated)...)
	span.SetStatus(otel.StatusOK, "")

	e.logger.WithContext(ctx).Debug("optimized context",
		"context_id", contextID,
		"budget", budget,
		"selected_tokens", plan.TotalSelectedTokens,
		"truncated", plan.Truncated,
	)

	return plan, nil
}

// OptimizeWithDefaults 以上下文自身设置的预算执行优化
//
// 上下文未配置 tokenBudget 时回落到引擎默认预算。
func (e *Engine) OptimizeWithDefaults(ctx context.Context, contextID string) (*model.TokenBudgetPlan, error) {
	c, err := e.items.GetContext(ctx, contextID)
	if err != nil {
		return nil, errors.WrapError(err, "context")
	}
	return e.Optimize(ctx, contextID, c.TokenBudget(e.defaultBudget))
}

// assembleCandidates 组装优化器输入的候选列表
func (e *Engine) assembleCandidates(ctx context.Context, contextID string) ([]optimizer.Candidate, []model.PlanEntry, error) {
	effective, err := e.hier.EffectiveCandidates(ctx, contextID, e.policy)
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]optimizer.Candidate, 0, len(effective))
	var uncountable []model.PlanEntry

	for _, ec := range effective {
		content, err := e.items.GetContentItem(ctx, ec.Item.ContentID)
		if err != nil {
			return nil, nil, errors.WrapError(err, "content item")
		}

		if !content.Type.Valid() {
			if e.rejectUnknown {
				return nil, nil, errors.WrapError(errors.ErrUnsupportedContentType, string(content.Type))
			}
			uncountable = append(uncountable, model.PlanEntry{
				ContentID: content.ID,
				Included:  false,
				Reason:    model.ReasonUncountable,
				Position:  ec.Item.Position,
			})
			continue
		}

		// 继承条目的相关度与选中态记在其所属上下文名下，
		// 必须按 ec.Item.ContextID 查询而非当前上下文
		score, err := e.coord.EffectiveRelevance(ctx, ec.Item.ContextID, content.ID)
		if err != nil {
			return nil, nil, err
		}
		// 继承条目按距离衰减，自有条目 (distance=0) 不受影响
		if ec.Distance > 0 {
			score *= math.Pow(e.distanceDecay, float64(ec.Distance))
		}

		selected, err := e.coord.EffectiveSelection(ctx, ec.Item.ContextID, content.ID)
		if err != nil {
			return nil, nil, err
		}

		candidates = append(candidates, optimizer.Candidate{
			ContentID:      content.ID,
			Tokens:         content.Tokens,
			RelevanceScore: score,
			Position:       ec.Item.Position,
			Pinned:         selected,
		})
	}

	return candidates, uncountable, nil
}

// scheduleRecompute 合并同一上下文的重算触发
//
// 已有待执行的重算时不再排第二个，一次重算覆盖窗口内的
// 全部触发。
func (e *Engine) scheduleRecompute(contextID string) {
	e.recomputeMu.Lock()
	defer e.recomputeMu.Unlock()

	if _, ok := e.recomputeTimers[contextID]; ok {
		return
	}

	e.recomputeTimers[contextID] = time.AfterFunc(e.recomputeDelay, func() {
		e.recomputeMu.Lock()
		delete(e.recomputeTimers, contextID)
		e.recomputeMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := e.OptimizeWithDefaults(ctx, contextID); err != nil {
			e.logger.Warn("recompute failed",
				"context_id", contextID,
				"error", err,
			)
		}
	})
}

// pumpEvents 转发协调器事件并在确认变更后触发重算
func (e *Engine) pumpEvents() {
	defer e.pumped.Done()

	for ev := range e.coord.Events() {
		switch ev.Type {
		case coordinator.EventRelevanceConfirmed, coordinator.EventSelectionConfirmed:
			e.scheduleRecompute(ev.ContextID)
		case coordinator.EventRelevanceUpdateFailed, coordinator.EventSelectionUpdateFailed:
			e.metrics.Counter(otel.MetricSyncRollbacks).Add(context.Background(), 1)
			e.logger.Warn("optimistic update rolled back",
				"context_id", ev.ContextID,
				"content_id", ev.ContentID,
				"error", ev.Err,
			)
		}

		select {
		case e.events <- ev:
		default:
		}
	}
}

// persistRelevance 协调器的相关性持久化回调
func (e *Engine) persistRelevance(ctx context.Context, contextID, contentID string, score float64) error {
	e.metrics.Counter(otel.MetricSyncWrites).Add(ctx, 1)
	return e.rel.SetScore(ctx, contextID, contentID, score)
}

// persistSelection 协调器的选择持久化回调
func (e *Engine) persistSelection(ctx context.Context, contextID, contentID string, selected bool) error {
	e.metrics.Counter(otel.MetricSyncWrites).Add(ctx, 1)

	item, err := e.items.GetContextItem(ctx, contextID, contentID)
	if err != nil {
		return errors.WrapError(err, "context item")
	}

	item.Selected = selected
	item.PendingSelected = nil
	return e.items.PutContextItem(ctx, item)
}

// loadConfirmedRelevance 协调器的确认相关性加载回调
func (e *Engine) loadConfirmedRelevance(ctx context.Context, contextID, contentID string) (float64, error) {
	return e.rel.GetScore(ctx, contextID, contentID)
}

// loadConfirmedSelection 协调器的确认选择加载回调
func (e *Engine) loadConfirmedSelection(ctx context.Context, contextID, contentID string) (bool, error) {
	item, err := e.items.GetContextItem(ctx, contextID, contentID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return item.Selected, nil
}
