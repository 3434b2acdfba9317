package otel

// 预定义的指标名称
// 遵循 OpenTelemetry 语义约定
const (
	// Optimizer 指标
	MetricOptimizerRuns         = "optimizer.runs"          // 计数器: 优化执行次数
	MetricOptimizerRunDuration  = "optimizer.run.duration"  // 直方图: 优化执行时间(ms)
	MetricOptimizerTruncations  = "optimizer.truncations"   // 计数器: 预算截断次数
	MetricPlanSelectedTokens    = "plan.tokens.selected"    // 直方图: 每次规划选中的 Token 数
	MetricPlanIncludedItems     = "plan.items.included"     // 直方图: 每次规划选中的条目数
	MetricPlanBudgetUtilization = "plan.budget.utilization" // 直方图: 预算利用率 [0, 1]

	// Sync 指标
	MetricSyncUpdates   = "sync.updates"   // 计数器: 乐观更新次数
	MetricSyncCollapsed = "sync.collapsed" // 计数器: 被折叠窗口吸收的更新次数
	MetricSyncWrites    = "sync.writes"    // 计数器: 实际下发的持久化写次数
	MetricSyncRollbacks = "sync.rollbacks" // 计数器: 失败回滚次数

	// Hierarchy 指标
	MetricHierarchyDepth        = "hierarchy.depth"         // 直方图: 遍历深度
	MetricHierarchyCycleRejects = "hierarchy.cycle.rejects" // 计数器: 拒绝的成环重父次数

	// Clone 指标
	MetricCloneOperations = "clone.operations" // 计数器: 克隆操作次数
	MetricCloneContexts   = "clone.contexts"   // 计数器: 克隆产生的上下文数
	MetricCloneItems      = "clone.items"      // 计数器: 克隆产生的条目数

	// Store 指标
	MetricStoreRetries = "store.retries" // 计数器: 读路径重试次数
	MetricStoreErrors  = "store.errors"  // 计数器: 存储错误次数
)

// MetricUnit 指标单位
type MetricUnit string

const (
	UnitNone         MetricUnit = ""
	UnitMilliseconds MetricUnit = "ms"
	UnitSeconds      MetricUnit = "s"
	UnitBytes        MetricUnit = "By"
	UnitCount        MetricUnit = "1"
)

// MetricDescription 指标描述
type MetricDescription struct {
	Name        string
	Description string
	Unit        MetricUnit
	Type        string // counter, histogram, gauge
}

// PredefinedMetrics 预定义指标列表
var PredefinedMetrics = []MetricDescription{
	{MetricOptimizerRuns, "Number of optimization runs", UnitCount, "counter"},
	{MetricOptimizerRunDuration, "Duration of optimization runs", UnitMilliseconds, "histogram"},
	{MetricOptimizerTruncations, "Number of plans truncated by the token budget", UnitCount, "counter"},
	{MetricPlanSelectedTokens, "Tokens selected per plan", UnitCount, "histogram"},
	{MetricPlanIncludedItems, "Items included per plan", UnitCount, "histogram"},
	{MetricPlanBudgetUtilization, "Fraction of the token budget used per plan", UnitNone, "histogram"},

	{MetricSyncUpdates, "Number of optimistic updates applied", UnitCount, "counter"},
	{MetricSyncCollapsed, "Number of updates absorbed by the debounce window", UnitCount, "counter"},
	{MetricSyncWrites, "Number of persistence writes issued", UnitCount, "counter"},
	{MetricSyncRollbacks, "Number of failed updates rolled back", UnitCount, "counter"},

	{MetricHierarchyDepth, "Depth of hierarchy traversals", UnitCount, "histogram"},
	{MetricHierarchyCycleRejects, "Number of reparent attempts rejected as cycles", UnitCount, "counter"},

	{MetricCloneOperations, "Number of clone operations", UnitCount, "counter"},
	{MetricCloneContexts, "Number of contexts produced by clones", UnitCount, "counter"},
	{MetricCloneItems, "Number of items produced by clones", UnitCount, "counter"},

	{MetricStoreRetries, "Number of store read retries", UnitCount, "counter"},
	{MetricStoreErrors, "Number of store errors", UnitCount, "counter"},
}
