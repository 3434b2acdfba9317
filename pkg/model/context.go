package model

import (
	"time"

	"github.com/google/uuid"
)

// 设置键（引擎只解释这两个键，其余透传）
const (
	// SettingTokenBudget 默认 Token 预算
	SettingTokenBudget = "tokenBudget"
	// SettingRelevanceThreshold 默认相关性阈值
	SettingRelevanceThreshold = "relevanceThreshold"
)

// Context 上下文
//
// 有名称的层级化内容分组，用于圈定一次对话的范围。
// 一个上下文至多有一个父上下文，层级禁止成环。
type Context struct {
	// ID 唯一标识
	ID string `json:"id"`
	// ProjectID 所属项目
	ProjectID string `json:"project_id"`
	// Name 名称
	Name string `json:"name"`
	// ParentID 父上下文 ID（空表示根）
	ParentID string `json:"parent_id,omitempty"`
	// IsActive 是否激活
	IsActive bool `json:"is_active"`
	// Settings 不透明的键值设置包
	Settings map[string]interface{} `json:"settings,omitempty"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// ContextOption 配置选项
type ContextOption func(*Context)

// WithContextID 指定上下文 ID（默认自动生成）
func WithContextID(id string) ContextOption {
	return func(c *Context) {
		c.ID = id
	}
}

// WithParent 指定父上下文
func WithParent(parentID string) ContextOption {
	return func(c *Context) {
		c.ParentID = parentID
	}
}

// WithSettings 指定设置包
func WithSettings(settings map[string]interface{}) ContextOption {
	return func(c *Context) {
		c.Settings = settings
	}
}

// NewContext 创建新的上下文
func NewContext(projectID, name string, opts ...ContextOption) *Context {
	now := time.Now()
	c := &Context{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		IsActive:  true,
		Settings:  make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TokenBudget 从设置中读取默认 Token 预算，未设置返回 fallback
func (c *Context) TokenBudget(fallback int) int {
	if v, ok := c.Settings[SettingTokenBudget]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return fallback
}

// RelevanceThreshold 从设置中读取默认相关性阈值，未设置返回 fallback
func (c *Context) RelevanceThreshold(fallback float64) float64 {
	if v, ok := c.Settings[SettingRelevanceThreshold]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int:
			return float64(f)
		}
	}
	return fallback
}

// ContextItem 上下文条目（联接实体）
//
// 内容条目挂接到某个上下文后的单元，优化器以它为操作对象。
// (ContextID, ContentID) 唯一；移除是硬删除而非墓碑。
type ContextItem struct {
	// ContextID 上下文 ID
	ContextID string `json:"context_id"`
	// ContentID 内容 ID
	ContentID string `json:"content_id"`
	// RelevanceScore 相关性分数 [0, 1]，默认 0.5
	RelevanceScore float64 `json:"relevance_score"`
	// Position 手动排序位（稳定平局裁决）
	Position int `json:"position"`
	// Selected 最近一次服务端确认的选择状态
	Selected bool `json:"selected"`
	// PendingSelected 等待确认的乐观选择值（nil 表示无挂起）
	PendingSelected *bool `json:"pending_selected,omitempty"`
	// AttachedAt 挂接时间
	AttachedAt time.Time `json:"attached_at"`
}

// DefaultRelevanceScore 未显式设置时的相关性分数
const DefaultRelevanceScore = 0.5

// NewContextItem 创建新的上下文条目
func NewContextItem(contextID, contentID string, position int) *ContextItem {
	return &ContextItem{
		ContextID:      contextID,
		ContentID:      contentID,
		RelevanceScore: DefaultRelevanceScore,
		Position:       position,
		AttachedAt:     time.Now(),
	}
}

// EffectiveSelected 返回生效的选择状态（挂起值优先）
func (ci *ContextItem) EffectiveSelected() bool {
	if ci.PendingSelected != nil {
		return *ci.PendingSelected
	}
	return ci.Selected
}

// Clone 复制条目到新上下文，选择状态重置为默认值
func (ci *ContextItem) Clone(newContextID, newContentID string) *ContextItem {
	return &ContextItem{
		ContextID:      newContextID,
		ContentID:      newContentID,
		RelevanceScore: ci.RelevanceScore,
		Position:       ci.Position,
		Selected:       false,
		AttachedAt:     time.Now(),
	}
}

// ContextTree 项目的上下文层级树
type ContextTree struct {
	// Context 节点本体
	Context *Context `json:"context"`
	// Children 子节点（按名称排序，保证输出确定）
	Children []*ContextTree `json:"children,omitempty"`
}
