// Package model 定义上下文优化引擎的核心数据模型。
//
// 包括内容条目（ContentItem）、上下文（Context）、上下文条目
// （ContextItem）、图关系（Relationship）以及优化结果
// （TokenBudgetPlan）。内容字节本身不属于引擎关心的范围，
// 仅通过 PayloadRef 引用外部存储。
package model

import (
	"time"

	"github.com/google/uuid"
)

// ContentType 内容类型
type ContentType string

const (
	// ContentTypeText 纯文本内容
	ContentTypeText ContentType = "text"
	// ContentTypeCode 代码内容
	ContentTypeCode ContentType = "code"
	// ContentTypeImage 图片内容
	ContentTypeImage ContentType = "image"
	// ContentTypeList 列表内容（渲染为文本后计费）
	ContentTypeList ContentType = "list"
)

// Valid 返回内容类型是否受支持
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeCode, ContentTypeImage, ContentTypeList:
		return true
	default:
		return false
	}
}

// ContentItem 内容条目
//
// 原子内容单元。Token 数在创建/更新时计算一次并缓存，
// 仅当 payload 或内容类型变化时失效。内容按版本保留，
// 不做覆盖写。
type ContentItem struct {
	// ID 唯一标识
	ID string `json:"id"`
	// Type 内容类型
	Type ContentType `json:"type"`
	// Tokens 缓存的 Token 数（非负）
	Tokens int `json:"tokens"`
	// PayloadRef 外部内容存储的不透明引用
	PayloadRef string `json:"payload_ref"`
	// Version 单调递增的版本号，每次内容变更 +1
	Version int `json:"version"`
	// Tags 标签 ID 集合
	Tags []string `json:"tags,omitempty"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentItemOption 配置选项
type ContentItemOption func(*ContentItem)

// WithContentID 指定内容 ID（默认自动生成）
func WithContentID(id string) ContentItemOption {
	return func(c *ContentItem) {
		c.ID = id
	}
}

// WithPayloadRef 指定外部内容引用
func WithPayloadRef(ref string) ContentItemOption {
	return func(c *ContentItem) {
		c.PayloadRef = ref
	}
}

// WithTags 指定标签集合
func WithTags(tags ...string) ContentItemOption {
	return func(c *ContentItem) {
		c.Tags = tags
	}
}

// WithTokens 指定已计算的 Token 数（跳过自动计算）
func WithTokens(tokens int) ContentItemOption {
	return func(c *ContentItem) {
		c.Tokens = tokens
	}
}

// NewContentItem 创建新的内容条目
func NewContentItem(contentType ContentType, opts ...ContentItemOption) *ContentItem {
	now := time.Now()
	item := &ContentItem{
		ID:        uuid.New().String(),
		Type:      contentType,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, opt := range opts {
		opt(item)
	}

	return item
}

// BumpVersion 内容变更后递增版本并刷新 Token 缓存
func (c *ContentItem) BumpVersion(tokens int) {
	c.Version++
	c.Tokens = tokens
	c.UpdatedAt = time.Now()
}

// HasTag 返回是否带有指定标签
func (c *ContentItem) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
