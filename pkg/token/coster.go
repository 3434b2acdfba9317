package token

import (
	"strings"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
)

// Payload 是一次计费所需的内容视图。
//
// 引擎不持有内容字节；摄取层在创建/更新内容时把所需
// 视图传进来，计费结果缓存到 ContentItem 上。
type Payload struct {
	// Text 文本/代码内容
	Text string
	// Width 图片宽度（像素）
	Width int
	// Height 图片高度（像素）
	Height int
	// Items 列表条目（按渲染文本求和）
	Items []string
}

// 图片按最长边分辨率分档取常数
const (
	imageTokensSmall  = 85  // <= 512px
	imageTokensMedium = 170 // <= 1024px
	imageTokensLarge  = 340 // <= 2048px
	imageTokensXLarge = 595 // > 2048px
)

// Coster 按内容类型计算 Token 成本。
type Coster struct {
	counter Counter
}

// CosterOption 配置 Coster。
type CosterOption func(*Coster)

// WithCounter 设置底层文本计数器。
func WithCounter(counter Counter) CosterOption {
	return func(c *Coster) {
		c.counter = counter
	}
}

// NewCoster 创建新的 Coster。
func NewCoster(opts ...CosterOption) *Coster {
	c := &Coster{}

	for _, opt := range opts {
		opt(c)
	}

	if c.counter == nil {
		c.counter = DefaultCounter()
	}

	return c
}

// Cost 返回给定内容类型和 payload 的 Token 成本。
//
// 对同一 payload 幂等。未知内容类型返回
// ErrUnsupportedContentType，由调用方决定跳过还是整体拒绝。
func (c *Coster) Cost(contentType model.ContentType, payload Payload) (int, error) {
	switch contentType {
	case model.ContentTypeText, model.ContentTypeCode:
		return c.counter.Count(payload.Text), nil
	case model.ContentTypeImage:
		return imageCost(payload.Width, payload.Height), nil
	case model.ContentTypeList:
		return c.counter.Count(renderList(payload.Items)), nil
	default:
		return 0, errors.WrapError(errors.ErrUnsupportedContentType, string(contentType))
	}
}

// imageCost 按最长边分辨率分档
func imageCost(width, height int) int {
	longest := width
	if height > longest {
		longest = height
	}

	switch {
	case longest <= 0:
		return imageTokensSmall // 未知分辨率按最小档
	case longest <= 512:
		return imageTokensSmall
	case longest <= 1024:
		return imageTokensMedium
	case longest <= 2048:
		return imageTokensLarge
	default:
		return imageTokensXLarge
	}
}

// renderList 把列表条目渲染为计费文本
func renderList(items []string) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return b.String()
}
