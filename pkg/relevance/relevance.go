// Package relevance 维护 (上下文, 内容) 对的相关性分数。
//
// 分数是显式的用户/系统输入，引擎只消费和更新，不做推断。
// 数据层采用最后写入者胜出；高频更新的并发安全由
// coordinator 包负责，不在本包职责内。
package relevance

import (
	"context"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/model"
	"github.com/easyops/contextcore-go/pkg/store"
)

// Model 相关性模型
type Model struct {
	items store.ItemStore
}

// NewModel 创建相关性模型
func NewModel(items store.ItemStore) *Model {
	return &Model{items: items}
}

// GetScore 返回 (contextID, contentID) 的相关性分数
//
// 条目未挂接到上下文时返回默认值 0.5。
func (m *Model) GetScore(ctx context.Context, contextID, contentID string) (float64, error) {
	item, err := m.items.GetContextItem(ctx, contextID, contentID)
	if err != nil {
		if err == store.ErrNotFound {
			return model.DefaultRelevanceScore, nil
		}
		return 0, errors.WrapError(err, "get relevance score")
	}
	return item.RelevanceScore, nil
}

// SetScore 更新相关性分数
//
// score 必须在 [0, 1] 内，否则返回 ErrScoreOutOfRange。
// 最后写入者胜出。
func (m *Model) SetScore(ctx context.Context, contextID, contentID string, score float64) error {
	if score < 0 || score > 1 {
		return errors.ErrScoreOutOfRange
	}

	item, err := m.items.GetContextItem(ctx, contextID, contentID)
	if err != nil {
		return errors.WrapError(err, "set relevance score")
	}

	item.RelevanceScore = score
	if err := m.items.PutContextItem(ctx, item); err != nil {
		return errors.WrapError(err, "persist relevance score")
	}

	return nil
}
