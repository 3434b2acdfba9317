package store

import "github.com/easyops/contextcore-go/pkg/core/errors"

// Store errors（与引擎错误分类保持同一哨兵，便于 errors.Is 贯穿）
var (
	// ErrNotFound 未找到
	ErrNotFound = errors.ErrNotFound
	// ErrInvalidInput 无效输入
	ErrInvalidInput = errors.ErrInvalidInput
	// ErrDuplicateEdge 重复的边
	ErrDuplicateEdge = errors.ErrDuplicateEdge
	// ErrUnavailable 存储不可用
	ErrUnavailable = errors.ErrStoreUnavailable
)
