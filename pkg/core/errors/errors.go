// Package errors 定义引擎的通用错误类型
package errors

import (
	"errors"
	"fmt"
)

// 通用错误
var (
	// ErrInvalidInput 输入无效
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrContextCanceled 上下文被取消
	ErrContextCanceled = errors.New("context canceled")
	// ErrNotFound 对象未找到
	ErrNotFound = errors.New("not found")
)

// 输入校验相关错误（同步拒绝，绝不自动重试）
var (
	// ErrInvalidBudget Token 预算无效（必须 > 0）
	ErrInvalidBudget = errors.New("token budget must be positive")
	// ErrScoreOutOfRange 相关性分数超出 [0, 1] 范围
	ErrScoreOutOfRange = errors.New("relevance score out of range [0, 1]")
	// ErrUnsupportedContentType 不支持的内容类型
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// 一致性相关错误（同步拒绝，绝不静默修正）
var (
	// ErrCycleDetected 上下文层级出现环
	ErrCycleDetected = errors.New("cycle detected in context hierarchy")
	// ErrHierarchyTooDeep 层级遍历超出深度上限
	ErrHierarchyTooDeep = errors.New("context hierarchy too deep")
	// ErrDuplicateEdge 重复的图边 (source, target, type)
	ErrDuplicateEdge = errors.New("duplicate edge")
)

// 上游依赖相关错误（仅读路径可有界重试）
var (
	// ErrStoreUnavailable 存储不可用
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTimeout 请求超时
	ErrTimeout = errors.New("request timeout")
)

// WrapError 包装错误并添加上下文信息
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// IsRetryable 判断错误是否可重试
//
// 仅上游不可用类错误可重试，且只适用于读路径；
// 写路径失败由调用方回滚乐观值，绝不盲目重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsInvalidInput 判断错误是否为输入校验错误
func IsInvalidInput(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidBudget) ||
		errors.Is(err, ErrScoreOutOfRange) ||
		errors.Is(err, ErrUnsupportedContentType)
}

// IsConsistencyViolation 判断错误是否为一致性错误
func IsConsistencyViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrHierarchyTooDeep) ||
		errors.Is(err, ErrDuplicateEdge)
}

// IsFatal 判断错误是否为致命错误（不可恢复）
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return IsInvalidInput(err) ||
		IsConsistencyViolation(err) ||
		errors.Is(err, ErrInvalidConfig)
}
