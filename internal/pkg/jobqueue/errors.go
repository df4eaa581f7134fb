package jobqueue

import (
	"errors"
	"fmt"
)

var (
	ErrNoHandler    = errors.New("jobqueue: no handler registered")
	ErrQueueClosed  = errors.New("jobqueue: queue closed")
	ErrInvalidQueue = errors.New("jobqueue: queue name is required")
)

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string   { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error   { return e.err }
func (e *unrecoverableError) Retryable() bool { return false }

// Unrecoverable 标记一个错误不应重试，任务会立即进入失败状态。
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsRetryable 根据错误链上第一个实现了 Retryable() bool 的错误判断是否可重试；
// 没有任何分类信息的错误视为可重试（例如网络抖动）。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("jobqueue: handler panicked: %v", e.value) }
