package ratelimit

import (
	"fmt"
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("ratelimit: config is nil")

	// ErrRateLimited 排队任务被反复限流，已放弃
	ErrRateLimited = xerrors.New("ratelimit: rate limited")

	// ErrGateClosed 闸门已关闭
	ErrGateClosed = xerrors.New("ratelimit: gate closed")

	// ErrQueueFull 排队任务数达到 MaxQueue
	ErrQueueFull = xerrors.New("ratelimit: queue full")
)

// LimitedError 任务执行时再次遇到限流，携带上游给出的重试时间
type LimitedError struct {
	RetryAfter time.Duration
	Cause      error
}

// Limited 构造 LimitedError，Task 返回它表示需要重新排队
func Limited(retryAfter time.Duration, cause error) error {
	return &LimitedError{RetryAfter: retryAfter, Cause: cause}
}

func (e *LimitedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *LimitedError) Unwrap() error {
	return e.Cause
}

// Is 使 errors.Is(err, ErrRateLimited) 对所有 LimitedError 成立
func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
