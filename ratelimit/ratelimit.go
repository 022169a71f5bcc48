// Package ratelimit 是请求管道的限流闸门。
//
// 上游返回 429 后调用 Activate 打开限流窗口，窗口内的调用通过 Enqueue
// 排队并拿到 Future；窗口结束时由单个 goroutine 严格按 FIFO 逐个执行，
// 每个任务之间按 DrainInterval 节流（golang.org/x/time/rate）。
//
// 排队中的任务再次被限流时（返回 Limited 错误）会被放回队首并重新打开窗口，
// 超过 MaxRequeues 次后 Future 以 ErrRateLimited 结束。
//
// 基本使用：
//
//	gate, _ := ratelimit.New(&ratelimit.Config{}, ratelimit.WithClock(clk))
//	if gate.IsBlocked() {
//	    fut := gate.Enqueue(ctx, "/api/quote", func(ctx context.Context) (any, error) {
//	        return doCall(ctx)
//	    })
//	    return fut.Wait(ctx)
//	}
package ratelimit

import (
	"context"
	"time"
)

// Window 限流窗口快照
type Window struct {
	Active  bool      `json:"active"`
	ResetAt time.Time `json:"reset_at"`
}

// Task 排队执行的调用，ctx 为入队时的调用方上下文
type Task func(ctx context.Context) (any, error)

// Gate 限流闸门
type Gate interface {
	// IsBlocked 窗口未结束或仍有排队任务时为 true，新调用应排到队尾
	IsBlocked() bool

	// Activate 打开窗口 resetAfter，已有更晚的结束时间时保持不变
	Activate(resetAfter time.Duration)

	// Enqueue 将任务追加到队尾
	Enqueue(ctx context.Context, name string, task Task) *Future

	// Drain 窗口已结束时启动排空，正在排空时为空操作
	Drain()

	Snapshot() Window
	QueueLen() int

	// Close 停止排空，所有未执行的任务以 ErrGateClosed 结束
	Close() error
}

// New 创建限流闸门
func New(cfg *Config, opts ...Option) (Gate, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newGate(cfg, applyOptions(opts...))
}
