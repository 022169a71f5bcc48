// Package clock 抽象时间源，dualpath 中所有与时间相关的行为（缓存过期、
// 限流窗口、排队节奏、请求超时、周期探测）都通过 Clock 完成，
// 测试时注入 Fake 即可精确控制时间推进。
package clock

import (
	"context"
	"time"
)

// Clock 时间源
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After 在 d 之后向返回的通道发送当前时间
	After(d time.Duration) <-chan time.Time
	// Sleep 阻塞 d，ctx 取消时提前返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
	// AfterFunc 在 d 之后于独立 goroutine 中执行 f
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 可取消的定时器
type Timer interface {
	// Stop 阻止定时器触发，已触发或已停止时返回 false
	Stop() bool
}

type realClock struct{}

// Real 返回基于 time 包的 Clock
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
