package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake 手动推进的时钟，定时器只在 Advance 时按到期顺序触发
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	waiters []*fakeTimer
	changed chan struct{}
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	seq      uint64
	ch       chan time.Time
	fn       func()
}

// NewFake 创建从 start 开始的 Fake 时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, changed: make(chan struct{})}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.schedule(d, ch, nil)
	return ch
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	ch := make(chan time.Time, 1)
	t := f.schedule(d, ch, nil)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.schedule(d, nil, fn)
}

func (f *Fake) schedule(d time.Duration, ch chan time.Time, fn func()) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), seq: f.seq, ch: ch, fn: fn}
	if d <= 0 {
		t.fire(f.now)
		return t
	}
	f.waiters = append(f.waiters, t)
	f.notifyLocked()
	return t
}

// notifyLocked 唤醒 BlockUntil 中的等待者
func (f *Fake) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Advance 推进时间 d，期间到期的定时器按 (deadline, 创建顺序) 依次触发
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		next := f.nextDueLocked(target)
		if next == nil {
			break
		}
		f.removeLocked(next)
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.fire(f.now)
	}
	f.now = target
	f.notifyLocked()
	f.mu.Unlock()
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	if len(f.waiters) == 0 {
		return nil
	}
	sort.SliceStable(f.waiters, func(i, j int) bool {
		a, b := f.waiters[i], f.waiters[j]
		if !a.deadline.Equal(b.deadline) {
			return a.deadline.Before(b.deadline)
		}
		return a.seq < b.seq
	})
	if f.waiters[0].deadline.After(target) {
		return nil
	}
	return f.waiters[0]
}

func (f *Fake) removeLocked(t *fakeTimer) bool {
	for i, w := range f.waiters {
		if w == t {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			f.notifyLocked()
			return true
		}
	}
	return false
}

// Pending 返回尚未触发的定时器数量
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// BlockUntil 阻塞直到至少有 n 个待触发的定时器，或 ctx 结束
func (f *Fake) BlockUntil(ctx context.Context, n int) error {
	for {
		f.mu.Lock()
		if len(f.waiters) >= n {
			f.mu.Unlock()
			return nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// fire 在持有 clock.mu 时调用，回调放到独立 goroutine 避免重入
func (t *fakeTimer) fire(now time.Time) {
	if t.fn != nil {
		go t.fn()
		return
	}
	t.ch <- now
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeLocked(t)
}
