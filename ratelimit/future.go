package ratelimit

import "context"

// Future 排队任务的结果
type Future struct {
	gate  *gate
	item  *item
	done  chan struct{}
	value any
	err   error
}

func newFuture(g *gate) *Future {
	return &Future{gate: g, done: make(chan struct{})}
}

// resolve 只会被调用一次，由持有任务的一方负责
func (f *Future) resolve(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done 任务结束时关闭
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait 等待任务结果。ctx 结束时，尚未出队的任务会被移出队列。
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		if f.gate != nil && f.item != nil && f.gate.remove(f.item) {
			f.resolve(nil, ctx.Err())
		}
		return nil, ctx.Err()
	}
}
