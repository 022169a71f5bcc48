package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/dualpath/clock"
)

var start = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T) (Gate, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(start)
	g, err := New(&Config{DrainInterval: 250 * time.Millisecond}, WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, clk
}

// waitFuture 不断推进时钟直到 Future 完成
func waitFuture(t *testing.T, clk *clock.Fake, f *Future, step time.Duration) (any, error) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		select {
		case <-f.Done():
			return f.Wait(context.Background())
		case <-time.After(5 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("future did not complete")
			}
			clk.Advance(step)
		}
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{MaxRequeues: intPtr(-1)})
	assert.Error(t, err)

	cfg := &Config{}
	g, err := New(cfg)
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, 60*time.Second, cfg.DefaultCooldown)
	assert.Equal(t, 250*time.Millisecond, cfg.DrainInterval)
	require.NotNil(t, cfg.MaxRequeues)
	assert.Equal(t, 1, *cfg.MaxRequeues)
}

func intPtr(v int) *int { return &v }

func TestGate_Activate(t *testing.T) {
	g, clk := newTestGate(t)
	assert.False(t, g.IsBlocked())

	g.Activate(5 * time.Second)
	assert.True(t, g.IsBlocked())
	assert.Equal(t, Window{Active: true, ResetAt: start.Add(5 * time.Second)}, g.Snapshot())

	t.Run("保留较晚的结束时间", func(t *testing.T) {
		g.Activate(time.Second)
		assert.Equal(t, start.Add(5*time.Second), g.Snapshot().ResetAt)
	})

	clk.Advance(5*time.Second - time.Millisecond)
	assert.True(t, g.IsBlocked())
	clk.Advance(time.Millisecond)
	assert.False(t, g.IsBlocked())
	assert.False(t, g.Snapshot().Active)
}

func TestGate_ActivateDefaultCooldown(t *testing.T) {
	g, _ := newTestGate(t)
	g.Activate(0)
	assert.Equal(t, start.Add(60*time.Second), g.Snapshot().ResetAt)
}

func TestGate_DrainFIFO(t *testing.T) {
	g, clk := newTestGate(t)
	g.Activate(5 * time.Second)

	var mu sync.Mutex
	var order []string
	task := func(name string) Task {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	ctx := context.Background()
	futures := []*Future{
		g.Enqueue(ctx, "a", task("a")),
		g.Enqueue(ctx, "b", task("b")),
		g.Enqueue(ctx, "c", task("c")),
	}
	assert.Equal(t, 3, g.QueueLen())

	clk.Advance(5 * time.Second)
	for i, f := range futures {
		v, err := waitFuture(t, clk, f, 250*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}[i], v)
	}

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.False(t, g.IsBlocked())
}

func TestGate_BlockedWhileQueued(t *testing.T) {
	g, clk := newTestGate(t)
	g.Activate(time.Second)

	release := make(chan struct{})
	first := g.Enqueue(context.Background(), "first", func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	second := g.Enqueue(context.Background(), "second", func(context.Context) (any, error) {
		return nil, nil
	})

	clk.Advance(time.Second)
	assert.Eventually(t, func() bool { return g.QueueLen() == 1 }, time.Second, time.Millisecond)
	assert.False(t, g.Snapshot().Active)
	assert.True(t, g.IsBlocked(), "queued work keeps the gate blocked after the window")

	close(release)
	_, err := waitFuture(t, clk, first, 250*time.Millisecond)
	require.NoError(t, err)
	_, err = waitFuture(t, clk, second, 250*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, g.IsBlocked())
}

func TestGate_Requeue(t *testing.T) {
	g, clk := newTestGate(t)
	g.Activate(time.Second)

	var calls atomic.Int32
	f := g.Enqueue(context.Background(), "/api/quote", func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, Limited(2*time.Second, errors.New("429"))
		}
		return "ok", nil
	})

	v, err := waitFuture(t, clk, f, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGate_RequeueExhausted(t *testing.T) {
	g, clk := newTestGate(t)
	g.Activate(time.Second)

	var calls atomic.Int32
	f := g.Enqueue(context.Background(), "/api/quote", func(context.Context) (any, error) {
		calls.Add(1)
		return nil, Limited(time.Second, nil)
	})

	_, err := waitFuture(t, clk, f, 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(2), calls.Load(), "one original attempt plus one requeue")
}

func TestGate_RequeueDisabled(t *testing.T) {
	clk := clock.NewFake(start)
	g, err := New(&Config{DrainInterval: 250 * time.Millisecond, MaxRequeues: intPtr(0)}, WithClock(clk))
	require.NoError(t, err)
	defer g.Close()
	g.Activate(time.Second)

	var calls atomic.Int32
	f := g.Enqueue(context.Background(), "/api/quote", func(context.Context) (any, error) {
		calls.Add(1)
		return nil, Limited(time.Second, nil)
	})

	_, err = waitFuture(t, clk, f, 500*time.Millisecond)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGate_BlockedWhileLastItemRuns(t *testing.T) {
	g, clk := newTestGate(t)
	g.Activate(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	last := g.Enqueue(context.Background(), "last", func(context.Context) (any, error) {
		close(entered)
		<-release
		return nil, nil
	})

	clk.Advance(time.Second)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("queued call was not dispatched")
	}
	assert.Zero(t, g.QueueLen())
	assert.True(t, g.IsBlocked(), "a dispatched call still holds the gate until it finishes")

	close(release)
	_, err := waitFuture(t, clk, last, 250*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, g.IsBlocked())
}

func TestGate_RequeueKeepsFront(t *testing.T) {
	g, clk := newTestGate(t)
	g.Activate(time.Second)

	var mu sync.Mutex
	var order []string
	var limitedOnce atomic.Bool
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	a := g.Enqueue(context.Background(), "a", func(context.Context) (any, error) {
		record("a")
		if limitedOnce.CompareAndSwap(false, true) {
			return nil, Limited(time.Second, nil)
		}
		return nil, nil
	})
	b := g.Enqueue(context.Background(), "b", func(context.Context) (any, error) {
		record("b")
		return nil, nil
	})

	_, err := waitFuture(t, clk, b, 250*time.Millisecond)
	require.NoError(t, err)
	_, err = waitFuture(t, clk, a, 250*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "b"}, order)
}

func TestGate_CancelQueued(t *testing.T) {
	g, _ := newTestGate(t)
	g.Activate(time.Minute)

	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	f := g.Enqueue(ctx, "cancel-me", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.Equal(t, 1, g.QueueLen())

	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.QueueLen())
	assert.False(t, ran.Load())
}

func TestGate_Close(t *testing.T) {
	g, _ := newTestGate(t)
	g.Activate(time.Minute)

	f := g.Enqueue(context.Background(), "pending", func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, g.Close())

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrGateClosed)

	_, err = g.Enqueue(context.Background(), "late", nil).Wait(context.Background())
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.NoError(t, g.Close())
}

func TestGate_QueueFull(t *testing.T) {
	g, err := New(&Config{MaxQueue: 1}, WithClock(clock.NewFake(start)))
	require.NoError(t, err)
	defer g.Close()
	g.Activate(time.Minute)

	noop := func(context.Context) (any, error) { return nil, nil }
	g.Enqueue(context.Background(), "one", noop)
	_, err = g.Enqueue(context.Background(), "two", noop).Wait(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
}
