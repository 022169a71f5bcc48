package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

type item struct {
	ctx      context.Context
	name     string
	task     Task
	future   *Future
	requeues int
}

type gate struct {
	cfg    *Config
	logger clog.Logger
	clock  clock.Clock

	mu       sync.Mutex
	resetAt  time.Time
	timer    clock.Timer
	queue    []*item
	draining bool
	// inflight 已出队但尚未结束的任务，仍然挡住新来的调用
	inflight bool
	closed   bool

	// pacer 只在排空 goroutine 中使用
	pacer *rate.Limiter

	lifetime context.Context
	cancel   context.CancelFunc

	activations metrics.Counter
	queued      metrics.Counter
	dropped     metrics.Counter
	queueLength metrics.Gauge
}

func newGate(cfg *Config, o *options) (*gate, error) {
	limit := rate.Inf
	if cfg.DrainInterval > 0 {
		limit = rate.Every(cfg.DrainInterval)
	}
	lifetime, cancel := context.WithCancel(context.Background())

	g := &gate{
		cfg:      cfg,
		logger:   o.logger,
		clock:    o.clock,
		pacer:    rate.NewLimiter(limit, 1),
		lifetime: lifetime,
		cancel:   cancel,
	}

	var err error
	if g.activations, err = o.meter.Counter(MetricActivations, "Rate-limit windows opened"); err != nil {
		return nil, err
	}
	if g.queued, err = o.meter.Counter(MetricQueued, "Calls queued behind the rate-limit window"); err != nil {
		return nil, err
	}
	if g.dropped, err = o.meter.Counter(MetricDropped, "Queued calls that were given up"); err != nil {
		return nil, err
	}
	if g.queueLength, err = o.meter.Gauge(MetricQueueLength, "Calls waiting for the rate-limit window"); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gate) IsBlocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.windowActiveLocked() || len(g.queue) > 0 || g.inflight
}

func (g *gate) windowActiveLocked() bool {
	return g.clock.Now().Before(g.resetAt)
}

func (g *gate) Activate(resetAfter time.Duration) {
	if resetAfter <= 0 {
		resetAfter = g.cfg.DefaultCooldown
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	now := g.clock.Now()
	candidate := now.Add(resetAfter)
	if candidate.After(g.resetAt) {
		g.resetAt = candidate
		if g.timer != nil {
			g.timer.Stop()
		}
		g.timer = g.clock.AfterFunc(g.resetAt.Sub(now), g.Drain)
	}
	resetAt := g.resetAt
	g.mu.Unlock()

	g.activations.Inc(context.Background())
	g.logger.Warn("rate limit window activated",
		clog.Duration("reset_after", resetAfter), clog.Time("reset_at", resetAt))
}

func (g *gate) Enqueue(ctx context.Context, name string, task Task) *Future {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFuture(g)
	it := &item{ctx: ctx, name: name, task: task, future: f}
	f.item = it

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		f.resolve(nil, ErrGateClosed)
		return f
	}
	if g.cfg.MaxQueue > 0 && len(g.queue) >= g.cfg.MaxQueue {
		g.mu.Unlock()
		g.dropped.Inc(ctx, metrics.L("reason", "queue_full"))
		f.resolve(nil, ErrQueueFull)
		return f
	}
	g.queue = append(g.queue, it)
	n := len(g.queue)
	start := g.startDrainLocked()
	g.mu.Unlock()

	g.queued.Inc(ctx, metrics.L("kind", "new"))
	g.queueLength.Set(ctx, float64(n))
	g.logger.DebugContext(ctx, "call queued", clog.String("name", name), clog.Int("queue_len", n))

	if start {
		go g.drainLoop()
	}
	return f
}

func (g *gate) Drain() {
	g.mu.Lock()
	start := g.startDrainLocked()
	g.mu.Unlock()
	if start {
		g.drainLoop()
	}
}

// startDrainLocked 窗口已结束、队列非空且没有排空 goroutine 时占用排空权
func (g *gate) startDrainLocked() bool {
	if g.closed || g.draining || len(g.queue) == 0 || g.windowActiveLocked() {
		return false
	}
	g.draining = true
	return true
}

// drainLoop 每次出队前重新检查窗口，窗口重新打开时让出排空权，由定时器再次唤起
func (g *gate) drainLoop() {
	for {
		it, ok := g.next()
		if !ok {
			return
		}

		if err := it.ctx.Err(); err != nil {
			g.settle()
			it.future.resolve(nil, err)
			continue
		}

		if err := g.pace(); err != nil {
			g.pushFront(it)
			g.releaseDrain()
			return
		}

		value, err := it.task(it.ctx)

		var limited *LimitedError
		if errors.As(err, &limited) {
			if it.requeues < *g.cfg.MaxRequeues {
				it.requeues++
				g.pushFront(it)
				g.queued.Inc(it.ctx, metrics.L("kind", "requeue"))
				g.logger.WarnContext(it.ctx, "queued call rate limited again, requeued",
					clog.String("name", it.name), clog.Int("requeues", it.requeues))
				g.Activate(limited.RetryAfter)
				continue
			}
			g.dropped.Inc(it.ctx, metrics.L("reason", "rate_limited"))
			g.logger.WarnContext(it.ctx, "queued call rate limited too many times",
				clog.String("name", it.name), clog.Int("requeues", it.requeues))
		}
		g.settle()
		it.future.resolve(value, err)
	}
}

// next 出队一个任务；窗口仍然有效、队列为空或已关闭时释放排空权
func (g *gate) next() (*item, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || len(g.queue) == 0 || g.windowActiveLocked() {
		g.draining = false
		return nil, false
	}
	it := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	g.inflight = true
	g.queueLength.Set(context.Background(), float64(len(g.queue)))
	return it, true
}

func (g *gate) releaseDrain() {
	g.mu.Lock()
	g.draining = false
	g.mu.Unlock()
}

// settle 出队的任务即将结束
func (g *gate) settle() {
	g.mu.Lock()
	g.inflight = false
	g.mu.Unlock()
}

// pace 按 DrainInterval 节流，时间来自注入的时钟
func (g *gate) pace() error {
	now := g.clock.Now()
	delay := g.pacer.ReserveN(now, 1).DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	return g.clock.Sleep(g.lifetime, delay)
}

func (g *gate) pushFront(it *item) {
	g.mu.Lock()
	g.inflight = false
	if g.closed {
		g.mu.Unlock()
		it.future.resolve(nil, ErrGateClosed)
		return
	}
	g.queue = append([]*item{it}, g.queue...)
	n := len(g.queue)
	g.mu.Unlock()
	g.queueLength.Set(context.Background(), float64(n))
}

// remove 移除尚未出队的任务，成功时返回 true
func (g *gate) remove(target *item) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, it := range g.queue {
		if it == target {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			g.queueLength.Set(context.Background(), float64(len(g.queue)))
			return true
		}
	}
	return false
}

func (g *gate) Snapshot() Window {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Window{Active: g.windowActiveLocked(), ResetAt: g.resetAt}
}

func (g *gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *gate) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
	}
	pending := g.queue
	g.queue = nil
	g.mu.Unlock()

	g.cancel()
	for _, it := range pending {
		it.future.resolve(nil, ErrGateClosed)
	}
	g.queueLength.Set(context.Background(), 0)
	return nil
}
