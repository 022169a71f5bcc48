package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/transport"
	"github.com/ceyewan/dualpath/xerrors"
)

type subscriber struct {
	id uint64
	fn Listener
}

type monitor struct {
	cfg    *Config
	client client.Client
	sel    transport.Selector
	clock  clock.Clock
	logger clog.Logger

	mu          sync.Mutex
	state       State
	subscribers []subscriber
	nextID      uint64

	// generation 每次 Start/StopPeriodic 递增，旧一代的周期探测结果不会提交
	generation uint64
	timer      clock.Timer
	cancel     context.CancelFunc

	probeStatus   metrics.Gauge
	probeDuration metrics.Histogram
}

func newMonitor(cfg *Config, c client.Client, sel transport.Selector, o *options) (*monitor, error) {
	m := &monitor{
		cfg:    cfg,
		client: c,
		sel:    sel,
		clock:  o.clock,
		logger: o.logger,
	}
	for _, p := range Probes {
		m.state.set(p, ProbeResult{Status: StatusChecking})
	}

	var err error
	if m.probeStatus, err = o.meter.Gauge(MetricProbeStatus, "Probe status, 1 when connected"); err != nil {
		return nil, err
	}
	if m.probeDuration, err = o.meter.Histogram(MetricProbeDuration, "Probe duration in seconds", metrics.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *monitor) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subscribers {
				if s.id == id {
					m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *monitor) CheckAll(ctx context.Context) State {
	return m.checkAll(ctx, 0, false)
}

// checkAll periodic 为 true 时只在 gen 仍是当前代时提交
func (m *monitor) checkAll(ctx context.Context, gen uint64, periodic bool) State {
	prev, ok := m.begin(gen, periodic)
	if !ok {
		return m.State()
	}

	results := make([]ProbeResult, len(Probes))
	var g errgroup.Group
	for i, p := range Probes {
		g.Go(func() error {
			results[i] = m.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	if periodic && gen != m.generation {
		m.restoreLocked(prev)
		m.mu.Unlock()
		m.logger.Debug("periodic check superseded, results discarded")
		return m.State()
	}
	for i, p := range Probes {
		m.state.set(p, results[i])
	}
	snapshot := m.state
	subs := append([]subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	m.notify(snapshot, subs)
	return snapshot
}

// begin 把所有槽位标记为 checking，保留上次的检查时间，返回标记前的状态
func (m *monitor) begin(gen uint64, periodic bool) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if periodic && gen != m.generation {
		return State{}, false
	}
	prev := m.state
	for _, p := range Probes {
		r := m.state.Get(p)
		r.Status = StatusChecking
		m.state.set(p, r)
	}
	return prev, true
}

// restoreLocked 撤销被放弃的一轮留下的 checking 标记，其间已被其他检查提交的槽位不动
func (m *monitor) restoreLocked(prev State) {
	for _, p := range Probes {
		if m.state.Get(p).Status == StatusChecking {
			m.state.set(p, prev.Get(p))
		}
	}
}

func (m *monitor) notify(s State, subs []subscriber) {
	for _, sub := range subs {
		sub.fn(s)
	}
}

func (m *monitor) probe(ctx context.Context, p Probe) ProbeResult {
	start := m.clock.Now()

	var (
		detail any
		err    error
	)
	switch p {
	case ProbeDirect:
		detail, err = m.health(ctx, transport.Direct)
	case ProbeProxy:
		if !m.sel.ProxyConfigured() {
			err = transport.ErrNoProxy
			break
		}
		detail, err = m.health(ctx, transport.Proxied)
	case ProbeEndpoints:
		detail, err = m.endpoints(ctx)
	case ProbeData:
		detail, err = m.data(ctx)
	}

	r := ProbeResult{
		Status:      StatusConnected,
		LastChecked: m.clock.Now(),
		Latency:     m.clock.Since(start),
		Detail:      detail,
	}
	status := 1.0
	if err != nil {
		r.Status = StatusError
		r.Error = err.Error()
		status = 0
		m.logger.DebugContext(ctx, "probe failed", clog.String("probe", string(p)), clog.Error(err))
	}
	m.probeStatus.Set(ctx, status, metrics.L(LabelProbe, string(p)))
	m.probeDuration.Record(ctx, r.Latency.Seconds(), metrics.L(LabelProbe, string(p)))
	return r
}

func (m *monitor) callOptions(extra ...client.CallOption) []client.CallOption {
	return append([]client.CallOption{
		client.NoFailover(),
		client.WithCache(false),
		client.WithTimeout(m.cfg.ProbeTimeout),
	}, extra...)
}

func (m *monitor) health(ctx context.Context, mode transport.Mode) (any, error) {
	resp, err := m.client.Get(ctx, m.cfg.HealthEndpoint, m.callOptions(client.ViaMode(mode))...)
	if err != nil {
		return nil, err
	}
	return decodeDetail(resp.Body), nil
}

func (m *monitor) endpoints(ctx context.Context) (any, error) {
	resp, err := m.client.Get(ctx, m.cfg.ConnectivityEndpoint, m.callOptions()...)
	if err != nil {
		return nil, err
	}
	return decodeDetail(resp.Body), nil
}

func (m *monitor) data(ctx context.Context) (any, error) {
	resp, err := m.client.Get(ctx, m.cfg.CriticalEndpoint, m.callOptions()...)
	if err != nil {
		return nil, err
	}
	if resp.Fallback {
		return nil, ErrFallbackPayload
	}
	return map[string]any{"mode": resp.Mode.String(), "bytes": len(resp.Body)}, nil
}

func decodeDetail(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}

func (m *monitor) StartPeriodic(interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.stopLocked()
	m.generation++
	gen := m.generation
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("periodic connectivity check started", clog.Duration("interval", interval))
	go m.tick(ctx, gen, interval)
}

// tick 执行一次探测后用 AfterFunc 安排下一次，代数变化后不再续排
func (m *monitor) tick(ctx context.Context, gen uint64, interval time.Duration) {
	m.checkAll(ctx, gen, true)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.timer = m.clock.AfterFunc(interval, func() {
		m.tick(ctx, gen, interval)
	})
}

func (m *monitor) StopPeriodic() {
	m.mu.Lock()
	running := m.cancel != nil
	m.stopLocked()
	m.generation++
	m.mu.Unlock()

	if running {
		m.logger.Info("periodic connectivity check stopped")
	}
}

func (m *monitor) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *monitor) RetryAll(ctx context.Context) State {
	m.sel.ResetFailures()
	m.logger.InfoContext(ctx, "retrying all connections")
	return m.CheckAll(ctx)
}

func (m *monitor) RequestProxyStart(ctx context.Context) (State, error) {
	if r := m.probe(ctx, ProbeProxy); r.Status == StatusConnected {
		return m.commit(ProbeProxy, r), nil
	}

	m.logger.InfoContext(ctx, "proxy unreachable, asking backend to start it",
		clog.String("endpoint", m.cfg.ProxyStartEndpoint))
	_, err := m.client.Post(ctx, m.cfg.ProxyStartEndpoint, nil,
		client.ViaMode(transport.Direct), client.NoFailover(), client.WithTimeout(m.cfg.ProbeTimeout))
	if err != nil {
		m.logger.WarnContext(ctx, "proxy start request failed", clog.Error(err))
		return m.State(), xerrors.Wrap(err, "monitor: start proxy")
	}

	if err := m.clock.Sleep(ctx, m.cfg.ProxyStartGrace); err != nil {
		return m.State(), err
	}
	return m.commit(ProbeProxy, m.probe(ctx, ProbeProxy)), nil
}

// commit 替换单个槽位并通知订阅者
func (m *monitor) commit(p Probe, r ProbeResult) State {
	m.mu.Lock()
	m.state.set(p, r)
	snapshot := m.state
	subs := append([]subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	m.notify(snapshot, subs)
	return snapshot
}
