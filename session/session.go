// Package session 是 dualpath 的组合根。
//
// Session 显式持有一次运行所需的全部状态：传输选择器、缓存、限流闸门、
// 熔断器、请求管道和连通性监控。没有包级单例，测试可以并存多个互不影响的实例。
//
//	s, err := session.New(&cfg, session.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	resp, err := s.Client().Get(ctx, "/api/market-data")
//	state := s.CheckAllConnectivity(ctx)
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/dualpath/breaker"
	"github.com/ceyewan/dualpath/cache"
	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/ratelimit"
	"github.com/ceyewan/dualpath/transport"
	"github.com/ceyewan/dualpath/xerrors"
)

// CacheInfo 缓存的当前纪元
type CacheInfo struct {
	Instance string `json:"instance"`
	Epoch    uint64 `json:"epoch"`
}

// Status 会话整体状态
type Status struct {
	Transport    transport.Snapshot `json:"transport"`
	RateLimit    ratelimit.Window   `json:"rate_limit"`
	QueueLength  int                `json:"queue_length"`
	Cache        CacheInfo          `json:"cache"`
	Connectivity monitor.State      `json:"connectivity"`
}

// Session 一次运行的全部组件
type Session struct {
	cfg    *Config
	logger clog.Logger
	meter  metrics.Meter
	clock  clock.Clock

	store    cache.Store
	gate     ratelimit.Gate
	selector transport.Selector
	breaker  breaker.Breaker
	client   client.Client
	monitor  monitor.Monitor

	ownsMeter bool
	closeOnce sync.Once
	closeErr  error
}

// New 按配置构建所有组件
func New(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &Session{cfg: cfg, clock: o.clock}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	var err error
	if s.logger = o.logger; s.logger == nil {
		if s.logger, err = clog.New(&cfg.Log); err != nil {
			return nil, xerrors.Wrap(err, "session: create logger")
		}
	}
	if s.meter = o.meter; s.meter == nil {
		if s.meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(s.logger)); err != nil {
			return nil, xerrors.Wrap(err, "session: create meter")
		}
		s.ownsMeter = true
	}

	if err := s.build(o); err != nil {
		_ = s.Close()
		return nil, err
	}

	snap := s.selector.Snapshot()
	s.logger.Info("session ready",
		clog.String("direct_url", cfg.Transport.DirectURL),
		clog.Bool("proxy_configured", snap.ProxyURL != ""),
		clog.String("mode", snap.Mode.String()),
		clog.String("cache_driver", string(cfg.Cache.Driver)),
		clog.Bool("breaker", cfg.Breaker.Enabled))
	return s, nil
}

func (s *Session) build(o *options) error {
	var err error

	cacheOpts := []cache.Option{cache.WithLogger(s.logger), cache.WithMeter(s.meter), cache.WithClock(s.clock)}
	if o.redis != nil {
		cacheOpts = append(cacheOpts, cache.WithRedisClient(o.redis))
	}
	if s.store, err = cache.New(&s.cfg.Cache, cacheOpts...); err != nil {
		return xerrors.Wrap(err, "session: create cache")
	}

	if s.gate, err = ratelimit.New(&s.cfg.RateLimit,
		ratelimit.WithLogger(s.logger), ratelimit.WithMeter(s.meter), ratelimit.WithClock(s.clock)); err != nil {
		return xerrors.Wrap(err, "session: create rate-limit gate")
	}

	if s.selector, err = transport.New(&s.cfg.Transport,
		transport.WithLogger(s.logger), transport.WithMeter(s.meter)); err != nil {
		return xerrors.Wrap(err, "session: create transport selector")
	}

	if s.breaker, err = breaker.New(&s.cfg.Breaker,
		breaker.WithLogger(s.logger), breaker.WithMeter(s.meter), breaker.WithSuccessFunc(client.BreakerSuccess)); err != nil {
		return xerrors.Wrap(err, "session: create breaker")
	}

	clientOpts := []client.Option{
		client.WithLogger(s.logger),
		client.WithMeter(s.meter),
		client.WithClock(s.clock),
		client.WithCacheStore(s.store),
		client.WithGate(s.gate),
		client.WithBreaker(s.breaker),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
	}
	if s.client, err = client.New(&s.cfg.Client, s.selector, clientOpts...); err != nil {
		return xerrors.Wrap(err, "session: create client")
	}

	if s.monitor, err = monitor.New(&s.cfg.Monitor, s.client, s.selector,
		monitor.WithLogger(s.logger), monitor.WithMeter(s.meter), monitor.WithClock(s.clock)); err != nil {
		return xerrors.Wrap(err, "session: create monitor")
	}
	return nil
}

func (s *Session) Client() client.Client { return s.client }
func (s *Session) Monitor() monitor.Monitor { return s.monitor }
func (s *Session) Meter() metrics.Meter { return s.meter }
func (s *Session) Logger() clog.Logger { return s.logger }
func (s *Session) Selector() transport.Selector { return s.selector }

// EnableProxy 启用代理；url 为空时使用配置中的 transport.proxy_url
func (s *Session) EnableProxy(url string) error {
	if url == "" {
		url = s.cfg.Transport.ProxyURL
	}
	if url == "" {
		return transport.ErrNoProxy
	}
	return s.selector.EnableProxy(url)
}

func (s *Session) DisableProxy() {
	s.selector.DisableProxy()
}

func (s *Session) SetAutoSwitch(enabled bool) {
	s.selector.SetAutoSwitch(enabled)
}

func (s *Session) ForceMode(m transport.Mode) error {
	return s.selector.ForceMode(m)
}

// ClearCache 推进缓存纪元，之前的条目全部失效
func (s *Session) ClearCache() {
	s.store.Clear()
}

// ForceRefresh 清空缓存并更换实例标识
func (s *Session) ForceRefresh() {
	s.store.Rotate()
}

func (s *Session) CheckAllConnectivity(ctx context.Context) monitor.State {
	return s.monitor.CheckAll(ctx)
}

func (s *Session) Subscribe(fn monitor.Listener) func() {
	return s.monitor.Subscribe(fn)
}

func (s *Session) RetryConnections(ctx context.Context) monitor.State {
	return s.monitor.RetryAll(ctx)
}

func (s *Session) StartCorsProxy(ctx context.Context) (monitor.State, error) {
	return s.monitor.RequestProxyStart(ctx)
}

func (s *Session) GetState() monitor.State {
	return s.monitor.State()
}

// StartMonitoring 开始周期探测，interval <= 0 时使用 monitor.interval
func (s *Session) StartMonitoring(interval time.Duration) {
	s.monitor.StartPeriodic(interval)
}

func (s *Session) StopMonitoring() {
	s.monitor.StopPeriodic()
}

func (s *Session) Transport() transport.Snapshot {
	return s.selector.Snapshot()
}

// Status 汇总传输、限流、缓存和连通性状态
func (s *Session) Status() Status {
	return Status{
		Transport:    s.selector.Snapshot(),
		RateLimit:    s.gate.Snapshot(),
		QueueLength:  s.gate.QueueLen(),
		Cache:        CacheInfo{Instance: s.store.Instance(), Epoch: s.store.Epoch()},
		Connectivity: s.monitor.State(),
	}
}

// Close 按依赖的逆序关闭组件，可重复调用
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.monitor != nil {
			s.monitor.StopPeriodic()
		}
		if s.client != nil {
			errs = append(errs, s.client.Close())
		}
		if s.gate != nil {
			errs = append(errs, s.gate.Close())
		}
		if s.store != nil {
			errs = append(errs, s.store.Close())
		}
		if s.ownsMeter && s.meter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			errs = append(errs, s.meter.Shutdown(ctx))
			cancel()
		}
		if s.logger != nil {
			s.logger.Flush()
		}
		s.closeErr = xerrors.Combine(errs...)
	})
	return s.closeErr
}
