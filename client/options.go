package client

import (
	"net/http"

	"github.com/ceyewan/dualpath/breaker"
	"github.com/ceyewan/dualpath/cache"
	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/ratelimit"
)

// Option 请求管道选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	clock      clock.Clock
	store      cache.Store
	gate       ratelimit.Gate
	breaker    breaker.Breaker
	httpClient *http.Client
}

// WithLogger 设置 Logger，内部追加 Namespace "client"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("client")
		}
	}
}

// WithMeter 设置 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithClock 设置时钟，用于请求超时
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCacheStore 启用响应缓存，未设置时不缓存
func WithCacheStore(s cache.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithGate 设置限流闸门，未设置时使用默认配置的闸门
func WithGate(g ratelimit.Gate) Option {
	return func(o *options) {
		o.gate = g
	}
}

// WithBreaker 按传输路径熔断
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithHTTPClient 覆盖 NewHTTPClient 构建的客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
