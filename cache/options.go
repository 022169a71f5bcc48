package cache

import (
	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// Option 缓存组件选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	clock  clock.Clock
	redis  redis.UniversalClient
}

// WithLogger 注入日志记录器，内部追加 Namespace "cache"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("cache")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithClock 注入时钟，用于判断条目是否过期
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRedisClient 复用已有的 Redis 客户端，设置后忽略 Config.Redis 的连接参数
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
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
