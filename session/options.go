package session

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// Option 会话选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	clock      clock.Clock
	httpClient *http.Client
	redis      redis.UniversalClient
}

// WithLogger 使用已有的 Logger，不再按 Config.Log 创建
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeter 使用已有的 Meter，不再按 Config.Metrics 创建
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithClock 替换所有组件使用的时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithHTTPClient 替换请求管道的 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithRedisClient 为 redis 缓存驱动复用已有连接
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = c
	}
}
