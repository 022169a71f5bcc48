package controlapi

import (
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// Option 控制面选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	tracing bool
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 设置日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("controlapi")
		}
	}
}

// WithMeter 设置 Meter，用于 HTTP RED 指标和 /metrics 抓取端点
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracing 为每个请求创建服务端 span
func WithTracing() Option {
	return func(o *options) {
		o.tracing = true
	}
}
