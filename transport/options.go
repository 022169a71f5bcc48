package transport

import (
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// Option 选择器选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	policy RevertPolicy
}

// WithLogger 设置 Logger，内部追加 Namespace "transport"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("transport")
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

// WithRevertPolicy 覆盖由配置推导出的回退策略
func WithRevertPolicy(p RevertPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
