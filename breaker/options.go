package breaker

import (
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// Option 组件初始化选项
type Option func(*options)

// SuccessFunc 判断一次执行结果是否计为成功
type SuccessFunc func(err error) bool

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	isSuccess SuccessFunc
}

// WithLogger 设置 Logger，内部追加 Namespace "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
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

// WithSuccessFunc 自定义成功判定，例如把限流、404、调用方取消计为成功，
// 避免这些与路径健康无关的结果触发熔断
func WithSuccessFunc(fn SuccessFunc) Option {
	return func(o *options) {
		o.isSuccess = fn
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		isSuccess: func(err error) bool {
			return err == nil
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
