// Package breaker 为每条传输路径提供熔断保护。
//
// 熔断键通常是传输模式（direct / proxied）。某条路径的熔断器打开后，
// 该路径上的请求直接以 ErrOpenState 快速失败，请求管道把它当作网络不可达，
// 从而继续驱动传输选择器的失败计数与切换。
//
//	brk, _ := breaker.New(&breaker.Config{Enabled: true}, breaker.WithLogger(logger))
//	v, err := brk.Execute(ctx, "direct", func() (any, error) {
//		return httpClient.Do(req)
//	})
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/xerrors"
)

// Breaker 熔断器
type Breaker interface {
	// Execute 执行受熔断保护的函数，熔断器打开时返回 ErrOpenState
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 获取指定键的熔断器状态，从未使用过的键视为 closed
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
//
//	breaker:
//	  enabled: true
//	  max_requests: 1        # 半开状态允许的探测请求数
//	  interval: 0s           # 闭合状态统计周期，0 表示不清空
//	  timeout: 30s           # 打开状态持续时间
//	  failure_ratio: 0.6
//	  minimum_requests: 10
type Config struct {
	Enabled         bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxRequests     uint32        `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`
	Interval        time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	FailureRatio    float64       `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`
	MinimumRequests uint32        `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
}

func (c *Config) validate() error {
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "breaker: failure_ratio must be in [0,1], got %v", c.FailureRatio)
	}
	if c.Interval < 0 || c.Timeout < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: interval and timeout must not be negative")
	}
	return nil
}

// New 创建熔断器。cfg.Enabled 为 false 时返回直通实现，不做任何拦截。
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if !cfg.Enabled {
		return passthrough{}, nil
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts...)
	o.logger.Info("creating circuit breaker",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("interval", cfg.Interval),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))

	return newBreaker(cfg, o)
}

type passthrough struct{}

func (passthrough) Execute(_ context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}
	return fn()
}

func (passthrough) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}
	return StateClosed, nil
}
