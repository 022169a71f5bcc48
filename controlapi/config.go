package controlapi

import (
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// Config 控制面 HTTP 服务配置
type Config struct {
	// Addr 监听地址，为空时不启动控制面
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// ServiceName 用于链路追踪和 HTTP 指标的服务名
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// MetricsPath 挂载 Meter.Handler 的路径，为空时不挂载
	MetricsPath string `json:"metrics_path" yaml:"metrics_path" mapstructure:"metrics_path"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "dualpath"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// 代理启动要等待宽限期再复测，写超时需要留足余量
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "controlapi: addr is required")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "controlapi: timeouts must be non-negative")
	}
	return nil
}
