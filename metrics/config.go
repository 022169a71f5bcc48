package metrics

import (
	"fmt"
	"strings"
)

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: "dualpath"
//	  version: "v0.3.0"
//	  port: 9090          # >0 时单独启动抓取服务
//	  path: "/metrics"
//	  runtime: true       # 采集 Go runtime 指标
type Config struct {
	// Enabled 为 false 时 New 返回 Discard()
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Port        int    `mapstructure:"port"`
	Path        string `mapstructure:"path"`
	Runtime     bool   `mapstructure:"runtime"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "dualpath"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with '/': %s", c.Path)
	}
	return nil
}
