package monitor

import (
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// Config 监控配置
//
//	monitor:
//	  interval: 30s
//	  probe_timeout: 5s
//	  proxy_start_grace: 3s
//	  health_endpoint: /health
//	  connectivity_endpoint: /api/connectivity-test
//	  critical_endpoint: /api/market-data
//	  proxy_start_endpoint: /api/start-proxy
type Config struct {
	Interval             time.Duration `mapstructure:"interval"`
	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"`
	ProxyStartGrace      time.Duration `mapstructure:"proxy_start_grace"`
	HealthEndpoint       string        `mapstructure:"health_endpoint"`
	ConnectivityEndpoint string        `mapstructure:"connectivity_endpoint"`
	CriticalEndpoint     string        `mapstructure:"critical_endpoint"`
	ProxyStartEndpoint   string        `mapstructure:"proxy_start_endpoint"`
}

func (c *Config) setDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProxyStartGrace == 0 {
		c.ProxyStartGrace = 3 * time.Second
	}
	if c.HealthEndpoint == "" {
		c.HealthEndpoint = "/health"
	}
	if c.ConnectivityEndpoint == "" {
		c.ConnectivityEndpoint = "/api/connectivity-test"
	}
	if c.CriticalEndpoint == "" {
		c.CriticalEndpoint = "/api/market-data"
	}
	if c.ProxyStartEndpoint == "" {
		c.ProxyStartEndpoint = "/api/start-proxy"
	}
}

func (c *Config) validate() error {
	if c.Interval < 0 || c.ProbeTimeout < 0 || c.ProxyStartGrace < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "monitor: durations must not be negative")
	}
	return nil
}
