package client

import (
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// CriticalEndpoint 需要结构校验的关键端点
//
// 响应缺少 RequiredKeys 中任意一项时，以 Fallback 加上 "_fallback": true 代替。
type CriticalEndpoint struct {
	Endpoint     string         `mapstructure:"endpoint"`
	RequiredKeys []string       `mapstructure:"required_keys"`
	Fallback     map[string]any `mapstructure:"fallback"`
}

// HTTPConfig 底层 HTTP 客户端参数
type HTTPConfig struct {
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	// HTTP2 在 TLS 连接上协商 HTTP/2
	HTTP2 bool `mapstructure:"http2"`
	// PingTimeout HTTP/2 连接空闲健康检查
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// Config 请求管道配置
//
//	client:
//	  timeout: 10s
//	  user_agent: dualpath/1.0
//	  max_body_bytes: 8388608
//	  http:
//	    http2: true
//	critical:
//	  - endpoint: /api/market-data
//	    required_keys: [timestamp, indices, sectors]
type Config struct {
	Timeout      time.Duration      `mapstructure:"timeout"`
	UserAgent    string             `mapstructure:"user_agent"`
	MaxBodyBytes int64              `mapstructure:"max_body_bytes"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Critical     []CriticalEndpoint `mapstructure:"critical"`
}

// DefaultCritical 默认的关键端点
func DefaultCritical() []CriticalEndpoint {
	return []CriticalEndpoint{{
		Endpoint:     "/api/market-data",
		RequiredKeys: []string{"timestamp", "indices", "sectors"},
	}}
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "dualpath"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 8 << 20
	}
	if c.HTTP.MaxIdleConns == 0 {
		c.HTTP.MaxIdleConns = 100
	}
	if c.HTTP.IdleConnTimeout == 0 {
		c.HTTP.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTP.TLSHandshakeTimeout == 0 {
		c.HTTP.TLSHandshakeTimeout = 10 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Timeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: timeout must not be negative, got %s", c.Timeout)
	}
	if c.MaxBodyBytes < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: max_body_bytes must not be negative, got %d", c.MaxBodyBytes)
	}
	for i, ce := range c.Critical {
		if ce.Endpoint == "" {
			return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: critical[%d].endpoint is required", i)
		}
		if len(ce.RequiredKeys) == 0 {
			return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: critical[%d].required_keys is empty", i)
		}
	}
	return nil
}
