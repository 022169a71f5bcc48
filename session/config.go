package session

import (
	"github.com/ceyewan/dualpath/breaker"
	"github.com/ceyewan/dualpath/cache"
	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/notify"
	"github.com/ceyewan/dualpath/ratelimit"
	"github.com/ceyewan/dualpath/trace"
	"github.com/ceyewan/dualpath/transport"
)

// Config 会话的聚合配置，每个字段对应一个组件的配置段
type Config struct {
	Log       clog.Config      `mapstructure:"log"`
	Metrics   metrics.Config   `mapstructure:"metrics"`
	Trace     trace.Config     `mapstructure:"trace"`
	Transport transport.Config `mapstructure:"transport"`
	Client    client.Config    `mapstructure:"client"`
	Cache     cache.Config     `mapstructure:"cache"`
	RateLimit ratelimit.Config `mapstructure:"ratelimit"`
	Breaker   breaker.Config   `mapstructure:"breaker"`
	Monitor   monitor.Config   `mapstructure:"monitor"`
	Notify    notify.Config    `mapstructure:"notify"`
}

// Defaults 返回所有可配置项的默认值，供 config.WithDefaults 注册，
// 注册后的 key 才能被 DUALPATH_ 前缀的环境变量覆盖
func Defaults() map[string]any {
	return map[string]any{
		"log.level":      "info",
		"log.format":     "console",
		"log.output":     "stderr",
		"log.add_source": false,

		"metrics.enabled":      false,
		"metrics.service_name": "dualpath",
		"metrics.port":         0,
		"metrics.path":         "/metrics",
		"metrics.runtime":      false,

		"trace.service_name": "dualpath",
		"trace.endpoint":     "",
		"trace.sampler":      1.0,
		"trace.batcher":      "batch",
		"trace.insecure":     true,

		"transport.direct_url":         "http://localhost:8000",
		"transport.proxy_url":          "",
		"transport.proxy_style":        string(transport.StylePrefix),
		"transport.api_prefix":         "/api",
		"transport.max_failures":       3,
		"transport.auto_switch":        true,
		"transport.revert_every":       10,
		"transport.revert_probability": 0.0,

		"client.timeout":        "10s",
		"client.user_agent":     "dualpath",
		"client.max_body_bytes": 8 << 20,
		"client.http.http2":     true,
		"client.critical": []map[string]any{{
			"endpoint":      "/api/market-data",
			"required_keys": []string{"timestamp", "indices", "sectors"},
		}},

		"cache.driver":         string(cache.DriverMemory),
		"cache.max_age":        "5m",
		"cache.capacity":       10000,
		"cache.serializer":     "json",
		"cache.redis.addr":     "",
		"cache.redis.password": "",
		"cache.redis.db":       0,
		"cache.redis.prefix":   "dualpath:cache:",
		"cache.redis.tracing":  false,

		"ratelimit.default_cooldown": "60s",
		"ratelimit.drain_interval":   "250ms",
		"ratelimit.max_requeues":     1,
		"ratelimit.max_queue":        0,

		"breaker.enabled":          false,
		"breaker.max_requests":     1,
		"breaker.timeout":          "30s",
		"breaker.failure_ratio":    0.6,
		"breaker.minimum_requests": 10,

		"monitor.interval":              "30s",
		"monitor.probe_timeout":         "5s",
		"monitor.proxy_start_grace":     "3s",
		"monitor.health_endpoint":       "/health",
		"monitor.connectivity_endpoint": "/api/connectivity-test",
		"monitor.critical_endpoint":     "/api/market-data",
		"monitor.proxy_start_endpoint":  "/api/start-proxy",

		"notify.enabled":    false,
		"notify.url":        "nats://127.0.0.1:4222",
		"notify.subject":    "dualpath.connectivity",
		"notify.serializer": "json",
	}
}
