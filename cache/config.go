package cache

import (
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// DriverType 缓存驱动类型
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
)

// DefaultBypassPatterns 实时性要求高、永不缓存的端点片段
var DefaultBypassPatterns = []string{
	"/health",
	"/quote",
	"/live",
	"/realtime",
	"/market-status",
	"/connectivity-test",
}

// Config 缓存配置
//
//	cache:
//	  driver: memory            # memory|redis
//	  max_age: 5m
//	  capacity: 10000
//	  bypass: ["/health", "/quote"]
//	  serializer: msgpack       # 仅 redis 使用
//	  redis:
//	    addr: "localhost:6379"
//	    prefix: "dualpath:cache:"
type Config struct {
	Driver     DriverType    `mapstructure:"driver"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	Capacity   int           `mapstructure:"capacity"`
	Bypass     []string      `mapstructure:"bypass"`
	Serializer string        `mapstructure:"serializer"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig Redis 驱动配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	// Tracing 为 Redis 命令开启 OpenTelemetry 追踪
	Tracing bool `mapstructure:"tracing"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.MaxAge == 0 {
		c.MaxAge = 5 * time.Minute
	}
	if c.Capacity == 0 {
		c.Capacity = 10000
	}
	if c.Bypass == nil {
		c.Bypass = append([]string(nil), DefaultBypassPatterns...)
	}
	if c.Serializer == "" {
		c.Serializer = "json"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "dualpath:cache:"
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverMemory, DriverRedis:
	default:
		return xerrors.Wrapf(ErrUnsupportedDriver, "%q", c.Driver)
	}
	if c.MaxAge < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "cache: max_age must not be negative, got %s", c.MaxAge)
	}
	if c.Capacity < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "cache: capacity must not be negative, got %d", c.Capacity)
	}
	if c.Driver == DriverRedis && c.Redis.Addr == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "cache: redis.addr is required for redis driver")
	}
	return nil
}
