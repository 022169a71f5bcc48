package ratelimit

import (
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// Config 限流闸门配置
//
//	ratelimit:
//	  default_cooldown: 60s   # 上游未给出重试时间时的窗口长度
//	  drain_interval: 250ms   # 排空时相邻任务的最小间隔
//	  max_requeues: 1         # 排队任务再次被限流后最多放回队首的次数
//	  max_queue: 1000         # 0 表示不限制
type Config struct {
	DefaultCooldown time.Duration `mapstructure:"default_cooldown"`
	DrainInterval   time.Duration `mapstructure:"drain_interval"`
	// MaxRequeues 为 nil 时取 1，显式设为 0 表示不重新排队
	MaxRequeues     *int          `mapstructure:"max_requeues"`
	MaxQueue        int           `mapstructure:"max_queue"`
}

func (c *Config) setDefaults() {
	if c.DefaultCooldown == 0 {
		c.DefaultCooldown = 60 * time.Second
	}
	if c.DrainInterval == 0 {
		c.DrainInterval = 250 * time.Millisecond
	}
	if c.MaxRequeues == nil {
		n := 1
		c.MaxRequeues = &n
	}
}

func (c *Config) validate() error {
	if c.DefaultCooldown < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: default_cooldown must not be negative, got %s", c.DefaultCooldown)
	}
	if c.DrainInterval < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: drain_interval must not be negative, got %s", c.DrainInterval)
	}
	if *c.MaxRequeues < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: max_requeues must not be negative, got %d", *c.MaxRequeues)
	}
	if c.MaxQueue < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: max_queue must not be negative, got %d", c.MaxQueue)
	}
	return nil
}
