// Package config 为 dualpath 提供统一的配置加载能力，基于 Viper 实现。
//
// 配置优先级：环境变量 > .env > 环境特定配置 (<name>.<env>.yaml) > 基础配置 > 默认值。
// 环境变量以 DUALPATH_ 为前缀，层级用下划线分隔，例如 DUALPATH_TRANSPORT_MAX_FAILURES。
//
// 基本使用：
//
//	loader := config.MustLoad(&config.Config{Paths: []string{"./config"}},
//		config.WithDefaults(session.Defaults()),
//	)
//
//	var cfg session.Config
//	if err := loader.Unmarshal(&cfg); err != nil {
//		panic(err)
//	}
//
//	// 热更新
//	ch, _ := loader.Watch(ctx, "transport.auto_switch")
//	for event := range ch {
//		fmt.Printf("%s = %v\n", event.Key, event.Value)
//	}
package config

import (
	"context"
	"strings"
)

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "dualpath"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	File      string   // 显式指定的配置文件路径，设置后忽略 Name 和 Paths
	FileType  string   // 配置文件类型 (yaml, json, etc.)
	EnvPrefix string   // 环境变量前缀，默认 "DUALPATH"
}

// validate 设置默认值并验证配置
func (c *Config) validate() error {
	if c.Name == "" {
		c.Name = "dualpath"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "DUALPATH"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
	return nil
}

// New 创建配置加载器。
//
// 如果 cfg 为 nil，使用默认配置。
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return newLoader(cfg, applyOptions(opts...)), nil
}

// Load 创建加载器并立即加载配置
func Load(ctx context.Context, cfg *Config, opts ...Option) (Loader, error) {
	l, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// MustLoad 类似 Load，出错时 panic
func MustLoad(cfg *Config, opts ...Option) Loader {
	l, err := Load(context.Background(), cfg, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
