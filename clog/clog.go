// Package clog 为 dualpath 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象接口，不暴露底层实现（slog）
//   - 支持层级命名空间，每个组件通过 WithNamespace 派生自己的 Logger
//   - 支持从 Context 中提取 request_id、transport_mode 等字段
//   - 零外部依赖（仅依赖 Go 标准库）
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stdout",
//	})
//	logger.Info("transport switched", clog.String("to", "proxied"))
//
// 组件内部：
//
//	l := logger.WithNamespace("client")
//	l.WarnContext(ctx, "request timed out", clog.Duration("timeout", timeout))
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用 DefaultConfig()。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := applyOptions(opts...)
	return newLogger(config, options)
}

// Must 类似 New，出错时 panic，仅用于初始化阶段
func Must(config *Config, opts ...Option) Logger {
	l, err := New(config, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
