// Package testkit 汇集测试共用的依赖：静默的日志与指标、模拟行情后端、
// 代理中继，以及按环境变量接入的 Redis 和 NATS。
package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包，Ctx 随测试结束取消
func NewKit(t *testing.T) *Kit {
	return &Kit{
		Ctx:    NewContext(t, time.Minute),
		Logger: NewLogger(),
		Meter:  metrics.Discard(),
	}
}

// NewLogger 默认静默；设置 DUALPATH_TEST_VERBOSE 后输出 debug 级别的控制台日志
func NewLogger() clog.Logger {
	if os.Getenv("DUALPATH_TEST_VERBOSE") == "" {
		return clog.Discard()
	}
	cfg := clog.DefaultConfig()
	cfg.Level = "debug"
	logger, err := clog.New(cfg)
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewContext 返回带超时的上下文，测试结束时自动取消
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)，用于隔离 key 前缀和 subject
func NewID() string {
	return uuid.New().String()[0:8]
}
