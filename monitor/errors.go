package monitor

import "github.com/ceyewan/dualpath/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("monitor: config is nil")

	// ErrDependencyNil 缺少请求管道或传输选择器
	ErrDependencyNil = xerrors.New("monitor: client and selector are required")

	// ErrFallbackPayload 关键数据端点返回了兜底数据
	ErrFallbackPayload = xerrors.New("monitor: critical payload replaced by fallback")
)
