package cache

import "github.com/ceyewan/dualpath/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("cache: config is nil")

	// ErrUnsupportedDriver 不支持的驱动类型
	ErrUnsupportedDriver = xerrors.New("cache: unsupported driver")
)
