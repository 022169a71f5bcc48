package transport

import "github.com/ceyewan/dualpath/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("transport: config is nil")

	// ErrNoProxy 需要代理路径但没有配置代理地址
	ErrNoProxy = xerrors.New("transport: no proxy configured")
)
