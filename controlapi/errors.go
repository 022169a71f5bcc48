package controlapi

import "github.com/ceyewan/dualpath/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("controlapi: config is nil")

	// ErrControllerNil 未提供会话
	ErrControllerNil = xerrors.New("controlapi: controller is nil")
)
