package session

import "github.com/ceyewan/dualpath/xerrors"

// ErrConfigNil 配置为空
var ErrConfigNil = xerrors.New("session: config is nil")
