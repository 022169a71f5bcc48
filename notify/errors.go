package notify

import "github.com/ceyewan/dualpath/xerrors"

var (
	ErrConfigNil = xerrors.New("notify: config is nil")
	ErrConnNil   = xerrors.New("notify: connection is nil")
)
