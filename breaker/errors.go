package breaker

import "github.com/ceyewan/dualpath/xerrors"

var (
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrKeyEmpty 未指定传输路径
	ErrKeyEmpty = xerrors.New("breaker: path key is empty")

	// ErrOpenState 该路径的熔断器打开或半开探测名额已满，请求未发出
	ErrOpenState = xerrors.New("breaker: path is open")
)
