package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ceyewan/dualpath/xerrors"
)

// Kind 失败分类
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetworkUnreachable 无法建立连接，或该路径的熔断器已打开
	KindNetworkUnreachable
	// KindTimeout 超时未收到响应
	KindTimeout
	// KindRateLimited 上游要求冷却
	KindRateLimited
	// KindNotFound 路径形式不对
	KindNotFound
	// KindServerError 其余非 2xx 响应
	KindServerError
	// KindMalformedPayload 关键端点缺少必需字段，仅用于日志与指标，调用方拿到的是兜底数据
	KindMalformedPayload
	// KindCanceled 调用方取消
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindServerError:
		return "server_error"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	ErrConfigNil          = xerrors.New("client: config is nil")
	ErrSelectorNil        = xerrors.New("client: transport selector is nil")
	ErrNetworkUnreachable = xerrors.New("client: network unreachable")
	ErrTimeout            = xerrors.New("client: timeout")
	ErrRateLimited        = xerrors.New("client: rate limited")
	ErrNotFound           = xerrors.New("client: not found")
	ErrServerError        = xerrors.New("client: server error")
	ErrMalformedPayload   = xerrors.New("client: malformed payload")
	ErrCanceled           = xerrors.New("client: canceled")

	// ErrBodyTooLarge 响应体超过 max_body_bytes，按服务端错误处理且不缓存
	ErrBodyTooLarge = xerrors.New("client: response body too large")
)

var kindSentinels = map[Kind]error{
	KindNetworkUnreachable: ErrNetworkUnreachable,
	KindTimeout:            ErrTimeout,
	KindRateLimited:        ErrRateLimited,
	KindNotFound:           ErrNotFound,
	KindServerError:        ErrServerError,
	KindMalformedPayload:   ErrMalformedPayload,
	KindCanceled:           ErrCanceled,
}

// RequestError 一次逻辑调用的失败
type RequestError struct {
	Kind     Kind
	Method   string
	Endpoint string
	Mode     string
	Status   int
	// RetryAfter 仅 KindRateLimited 有效
	RetryAfter time.Duration
	Cause      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s via %s: %s", e.Method, e.Endpoint, e.Mode, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Is 使 errors.Is(err, ErrTimeout) 等按分类匹配
func (e *RequestError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf 返回错误的分类，非 RequestError 返回 KindUnknown
func KindOf(err error) Kind {
	var re *RequestError
	if xerrors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// countsAsFailure 该分类是否驱动传输选择器的失败计数与换路重试
func (k Kind) countsAsFailure() bool {
	return k == KindNetworkUnreachable || k == KindTimeout || k == KindServerError
}

// classifyNetErr 把 http.Client.Do 的错误归类，ctx 为调用方上下文
func classifyNetErr(ctx context.Context, err error) Kind {
	if ctx.Err() != nil {
		return KindCanceled
	}
	var ne net.Error
	if xerrors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var ue *url.Error
	if xerrors.As(err, &ue) && ue.Timeout() {
		return KindTimeout
	}
	return KindNetworkUnreachable
}
