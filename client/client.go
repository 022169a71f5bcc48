// Package client 是双路径请求管道。
//
// 一次逻辑调用依次经过：
//   - 缓存：幂等且未被绕过的 GET 命中有效条目时直接返回
//   - 限流闸门：窗口期内或仍有排队调用时，排到队尾等待
//   - 传输选择：按当前模式（或调用指定的模式）拼接地址，带超时发起请求
//   - 结果分类：429 打开窗口并透明排队；404 改写路径重试一次；
//     网络错误、超时、其余非 2xx 计入失败，可能换路后重试一次
//   - 成功：抵消失败计数，写入缓存，关键端点做结构校验
//
// 基本使用：
//
//	c, _ := client.New(&client.Config{}, selector,
//	    client.WithCacheStore(store),
//	    client.WithGate(gate),
//	    client.WithLogger(logger),
//	)
//	resp, err := c.Get(ctx, "/api/market-data", client.WithQuery("symbol", "SPY"))
//	if client.KindOf(err) == client.KindTimeout {
//	    // ...
//	}
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/ceyewan/dualpath/transport"
)

// Request 一次逻辑调用
type Request struct {
	Method   string
	Endpoint string
	Body     []byte
	Header   http.Header
	Query    url.Values

	// Timeout 单次网络尝试的超时，0 使用配置值
	Timeout time.Duration
	// Cache 为 false 时跳过缓存，nil 表示默认
	Cache *bool
	// Mode 固定传输路径，不读写选择器状态
	Mode *transport.Mode
	// NoFailover 不计入失败计数，不换路重试
	NoFailover bool
}

// Response 调用结果，Body 为只读
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Mode     transport.Mode
	Endpoint string
	// Path 实际请求的路径，可能经过改写
	Path string
	// Cached 来自缓存
	Cached bool
	// Fallback 关键端点校验失败，Body 为兜底数据
	Fallback bool
}

// JSON 把响应体解码到 v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// CallOption 调用选项
type CallOption func(*Request)

// WithTimeout 设置本次调用的超时
func WithTimeout(d time.Duration) CallOption {
	return func(r *Request) {
		r.Timeout = d
	}
}

// WithCache 显式允许或禁止缓存
func WithCache(enabled bool) CallOption {
	return func(r *Request) {
		r.Cache = &enabled
	}
}

// WithHeader 追加请求头
func WithHeader(key, value string) CallOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Add(key, value)
	}
}

// WithQuery 追加查询参数
func WithQuery(key, value string) CallOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		r.Query.Add(key, value)
	}
}

// ViaMode 固定走指定路径，用于探测
func ViaMode(m transport.Mode) CallOption {
	return func(r *Request) {
		r.Mode = &m
	}
}

// NoFailover 不影响选择器的失败计数，也不换路重试
func NoFailover() CallOption {
	return func(r *Request) {
		r.NoFailover = true
	}
}

// Client 请求管道
type Client interface {
	Execute(ctx context.Context, req *Request) (*Response, error)

	Get(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error)
	Post(ctx context.Context, endpoint string, body []byte, opts ...CallOption) (*Response, error)
	Put(ctx context.Context, endpoint string, body []byte, opts ...CallOption) (*Response, error)
	Delete(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error)

	// Close 释放管道自己创建的限流闸门，外部注入的组件由调用方关闭
	Close() error
}

// New 创建请求管道
func New(cfg *Config, sel transport.Selector, opts ...Option) (Client, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if sel == nil {
		return nil, ErrSelectorNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newPipeline(cfg, sel, applyOptions(opts...))
}
