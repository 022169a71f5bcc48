// Package monitor 周期性探测两条传输路径与后端的健康状况，并把汇总状态推送给订阅者。
//
// 四个探针并发执行，各自只写自己的槽位：
//   - DirectConnection：固定走直连请求健康检查端点
//   - CorsProxy：固定走代理请求健康检查端点
//   - APIEndpoints：按当前模式请求连通性诊断端点
//   - MarketData：请求关键数据端点，管道替换为兜底数据时视为失败
//
// 探针通过 client.ViaMode 固定路径，不修改选择器的模式和失败计数。
//
//	mon, _ := monitor.New(&monitor.Config{}, c, sel, monitor.WithClock(clk))
//	unsubscribe := mon.Subscribe(func(s monitor.State) { render(s) })
//	defer unsubscribe()
//	mon.StartPeriodic(30 * time.Second)
//	defer mon.StopPeriodic()
package monitor

import (
	"context"
	"time"

	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/transport"
)

// Status 探针状态
type Status string

const (
	StatusChecking  Status = "checking"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Probe 探针名称
type Probe string

const (
	ProbeDirect    Probe = "direct_connection"
	ProbeProxy     Probe = "cors_proxy"
	ProbeEndpoints Probe = "api_endpoints"
	ProbeData      Probe = "market_data"
)

// Probes 所有探针，按 State 字段顺序
var Probes = []Probe{ProbeDirect, ProbeProxy, ProbeEndpoints, ProbeData}

// ProbeResult 单个探针的结果，每次探测整体替换
type ProbeResult struct {
	Status      Status        `json:"status" msgpack:"status"`
	LastChecked time.Time     `json:"last_checked" msgpack:"last_checked"`
	Latency     time.Duration `json:"latency" msgpack:"latency"`
	Detail      any           `json:"detail,omitempty" msgpack:"detail,omitempty"`
	Error       string        `json:"error,omitempty" msgpack:"error,omitempty"`
}

// State 汇总状态
type State struct {
	DirectConnection ProbeResult `json:"direct_connection" msgpack:"direct_connection"`
	CorsProxy        ProbeResult `json:"cors_proxy" msgpack:"cors_proxy"`
	APIEndpoints     ProbeResult `json:"api_endpoints" msgpack:"api_endpoints"`
	MarketData       ProbeResult `json:"market_data" msgpack:"market_data"`
}

// Get 按探针名取结果
func (s State) Get(p Probe) ProbeResult {
	switch p {
	case ProbeDirect:
		return s.DirectConnection
	case ProbeProxy:
		return s.CorsProxy
	case ProbeEndpoints:
		return s.APIEndpoints
	default:
		return s.MarketData
	}
}

func (s *State) set(p Probe, r ProbeResult) {
	switch p {
	case ProbeDirect:
		s.DirectConnection = r
	case ProbeProxy:
		s.CorsProxy = r
	case ProbeEndpoints:
		s.APIEndpoints = r
	default:
		s.MarketData = r
	}
}

// Listener 状态订阅者，每次 CheckAll 完成后同步调用
type Listener func(State)

// Monitor 连通性监控
type Monitor interface {
	// CheckAll 并发执行四个探针，提交结果后按订阅顺序通知订阅者
	CheckAll(ctx context.Context) State

	// Subscribe 注册订阅者，返回取消函数
	Subscribe(fn Listener) (unsubscribe func())

	// StartPeriodic 立即探测一次，之后每隔 interval 探测，<=0 时使用配置值
	StartPeriodic(interval time.Duration)

	// StopPeriodic 停止周期探测，进行中的探测结果被丢弃
	StopPeriodic()

	// RetryAll 清零选择器的失败计数后重新探测
	RetryAll(ctx context.Context) State

	// RequestProxyStart 代理不可用时请求后端启动中继，等待宽限期后重新探测代理
	RequestProxyStart(ctx context.Context) (State, error)

	State() State
}

// New 创建监控
func New(cfg *Config, c client.Client, sel transport.Selector, opts ...Option) (Monitor, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if c == nil || sel == nil {
		return nil, ErrDependencyNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newMonitor(cfg, c, sel, applyOptions(opts...))
}
