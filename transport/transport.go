// Package transport 决定请求走直连还是经由中继代理，并负责地址拼接。
//
// 切换带有迟滞：连续 MaxFailures 次失败后才切换路径，成功会逐步抵消失败计数；
// 处于代理模式且没有失败时，RevertPolicy 决定何时回到直连。
//
//	sel, _ := transport.New(transport.DefaultConfig("https://api.example.com"))
//	sel.EnableProxy("https://relay.example.com")
//	url, _ := sel.Resolve("/market-data")
//	if failed {
//	    sel.ReportFailure()
//	}
package transport

import (
	"fmt"
	"strings"

	"github.com/ceyewan/dualpath/xerrors"
)

// Mode 传输路径
type Mode int

const (
	// Direct 直连后端
	Direct Mode = iota
	// Proxied 经由中继代理
	Proxied
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Proxied:
		return "proxied"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Other 返回另一条路径
func (m Mode) Other() Mode {
	if m == Direct {
		return Proxied
	}
	return Direct
}

// ParseMode 解析 "direct" / "proxied"，"proxy" 视为 "proxied"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return Direct, nil
	case "proxied", "proxy":
		return Proxied, nil
	default:
		return Direct, xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: unknown mode %q", s)
	}
}

// MarshalText 使 Mode 以字符串形式出现在 JSON 中
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Snapshot 选择器状态快照
type Snapshot struct {
	Mode        Mode   `json:"mode"`
	Failures    int    `json:"failures"`
	MaxFailures int    `json:"max_failures"`
	AutoSwitch  bool   `json:"auto_switch"`
	DirectURL   string `json:"direct_url"`
	ProxyURL    string `json:"proxy_url,omitempty"`
	CleanStreak int    `json:"clean_streak"`
}

// Selector 传输路径选择器，并发安全
type Selector interface {
	Mode() Mode

	// Resolve 按当前模式计算端点的完整地址
	Resolve(endpoint string) (string, error)
	// ResolveFor 按指定模式计算地址，不影响当前模式
	ResolveFor(mode Mode, endpoint string) (string, error)
	// Path 返回端点实际使用的路径（已学习的改写或 API 前缀）
	Path(endpoint string) string
	// URLFor 将已经确定的路径拼接到指定模式的基地址上
	URLFor(mode Mode, path string) (string, error)

	// ReportSuccess 记录一次成功，可能触发回到直连
	ReportSuccess()
	// ReportFailure 记录一次失败，达到阈值时切换路径并返回 true
	ReportFailure() bool
	ResetFailures()

	// ForceMode 手动切换模式并清零计数
	ForceMode(m Mode) error
	SetAutoSwitch(enabled bool)
	AutoSwitch() bool

	EnableProxy(proxyURL string) error
	DisableProxy()
	ProxyConfigured() bool

	// Alternate 返回切换 API 前缀后的备选路径，没有配置前缀时 ok 为 false
	Alternate(endpoint string) (path string, ok bool)
	// Learn 记住端点可用的改写路径
	Learn(endpoint, path string)

	Snapshot() Snapshot
}

// New 创建选择器
func New(cfg *Config, opts ...Option) (Selector, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newSelector(cfg, applyOptions(opts...))
}
