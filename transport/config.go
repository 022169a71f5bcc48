package transport

import (
	"net/url"
	"strings"

	"github.com/ceyewan/dualpath/xerrors"
)

// ProxyStyle 代理地址拼接方式
type ProxyStyle string

const (
	// StylePrefix 中继在路径中携带完整的直连地址：<proxy>/<direct><path>
	StylePrefix ProxyStyle = "prefix"
	// StyleBase 中继本身就是后端的镜像：<proxy><path>
	StyleBase ProxyStyle = "base"
)

// Config 传输选择器配置
//
//	transport:
//	  direct_url: "https://api.example.com"
//	  proxy_url: "https://relay.example.com"
//	  proxy_style: prefix
//	  api_prefix: /api
//	  prefixed_paths: ["/market-data", "/sectors"]
//	  max_failures: 3
//	  auto_switch: true
//	  revert_every: 10
//	  revert_probability: 0   # >0 时改用随机回退
type Config struct {
	DirectURL         string     `mapstructure:"direct_url"`
	ProxyURL          string     `mapstructure:"proxy_url"`
	ProxyStyle        ProxyStyle `mapstructure:"proxy_style"`
	APIPrefix         string     `mapstructure:"api_prefix"`
	PrefixedPaths     []string   `mapstructure:"prefixed_paths"`
	MaxFailures       int        `mapstructure:"max_failures"`
	AutoSwitch        bool       `mapstructure:"auto_switch"`
	RevertEvery       int        `mapstructure:"revert_every"`
	RevertProbability float64    `mapstructure:"revert_probability"`
}

// DefaultConfig 返回默认配置，自动切换开启
func DefaultConfig(directURL string) *Config {
	return &Config{
		DirectURL:   directURL,
		ProxyStyle:  StylePrefix,
		APIPrefix:   "/api",
		MaxFailures: 3,
		AutoSwitch:  true,
		RevertEvery: 10,
	}
}

func (c *Config) setDefaults() {
	if c.ProxyStyle == "" {
		c.ProxyStyle = StylePrefix
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.RevertEvery == 0 {
		c.RevertEvery = 10
	}
	c.DirectURL = strings.TrimRight(c.DirectURL, "/")
	c.ProxyURL = strings.TrimRight(c.ProxyURL, "/")
	c.APIPrefix = strings.TrimRight(c.APIPrefix, "/")
}

func (c *Config) validate() error {
	if c.DirectURL == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "transport: direct_url is required")
	}
	if err := validateBaseURL(c.DirectURL); err != nil {
		return err
	}
	if c.ProxyURL != "" {
		if err := validateBaseURL(c.ProxyURL); err != nil {
			return err
		}
	}
	if c.ProxyStyle != StylePrefix && c.ProxyStyle != StyleBase {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: proxy_style must be prefix or base, got %q", c.ProxyStyle)
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: api_prefix must start with '/', got %q", c.APIPrefix)
	}
	if c.MaxFailures < 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: max_failures must be positive, got %d", c.MaxFailures)
	}
	if c.RevertEvery < 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: revert_every must be positive, got %d", c.RevertEvery)
	}
	if c.RevertProbability < 0 || c.RevertProbability > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: revert_probability must be in [0,1], got %v", c.RevertProbability)
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return xerrors.Wrapf(xerrors.Join(xerrors.ErrInvalidInput, err), "transport: invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: url %q must be http or https", raw)
	}
	if u.Host == "" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: url %q has no host", raw)
	}
	return nil
}
