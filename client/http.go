package client

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient 构建请求管道使用的 *http.Client。
//
// 超时由管道按调用控制，这里不设置 http.Client.Timeout。
func NewHTTPClient(cfg HTTPConfig) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}

	if cfg.HTTP2 {
		h2, err := http2.ConfigureTransports(tr)
		if err != nil {
			return nil, err
		}
		if cfg.PingTimeout > 0 {
			h2.ReadIdleTimeout = cfg.PingTimeout * 2
			h2.PingTimeout = cfg.PingTimeout
		}
	}

	return &http.Client{Transport: tr}, nil
}
