package testkit

import (
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// 模拟后端的默认响应
const (
	HealthBody       = `{"status":"healthy"}`
	ConnectivityBody = `{"backend":"ok","routes":3}`
	MarketDataBody   = `{"timestamp":1,"indices":[],"sectors":[]}`
	StocksBody       = `{"stocks":["AAPL","MSFT"]}`
)

type failure struct {
	status int
	header http.Header
	body   string
}

// Backend 模拟行情后端，统计每个路径的命中次数，可按路径注入失败
type Backend struct {
	*httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	failures map[string]failure

	marketData   atomic.Value
	proxyStarted atomic.Bool
}

// NewBackend 启动后端，路由：
//
//	GET  /health
//	GET  /api/connectivity-test
//	GET  /api/market-data
//	GET  /api/stocks
//	POST /api/start-proxy
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		hits:     make(map[string]int),
		failures: make(map[string]failure),
	}
	b.marketData.Store(MarketDataBody)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.static(HealthBody))
	mux.HandleFunc("/api/connectivity-test", b.static(ConnectivityBody))
	mux.HandleFunc("/api/stocks", b.static(StocksBody))
	mux.HandleFunc("/api/market-data", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, b.marketData.Load().(string))
	})
	mux.HandleFunc("/api/start-proxy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b.proxyStarted.Store(true)
		writeJSON(w, `{"started":true}`)
	})

	b.Server = httptest.NewServer(b.intercept(mux))
	t.Cleanup(b.Close)
	return b
}

func (b *Backend) static(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, body)
	}
}

// intercept 计数并在注入了失败的路径上短路
func (b *Backend) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.URL.Path]++
		f, failing := b.failures[r.URL.Path]
		b.mu.Unlock()

		if failing {
			for k, vs := range f.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Hits 路径被请求的次数
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// Fail 之后对 path 的请求都返回 status，直到 Recover
func (b *Backend) Fail(path string, status int, header http.Header, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = failure{status: status, header: header, body: body}
}

// Recover 撤销 path 上注入的失败
func (b *Backend) Recover(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, path)
}

// SetMarketData 替换 /api/market-data 的响应体
func (b *Backend) SetMarketData(body string) {
	b.marketData.Store(body)
}

// ProxyStarted 是否收到过启动代理的请求
func (b *Backend) ProxyStarted() bool {
	return b.proxyStarted.Load()
}

// ResetProxyStarted 清除启动标记
func (b *Backend) ResetProxyStarted() {
	b.proxyStarted.Store(false)
}

// NewRelay 启动 base 风格的代理中继：up 返回 false 时回 502，否则把请求原样转发给 target
func NewRelay(t *testing.T, target string, up func() bool) *httptest.Server {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("invalid relay target %q: %v", target, err)
	}
	rp := httputil.NewSingleHostReverseProxy(u)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up != nil && !up() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rp.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// DeadURL 返回一个已关闭服务器的地址，连接必然被拒绝
func DeadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := strings.TrimRight(srv.URL, "/")
	srv.Close()
	return u
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
