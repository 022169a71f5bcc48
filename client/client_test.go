package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/dualpath/breaker"
	"github.com/ceyewan/dualpath/cache"
	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/ratelimit"
	"github.com/ceyewan/dualpath/transport"
)

type result struct {
	resp *Response
	err  error
}

func newSelector(t *testing.T, directURL, proxyURL string) transport.Selector {
	t.Helper()
	cfg := transport.DefaultConfig(directURL)
	cfg.ProxyURL = proxyURL
	cfg.ProxyStyle = transport.StyleBase
	sel, err := transport.New(cfg)
	require.NoError(t, err)
	return sel
}

func newClient(t *testing.T, cfg *Config, sel transport.Selector, opts ...Option) Client {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	c, err := New(cfg, sel, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func countingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func call(fn func() (*Response, error)) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := fn()
		ch <- result{resp: resp, err: err}
	}()
	return ch
}

// await 推进时钟直到结果返回
func await(t *testing.T, clk *clock.Fake, ch <-chan result, step time.Duration) result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case r := <-ch:
			return r
		case <-time.After(5 * time.Millisecond):
			clk.Advance(step)
		}
	}
	t.Fatal("call did not complete")
	return result{}
}

func pending(ch <-chan result) bool {
	select {
	case <-ch:
		return false
	case <-time.After(30 * time.Millisecond):
		return true
	}
}

func TestNew(t *testing.T) {
	sel := newSelector(t, "http://127.0.0.1:1", "")

	_, err := New(nil, sel)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{}, nil)
	assert.ErrorIs(t, err, ErrSelectorNil)

	_, err = New(&Config{Critical: []CriticalEndpoint{{Endpoint: "/api/x"}}}, sel)
	assert.Error(t, err)

	cfg := &Config{}
	c, err := New(cfg, sel)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.NoError(t, c.Close())
}

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`{"price":1}`))
	}))
	defer srv.Close()

	sel := newSelector(t, srv.URL, "")
	c := newClient(t, nil, sel)

	resp, err := c.Get(context.Background(), "quote", WithQuery("symbol", "SPY"), WithHeader("X-Test", "yes"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, transport.Direct, resp.Mode)

	var v map[string]int
	require.NoError(t, resp.JSON(&v))
	assert.Equal(t, 1, v["price"])
}

func TestClient_CacheIdempotent(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, `{"v":1}`)
	store, err := cache.New(&cache.Config{})
	require.NoError(t, err)
	defer store.Close()

	c := newClient(t, nil, newSelector(t, srv.URL, ""), WithCacheStore(store))
	ctx := context.Background()

	first, err := c.Get(ctx, "/sectors")
	require.NoError(t, err)
	second, err := c.Get(ctx, "/sectors")
	require.NoError(t, err)

	assert.EqualValues(t, 1, hits.Load())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Body, second.Body)

	t.Run("调用方关闭缓存", func(t *testing.T) {
		_, err := c.Get(ctx, "/sectors", WithCache(false))
		require.NoError(t, err)
		assert.EqualValues(t, 2, hits.Load())
	})

	t.Run("写请求不走缓存", func(t *testing.T) {
		_, err := c.Post(ctx, "/sectors", []byte(`{}`))
		require.NoError(t, err)
		_, err = c.Post(ctx, "/sectors", []byte(`{}`))
		require.NoError(t, err)
		assert.EqualValues(t, 4, hits.Load())
	})

	t.Run("清空后重新请求", func(t *testing.T) {
		store.Clear()
		resp, err := c.Get(ctx, "/sectors")
		require.NoError(t, err)
		assert.False(t, resp.Cached)
		assert.EqualValues(t, 5, hits.Load())
	})
}

func TestClient_Coalesce(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store, err := cache.New(&cache.Config{})
	require.NoError(t, err)
	defer store.Close()
	c := newClient(t, nil, newSelector(t, srv.URL, ""), WithCacheStore(store))

	ctx := context.Background()
	a := call(func() (*Response, error) { return c.Get(ctx, "/indices") })
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	b := call(func() (*Response, error) { return c.Get(ctx, "/indices") })
	time.Sleep(20 * time.Millisecond)
	close(release)

	ra, rb := <-a, <-b
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_CoalesceLeaderCanceled(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
			_, _ = w.Write([]byte("ok"))
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	store, err := cache.New(&cache.Config{})
	require.NoError(t, err)
	defer store.Close()
	c := newClient(t, nil, newSelector(t, srv.URL, ""), WithCacheStore(store))

	leaderCtx, cancel := context.WithCancel(context.Background())
	a := call(func() (*Response, error) { return c.Get(leaderCtx, "/indices") })
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	b := call(func() (*Response, error) { return c.Get(context.Background(), "/indices") })
	time.Sleep(20 * time.Millisecond)

	// 发起者放弃等待，共享的请求继续进行
	cancel()
	ra := <-a
	assert.Equal(t, KindCanceled, KindOf(ra.err))
	assert.True(t, pending(b))

	close(release)
	rb := <-b
	require.NoError(t, rb.err)
	assert.Equal(t, "ok", string(rb.resp.Body))
	assert.EqualValues(t, 1, hits.Load())

	resp, err := c.Get(context.Background(), "/indices")
	require.NoError(t, err)
	assert.True(t, resp.Cached)
}

func TestClient_BodyTooLarge(t *testing.T) {
	body := strings.Repeat("x", 100)
	srv, hits := countingServer(t, http.StatusOK, body)

	store, err := cache.New(&cache.Config{})
	require.NoError(t, err)
	defer store.Close()
	c := newClient(t, &Config{MaxBodyBytes: 10}, newSelector(t, srv.URL, ""), WithCacheStore(store))

	_, err = c.Get(context.Background(), "/indices")
	require.Error(t, err)
	assert.Equal(t, KindServerError, KindOf(err))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	first := hits.Load()

	// 超限的响应不能进缓存
	_, err = c.Get(context.Background(), "/indices")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Greater(t, hits.Load(), first)

	t.Run("恰好等于上限", func(t *testing.T) {
		srv, _ := countingServer(t, http.StatusOK, body[:10])
		c := newClient(t, &Config{MaxBodyBytes: 10}, newSelector(t, srv.URL, ""))
		resp, err := c.Get(context.Background(), "/indices")
		require.NoError(t, err)
		assert.Len(t, resp.Body, 10)
	})
}

func TestClient_FailoverAfterThreshold(t *testing.T) {
	proxy, proxyHits := countingServer(t, http.StatusOK, "via proxy")
	sel := newSelector(t, deadURL(t), proxy.URL)
	c := newClient(t, &Config{Timeout: 2 * time.Second}, sel)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, err := c.Get(ctx, "/data")
		require.Error(t, err)
		assert.Equal(t, KindNetworkUnreachable, KindOf(err))
		assert.ErrorIs(t, err, ErrNetworkUnreachable)
		assert.Equal(t, i, sel.Snapshot().Failures)
		assert.Equal(t, transport.Direct, sel.Mode())
	}

	resp, err := c.Get(ctx, "/data")
	require.NoError(t, err)
	assert.Equal(t, transport.Proxied, resp.Mode)
	assert.Equal(t, "via proxy", string(resp.Body))
	assert.Equal(t, transport.Proxied, sel.Mode())
	assert.Equal(t, 0, sel.Snapshot().Failures)
	assert.EqualValues(t, 1, proxyHits.Load())
}

func TestClient_PinnedModeSkipsAccounting(t *testing.T) {
	proxy, _ := countingServer(t, http.StatusOK, "ok")
	sel := newSelector(t, deadURL(t), proxy.URL)
	c := newClient(t, nil, sel)
	ctx := context.Background()

	_, err := c.Get(ctx, "/health", ViaMode(transport.Direct))
	assert.Equal(t, KindNetworkUnreachable, KindOf(err))
	assert.Equal(t, 0, sel.Snapshot().Failures)

	resp, err := c.Get(ctx, "/health", ViaMode(transport.Proxied))
	require.NoError(t, err)
	assert.Equal(t, transport.Proxied, resp.Mode)
	assert.Equal(t, transport.Direct, sel.Mode())

	_, err = c.Get(ctx, "/health", NoFailover())
	assert.Error(t, err)
	assert.Equal(t, 0, sel.Snapshot().Failures)
}

func TestClient_NotFoundRewrite(t *testing.T) {
	var notFound atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sectors", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		notFound.Add(1)
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sel := newSelector(t, srv.URL, "")
	c := newClient(t, nil, sel)
	ctx := context.Background()

	resp, err := c.Get(ctx, "/sectors")
	require.NoError(t, err)
	assert.Equal(t, "/api/sectors", resp.Path)
	assert.EqualValues(t, 1, notFound.Load())
	assert.Equal(t, 0, sel.Snapshot().Failures)

	_, err = c.Get(ctx, "/sectors")
	require.NoError(t, err)
	assert.EqualValues(t, 1, notFound.Load(), "learned path is used directly")

	t.Run("两种形式都不存在", func(t *testing.T) {
		_, err := c.Get(ctx, "/missing")
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.EqualValues(t, 3, notFound.Load())
		assert.Equal(t, 0, sel.Snapshot().Failures)
	})
}

func TestClient_ServerError(t *testing.T) {
	srv, hits := countingServer(t, http.StatusBadGateway, "upstream down")
	sel := newSelector(t, srv.URL, "")
	c := newClient(t, nil, sel)

	_, err := c.Get(context.Background(), "/data")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	var re *RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadGateway, re.Status)
	assert.Contains(t, re.Error(), "upstream down")
	assert.EqualValues(t, 2, hits.Load(), "one transport retry")
	assert.Equal(t, 1, sel.Snapshot().Failures, "counted once per call")

	sel.SetAutoSwitch(false)
	_, err = c.Get(context.Background(), "/data")
	assert.Error(t, err)
	assert.EqualValues(t, 3, hits.Load(), "no retry without auto switch")
	assert.Equal(t, 1, sel.Snapshot().Failures, "not counted without auto switch")
}

func TestClient_TimeoutBoundary(t *testing.T) {
	run := func(t *testing.T, advance time.Duration) result {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
				_, _ = w.Write([]byte("late"))
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		clk := clock.NewFake(time.Unix(0, 0))
		c := newClient(t, nil, newSelector(t, srv.URL, ""), WithClock(clk))

		ch := call(func() (*Response, error) {
			return c.Get(context.Background(), "/slow", WithTimeout(time.Second), NoFailover())
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, clk.BlockUntil(ctx, 1))
		clk.Advance(advance)

		if advance < time.Second {
			release <- struct{}{}
		}
		select {
		case r := <-ch:
			return r
		case <-time.After(2 * time.Second):
			t.Fatal("call did not complete")
			return result{}
		}
	}

	t.Run("截止前返回", func(t *testing.T) {
		r := run(t, time.Second-time.Millisecond)
		require.NoError(t, r.err)
		assert.Equal(t, "late", string(r.resp.Body))
	})

	t.Run("截止后超时", func(t *testing.T) {
		r := run(t, time.Second+time.Millisecond)
		require.Error(t, r.err)
		assert.Equal(t, KindTimeout, KindOf(r.err))
		assert.ErrorIs(t, r.err, ErrTimeout)
		assert.Nil(t, r.resp)
	})
}

func TestClient_RateLimitQueue(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
		hits  atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	gate, err := ratelimit.New(&ratelimit.Config{DrainInterval: time.Millisecond}, ratelimit.WithClock(clk))
	require.NoError(t, err)
	defer gate.Close()

	sel := newSelector(t, srv.URL, "")
	c := newClient(t, &Config{Timeout: time.Hour}, sel, WithClock(clk), WithGate(gate))
	ctx := context.Background()

	a := call(func() (*Response, error) { return c.Get(ctx, "/a") })
	require.Eventually(t, func() bool { return gate.QueueLen() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, gate.IsBlocked())

	clk.Advance(2 * time.Second)
	b := call(func() (*Response, error) { return c.Get(ctx, "/b") })
	require.Eventually(t, func() bool { return gate.QueueLen() == 2 }, time.Second, 5*time.Millisecond)

	clk.Advance(3*time.Second - time.Millisecond)
	assert.True(t, pending(a), "resolved before the window closed")
	assert.True(t, pending(b))

	ra := await(t, clk, a, time.Millisecond)
	rb := await(t, clk, b, time.Millisecond)
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.False(t, clk.Now().Before(time.Unix(5, 0)))
	assert.Equal(t, "/a", string(ra.resp.Body))
	assert.Equal(t, "/b", string(rb.resp.Body))

	mu.Lock()
	assert.Equal(t, []string{"/a", "/b"}, order)
	mu.Unlock()
	assert.Equal(t, 0, sel.Snapshot().Failures, "rate limiting is not a transport failure")
}

func TestClient_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	requeues := 1
	gate, err := ratelimit.New(&ratelimit.Config{DrainInterval: time.Millisecond, MaxRequeues: &requeues}, ratelimit.WithClock(clk))
	require.NoError(t, err)
	defer gate.Close()

	c := newClient(t, &Config{Timeout: time.Hour}, newSelector(t, srv.URL, ""), WithClock(clk), WithGate(gate))
	ch := call(func() (*Response, error) { return c.Get(context.Background(), "/quote") })

	r := await(t, clk, ch, 100*time.Millisecond)
	require.Error(t, r.err)
	assert.Equal(t, KindRateLimited, KindOf(r.err))
	assert.ErrorIs(t, r.err, ErrRateLimited)

	var re *RequestError
	require.True(t, errors.As(r.err, &re))
	assert.Equal(t, time.Second, re.RetryAfter)
}

func TestClient_CriticalFallback(t *testing.T) {
	var (
		payload atomic.Value
		hits    atomic.Int32
	)
	payload.Store(`{"timestamp":1,"indices":[]}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(payload.Load().(string)))
	}))
	defer srv.Close()

	store, err := cache.New(&cache.Config{})
	require.NoError(t, err)
	defer store.Close()

	cfg := &Config{Critical: []CriticalEndpoint{{
		Endpoint:     "/api/market-data",
		RequiredKeys: []string{"timestamp", "indices", "sectors"},
		Fallback:     map[string]any{"indices": []any{}},
	}}}
	c := newClient(t, cfg, newSelector(t, srv.URL, ""), WithCacheStore(store))
	ctx := context.Background()

	resp, err := c.Get(ctx, "/api/market-data")
	require.NoError(t, err)
	assert.True(t, resp.Fallback)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, true, body[FallbackKey])
	assert.Equal(t, []any{"sectors"}, body["_missing"])
	assert.NotContains(t, string(resp.Body), `"timestamp":1`)

	_, err = c.Get(ctx, "/api/market-data")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load(), "fallback is never cached")

	t.Run("完整数据正常返回", func(t *testing.T) {
		payload.Store(`{"timestamp":1,"indices":[],"sectors":[]}`)
		resp, err := c.Get(ctx, "/api/market-data")
		require.NoError(t, err)
		assert.False(t, resp.Fallback)
		assert.JSONEq(t, `{"timestamp":1,"indices":[],"sectors":[]}`, string(resp.Body))
	})
}

func TestClient_BreakerOpen(t *testing.T) {
	srv, hits := countingServer(t, http.StatusInternalServerError, "")
	brk, err := breaker.New(&breaker.Config{
		Enabled:         true,
		MinimumRequests: 1,
		FailureRatio:    0.5,
		Timeout:         time.Hour,
	}, breaker.WithSuccessFunc(BreakerSuccess))
	require.NoError(t, err)

	sel := newSelector(t, srv.URL, "")
	sel.SetAutoSwitch(false)
	c := newClient(t, nil, sel, WithBreaker(brk))
	ctx := context.Background()

	_, err = c.Get(ctx, "/data")
	assert.Equal(t, KindServerError, KindOf(err))

	_, err = c.Get(ctx, "/data")
	assert.Equal(t, KindNetworkUnreachable, KindOf(err))
	assert.ErrorIs(t, err, breaker.ErrOpenState)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, sel.Snapshot().Failures)
}

func TestBreakerSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"限流", &RequestError{Kind: KindRateLimited}, true},
		{"404", &RequestError{Kind: KindNotFound}, true},
		{"取消", &RequestError{Kind: KindCanceled}, true},
		{"超时", &RequestError{Kind: KindTimeout}, false},
		{"网络", &RequestError{Kind: KindNetworkUnreachable}, false},
		{"5xx", &RequestError{Kind: KindServerError}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BreakerSuccess(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	err := &RequestError{Kind: KindTimeout, Method: "GET", Endpoint: "/a", Mode: "direct"}
	wrapped := ratelimit.Limited(time.Second, err)
	assert.Equal(t, KindTimeout, KindOf(wrapped))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrServerError)
	assert.Equal(t, "GET /a via direct: timeout", err.Error())
}
