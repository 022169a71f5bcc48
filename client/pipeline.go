package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/ceyewan/dualpath/breaker"
	"github.com/ceyewan/dualpath/cache"
	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/ratelimit"
	"github.com/ceyewan/dualpath/trace"
	"github.com/ceyewan/dualpath/transport"
	"github.com/ceyewan/dualpath/xerrors"
)

// maxAttempts 一次改写加一次换路，最多四次网络尝试
const maxAttempts = 4

// FallbackKey 兜底数据中的标记字段
const FallbackKey = "_fallback"

type pipeline struct {
	cfg      *Config
	sel      transport.Selector
	store    cache.Store
	gate     ratelimit.Gate
	ownsGate bool
	brk      breaker.Breaker
	hc       *http.Client
	clock    clock.Clock
	logger   clog.Logger
	critical map[string]CriticalEndpoint

	flight singleflight.Group

	requests  metrics.Counter
	duration  metrics.Histogram
	retries   metrics.Counter
	fallbacks metrics.Counter
}

// attempt 逻辑调用在重试循环中的状态
type attempt struct {
	mode             transport.Mode
	path             string
	n                int
	rewritten        bool
	transportRetried bool
	accounted        bool
}

func newPipeline(cfg *Config, sel transport.Selector, o *options) (*pipeline, error) {
	p := &pipeline{
		cfg:      cfg,
		sel:      sel,
		store:    o.store,
		gate:     o.gate,
		brk:      o.breaker,
		hc:       o.httpClient,
		clock:    o.clock,
		logger:   o.logger,
		critical: make(map[string]CriticalEndpoint, len(cfg.Critical)),
	}
	for _, ce := range cfg.Critical {
		p.critical[normalizeEndpoint(ce.Endpoint)] = ce
	}

	var err error
	if p.hc == nil {
		if p.hc, err = NewHTTPClient(cfg.HTTP); err != nil {
			return nil, err
		}
	}
	if p.gate == nil {
		p.gate, err = ratelimit.New(&ratelimit.Config{},
			ratelimit.WithClock(o.clock), ratelimit.WithLogger(o.logger), ratelimit.WithMeter(o.meter))
		if err != nil {
			return nil, err
		}
		p.ownsGate = true
	}
	if p.brk == nil {
		if p.brk, err = breaker.New(&breaker.Config{}); err != nil {
			return nil, err
		}
	}

	if p.requests, err = o.meter.Counter(MetricRequestsTotal, "Logical calls through the request pipeline"); err != nil {
		return nil, err
	}
	if p.duration, err = o.meter.Histogram(MetricRequestDuration, "Logical call duration in seconds", metrics.WithUnit("s")); err != nil {
		return nil, err
	}
	if p.retries, err = o.meter.Counter(MetricRetriesTotal, "Retries issued inside the pipeline"); err != nil {
		return nil, err
	}
	if p.fallbacks, err = o.meter.Counter(MetricFallbacksTotal, "Critical payloads replaced by fallback data"); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pipeline) Get(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error) {
	return p.Execute(ctx, buildRequest(http.MethodGet, endpoint, nil, opts))
}

func (p *pipeline) Post(ctx context.Context, endpoint string, body []byte, opts ...CallOption) (*Response, error) {
	return p.Execute(ctx, buildRequest(http.MethodPost, endpoint, body, opts))
}

func (p *pipeline) Put(ctx context.Context, endpoint string, body []byte, opts ...CallOption) (*Response, error) {
	return p.Execute(ctx, buildRequest(http.MethodPut, endpoint, body, opts))
}

func (p *pipeline) Delete(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error) {
	return p.Execute(ctx, buildRequest(http.MethodDelete, endpoint, nil, opts))
}

func buildRequest(method, endpoint string, body []byte, opts []CallOption) *Request {
	r := &Request{Method: method, Endpoint: endpoint, Body: body}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (p *pipeline) Close() error {
	if p.ownsGate {
		return p.gate.Close()
	}
	return nil
}

func (p *pipeline) Execute(ctx context.Context, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "client: request is nil")
	}

	r := *req
	r.Method = strings.ToUpper(r.Method)
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Endpoint = normalizeEndpoint(r.Endpoint)
	if r.Timeout <= 0 {
		r.Timeout = p.cfg.Timeout
	}

	start := p.clock.Now()
	resp, err := p.execute(ctx, &r)
	p.observe(ctx, &r, resp, err, start)
	return resp, err
}

func (p *pipeline) execute(ctx context.Context, r *Request) (*Response, error) {
	if !p.cacheable(r) {
		return p.dispatch(ctx, r, "")
	}

	key := p.store.Key(r.Endpoint, cache.KeyOptions{Query: r.Query, Header: r.Header})
	if e, ok := p.store.Read(ctx, key); ok {
		return &Response{
			Status:   e.Payload.Status,
			Header:   e.Payload.Header,
			Body:     e.Payload.Body,
			Mode:     p.sel.Mode(),
			Endpoint: r.Endpoint,
			Path:     p.sel.Path(r.Endpoint),
			Cached:   true,
		}, nil
	}

	// 相同的可缓存 GET 合并为一次网络调用。共享调用不随发起者取消，
	// 每个调用方只按自己的 ctx 放弃等待。
	ch := p.flight.DoChan(key, func() (any, error) {
		return p.dispatch(context.WithoutCancel(ctx), r, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := *res.Val.(*Response)
		return &resp, nil
	case <-ctx.Done():
		return nil, &RequestError{
			Kind:     KindCanceled,
			Method:   r.Method,
			Endpoint: r.Endpoint,
			Mode:     p.modeFor(r).String(),
			Cause:    ctx.Err(),
		}
	}
}

func (p *pipeline) cacheable(r *Request) bool {
	if p.store == nil {
		return false
	}
	allowed := r.Cache == nil || *r.Cache
	return !p.store.ShouldBypass(r.Method, r.Endpoint, allowed)
}

// dispatch 闸门关闭时直接执行；首次遇到 429 时打开窗口并把本次调用排进队列
func (p *pipeline) dispatch(ctx context.Context, r *Request, key string) (*Response, error) {
	if p.gate.IsBlocked() {
		return p.enqueue(ctx, r, key)
	}

	resp, err := p.run(ctx, r, key)
	var limited *ratelimit.LimitedError
	if xerrors.As(err, &limited) {
		p.gate.Activate(limited.RetryAfter)
		return p.enqueue(ctx, r, key)
	}
	return resp, err
}

func (p *pipeline) enqueue(ctx context.Context, r *Request, key string) (*Response, error) {
	p.retries.Inc(ctx, metrics.L(LabelReason, ReasonQueued))
	fut := p.gate.Enqueue(ctx, r.Method+" "+r.Endpoint, func(ctx context.Context) (any, error) {
		return p.run(ctx, r, key)
	})

	v, err := fut.Wait(ctx)
	if err != nil {
		return nil, p.queueError(r, err)
	}
	return v.(*Response), nil
}

// queueError 排队失败转换为 RequestError，反复限流时取出原始的 429 错误
func (p *pipeline) queueError(r *Request, err error) error {
	var re *RequestError
	if xerrors.As(err, &re) {
		return re
	}
	kind := KindCanceled
	if xerrors.Is(err, ratelimit.ErrQueueFull) || xerrors.Is(err, ratelimit.ErrRateLimited) {
		kind = KindRateLimited
	}
	return &RequestError{Kind: kind, Method: r.Method, Endpoint: r.Endpoint, Mode: p.modeFor(r).String(), Cause: err}
}

func (p *pipeline) modeFor(r *Request) transport.Mode {
	if r.Mode != nil {
		return *r.Mode
	}
	return p.sel.Mode()
}

// run 有界重试循环。429 以 ratelimit.Limited 返回，由调用方或闸门决定重新排队。
func (p *pipeline) run(ctx context.Context, r *Request, key string) (*Response, error) {
	at := &attempt{mode: p.modeFor(r), path: p.sel.Path(r.Endpoint)}
	accounting := r.Mode == nil && !r.NoFailover

	for {
		at.n++
		resp, re := p.attempt(ctx, r, at)
		if re == nil {
			return p.succeed(ctx, r, key, at, resp, accounting), nil
		}

		switch {
		case re.Kind == KindRateLimited:
			return nil, ratelimit.Limited(re.RetryAfter, re)

		case re.Kind == KindNotFound && !at.rewritten && at.n < maxAttempts:
			if alt, ok := p.sel.Alternate(r.Endpoint); ok && alt != at.path {
				p.logger.DebugContext(ctx, "endpoint not found, retrying alternate path",
					clog.String("endpoint", r.Endpoint), clog.String("path", at.path), clog.String("alternate", alt))
				at.rewritten = true
				at.path = alt
				p.retries.Inc(ctx, metrics.L(LabelReason, ReasonRewrite))
				continue
			}

		case re.Kind.countsAsFailure() && accounting:
			if !at.accounted {
				at.accounted = true
				p.sel.ReportFailure()
			}
			if !at.transportRetried && p.sel.AutoSwitch() && at.n < maxAttempts {
				at.transportRetried = true
				prev := at.mode
				at.mode = p.sel.Mode()
				p.logger.WarnContext(ctx, "attempt failed, retrying",
					clog.String("endpoint", r.Endpoint),
					clog.String("from_mode", prev.String()),
					clog.String("to_mode", at.mode.String()),
					clog.Error(re))
				p.retries.Inc(ctx, metrics.L(LabelReason, ReasonTransport))
				continue
			}
		}
		return nil, re
	}
}

func (p *pipeline) succeed(ctx context.Context, r *Request, key string, at *attempt, resp *Response, accounting bool) *Response {
	if accounting {
		p.sel.ReportSuccess()
	}
	if at.rewritten {
		p.sel.Learn(r.Endpoint, at.path)
	}

	if ce, ok := p.criticalFor(r.Endpoint, at.path); ok {
		if missing := missingKeys(resp.Body, ce.RequiredKeys); len(missing) > 0 {
			p.fallbacks.Inc(ctx, metrics.L(LabelEndpoint, ce.Endpoint))
			p.logger.WarnContext(ctx, "critical payload missing required keys, using fallback",
				clog.String("endpoint", r.Endpoint),
				clog.Any("missing", missing),
				clog.ErrorWithCode(ErrMalformedPayload, KindMalformedPayload.String()))
			resp.Body = fallbackBody(ce, missing)
			resp.Header = http.Header{"Content-Type": []string{"application/json"}}
			resp.Fallback = true
			return resp
		}
	}

	if key != "" {
		payload := cache.Payload{Status: resp.Status, Header: resp.Header, Body: resp.Body}
		if err := p.store.Write(ctx, key, payload); err != nil {
			p.logger.WarnContext(ctx, "cache write failed", clog.String("endpoint", r.Endpoint), clog.Error(err))
		}
	}
	return resp
}

func (p *pipeline) criticalFor(endpoint, path string) (CriticalEndpoint, bool) {
	if ce, ok := p.critical[endpoint]; ok {
		return ce, true
	}
	ce, ok := p.critical[normalizeEndpoint(path)]
	return ce, ok
}

// attempt 在 at.mode 上执行一次网络请求，受熔断保护
func (p *pipeline) attempt(ctx context.Context, r *Request, at *attempt) (*Response, *RequestError) {
	mode := at.mode
	fail := func(kind Kind, status int, cause error) *RequestError {
		return &RequestError{Kind: kind, Method: r.Method, Endpoint: r.Endpoint, Mode: mode.String(), Status: status, Cause: cause}
	}

	target, err := p.sel.URLFor(mode, at.path)
	if err != nil {
		return nil, fail(KindNetworkUnreachable, 0, err)
	}
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fail(KindUnknown, 0, xerrors.Join(xerrors.ErrInvalidInput, err))
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	if len(r.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	spanCtx, span := trace.StartClientSpan(ctx, httpReq, mode.String())
	defer span.End()
	spanCtx = clog.WithTransportMode(spanCtx, mode.String())

	v, err := p.brk.Execute(spanCtx, mode.String(), func() (any, error) {
		res, timedOut := p.roundTrip(spanCtx, httpReq, r.Timeout)
		if res.err != nil {
			kind := KindTimeout
			if !timedOut {
				kind = classifyNetErr(ctx, res.err)
			}
			return nil, fail(kind, 0, res.err)
		}

		switch {
		case res.truncated:
			return nil, fail(KindServerError, res.status,
				xerrors.Wrapf(ErrBodyTooLarge, "limit %d bytes", p.cfg.MaxBodyBytes))
		case res.status >= 200 && res.status < 300:
			return &Response{
				Status:   res.status,
				Header:   res.header,
				Body:     res.body,
				Mode:     mode,
				Endpoint: r.Endpoint,
				Path:     at.path,
			}, nil
		case res.status == http.StatusTooManyRequests:
			re := fail(KindRateLimited, res.status, nil)
			re.RetryAfter = ratelimit.ParseRetryAfter(res.header, res.body, p.clock.Now(), 0)
			return nil, re
		case res.status == http.StatusNotFound:
			return nil, fail(KindNotFound, res.status, nil)
		default:
			return nil, fail(KindServerError, res.status, bodyError(res.body))
		}
	})
	if err != nil {
		var re *RequestError
		if !xerrors.As(err, &re) {
			// 熔断器打开，按网络不可达处理
			re = fail(KindNetworkUnreachable, 0, err)
		}
		if re.Status != 0 {
			span.SetAttributes(attribute.Int(trace.AttrHTTPStatusCode, re.Status))
		}
		trace.MarkError(span, re)
		return nil, re
	}

	resp := v.(*Response)
	span.SetAttributes(attribute.Int(trace.AttrHTTPStatusCode, resp.Status))
	return resp, nil
}

type roundTripResult struct {
	status int
	header http.Header
	body   []byte
	err    error

	// truncated 响应体超过 MaxBodyBytes
	truncated bool
}

// roundTrip 与超时计时器赛跑。超时后取消请求，迟到的响应被丢弃。
func (p *pipeline) roundTrip(ctx context.Context, httpReq *http.Request, timeout time.Duration) (roundTripResult, bool) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timedOut := make(chan struct{})
	timer := p.clock.AfterFunc(timeout, func() { close(timedOut) })
	defer timer.Stop()

	done := make(chan roundTripResult, 1)
	go func() {
		resp, err := p.hc.Do(httpReq.WithContext(attemptCtx))
		if err != nil {
			done <- roundTripResult{err: err}
			return
		}
		defer resp.Body.Close()
		// 多读一个字节用于判断是否超限
		body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes+1))
		res := roundTripResult{status: resp.StatusCode, header: resp.Header, body: body, err: err}
		if int64(len(body)) > p.cfg.MaxBodyBytes {
			res.body = body[:p.cfg.MaxBodyBytes]
			res.truncated = true
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res, false
	case <-timedOut:
		return roundTripResult{err: ErrTimeout}, true
	case <-ctx.Done():
		return roundTripResult{err: ctx.Err()}, false
	}
}

func (p *pipeline) observe(ctx context.Context, r *Request, resp *Response, err error, start time.Time) {
	result := ResultOK
	mode := p.modeFor(r).String()
	switch {
	case err != nil:
		result = KindOf(err).String()
		var re *RequestError
		if xerrors.As(err, &re) && re.Mode != "" {
			mode = re.Mode
		}
	case resp.Cached:
		result = ResultCached
		mode = resp.Mode.String()
	case resp.Fallback:
		result = KindMalformedPayload.String()
		mode = resp.Mode.String()
	default:
		mode = resp.Mode.String()
	}

	p.requests.Inc(ctx, metrics.L(LabelMethod, r.Method), metrics.L(LabelMode, mode), metrics.L(LabelResult, result))
	p.duration.Record(ctx, p.clock.Since(start).Seconds(), metrics.L(LabelMethod, r.Method), metrics.L(LabelMode, mode))

	if err != nil && KindOf(err) != KindCanceled {
		p.logger.WarnContext(ctx, "request failed",
			clog.String("method", r.Method),
			clog.String("endpoint", r.Endpoint),
			clog.String("mode", mode),
			clog.ErrorWithCode(err, KindOf(err).String()))
	}
}

// BreakerSuccess 供 breaker.WithSuccessFunc 使用：只有网络错误、超时和 5xx 等
// 计为路径故障，限流、404、调用方取消都不算
func BreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	return !KindOf(err).countsAsFailure()
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "/"
	}
	if !strings.HasPrefix(endpoint, "/") {
		return "/" + endpoint
	}
	return endpoint
}

func bodyError(body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return nil
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return xerrors.New(msg)
}

// missingKeys 返回 JSON 对象中缺失的必需字段，无法解析时视为全部缺失
func missingKeys(body []byte, required []string) []string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return append([]string(nil), required...)
	}
	var missing []string
	for _, k := range required {
		if v, ok := obj[k]; !ok || string(v) == "null" {
			missing = append(missing, k)
		}
	}
	return missing
}

func fallbackBody(ce CriticalEndpoint, missing []string) []byte {
	payload := make(map[string]any, len(ce.Fallback)+2)
	for k, v := range ce.Fallback {
		payload[k] = v
	}
	payload[FallbackKey] = true
	payload["_missing"] = missing
	b, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"_fallback":true}`)
	}
	return b
}
