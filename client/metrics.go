package client

const (
	// MetricRequestsTotal 逻辑调用数 (Counter)
	MetricRequestsTotal = "client_requests_total"

	// MetricRequestDuration 逻辑调用耗时 (Histogram)
	MetricRequestDuration = "client_request_duration_seconds"

	// MetricRetriesTotal 管道内部重试次数 (Counter)
	MetricRetriesTotal = "client_retries_total"

	// MetricFallbacksTotal 关键端点兜底次数 (Counter)
	MetricFallbacksTotal = "client_fallbacks_total"

	LabelMethod   = "method"
	LabelMode     = "mode"
	LabelResult   = "result"
	LabelReason   = "reason"
	LabelEndpoint = "endpoint"

	ResultOK     = "ok"
	ResultCached = "cached"

	ReasonRewrite   = "rewrite"
	ReasonTransport = "transport"
	ReasonQueued    = "queued"
)
