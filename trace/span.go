package trace

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ceyewan/dualpath"

const (
	AttrHTTPMethod           = "http.request.method"
	AttrHTTPStatusCode       = "http.response.status_code"
	AttrURLFull              = "url.full"
	AttrTransportMode        = "dualpath.transport.mode"
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination.name"
	AttrMessagingOperation   = "messaging.operation"
)

// Tracer 返回 dualpath 使用的 Tracer
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// StartClientSpan 为一次上游 HTTP 调用启动 Client Span，并把上下文注入 req.Header
func StartClientSpan(ctx context.Context, req *http.Request, mode string) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := Tracer().Start(ctx, "client."+req.Method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String(AttrHTTPMethod, req.Method),
			attribute.String(AttrURLFull, req.URL.String()),
			attribute.String(AttrTransportMode, mode),
		),
	)
	otel.GetTextMapPropagator().Inject(spanCtx, propagation.HeaderCarrier(req.Header))
	return spanCtx, span
}

// StartProducerSpan 启动生产者 Span，并将上下文注入到 headers
func StartProducerSpan(ctx context.Context, spanName, system, destination string) (context.Context, oteltrace.Span, map[string]string) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := Tracer().Start(ctx, spanName,
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(
			attribute.String(AttrMessagingSystem, system),
			attribute.String(AttrMessagingDestination, destination),
			attribute.String(AttrMessagingOperation, "publish"),
		),
	)
	headers := map[string]string{}
	Inject(spanCtx, headers)
	return spanCtx, span, headers
}

// Inject 把 ctx 中的链路信息写入 carrier
func Inject(ctx context.Context, carrier map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(carrier))
}

// Extract 从 carrier 中恢复链路信息
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}

// MarkError 记录错误并将 Span 状态置为 Error
func MarkError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
