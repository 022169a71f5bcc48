package clog

import (
	"context"
	"log/slog"
	"strings"
)

type requestIDKey struct{}

type transportModeKey struct{}

// WithRequestID 在 ctx 中记录请求 ID，配合 WithStandardContext 输出到日志
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// WithTransportMode 在 ctx 中记录本次请求使用的传输路径
func WithTransportMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, transportModeKey{}, mode)
}

// RequestIDFrom 读取 ctx 中的请求 ID
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// extractContextFields 按登记的规则从 ctx 中提取字段
func extractContextFields(ctx context.Context, o *options, attrs *[]slog.Attr) {
	if ctx == nil || o == nil || len(o.contextFields) == 0 {
		return
	}
	for _, cf := range o.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			*attrs = append(*attrs, slog.Any(cf.FieldName, val))
		}
	}
}

// NamespaceKey 是日志中命名空间的字段名
const NamespaceKey = "namespace"

func addNamespaceField(o *options, attrs *[]slog.Attr) {
	if o == nil || len(o.namespaceParts) == 0 {
		return
	}
	*attrs = append(*attrs, slog.String(NamespaceKey, strings.Join(o.namespaceParts, ".")))
}
