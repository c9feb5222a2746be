package clog

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

// 标准 Context 键，网关在每次调用开始时写入。
const (
	RequestIDKey ctxKey = "request_id"
	SessionIDKey ctxKey = "session_id"
)

// WithRequestID 在 Context 中记录请求 ID。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID 读取 Context 中的请求 ID，不存在时返回空串。
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// extractContextFields 按规则从 Context 中提取字段追加到 attrs。
func extractContextFields(ctx context.Context, o *options, attrs *[]slog.Attr) {
	if ctx == nil || o == nil {
		return
	}

	for _, cf := range o.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			*attrs = append(*attrs, slog.Any(cf.FieldName, val))
		}
	}

	if o.traceContext {
		sc := trace.SpanContextFromContext(ctx)
		if sc.HasTraceID() {
			*attrs = append(*attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		if sc.HasSpanID() {
			*attrs = append(*attrs, slog.String("span_id", sc.SpanID().String()))
		}
	}
}
