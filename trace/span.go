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

// DefaultTracerName 未指定 Tracer 时使用
const DefaultTracerName = "modelgate"

// CallMeta 描述一次网关调用
type CallMeta struct {
	Op         string
	Dependency string
	UseCache   bool
}

func normalizeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normalizeTracer(tracer oteltrace.Tracer) oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer(DefaultTracerName)
	}
	return tracer
}

func callAttributes(meta CallMeta, attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+3)
	if meta.Op != "" {
		out = append(out, attribute.String(AttrCallOp, meta.Op))
	}
	if meta.Dependency != "" {
		out = append(out, attribute.String(AttrCallDependency, meta.Dependency))
	}
	out = append(out, attribute.Bool(AttrCallUseCache, meta.UseCache))
	out = append(out, attrs...)
	return out
}

// StartCallSpan 启动网关入口 Span
func StartCallSpan(ctx context.Context, tracer oteltrace.Tracer, meta CallMeta, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx = normalizeContext(ctx)
	tracer = normalizeTracer(tracer)

	ctx, span := tracer.Start(ctx, SpanNameGateway(meta.Op), oteltrace.WithSpanKind(oteltrace.SpanKindInternal))
	span.SetAttributes(callAttributes(meta, attrs...)...)
	return ctx, span
}

// StartClientSpan 启动一次出站 HTTP 请求的 Span，并把上下文注入到 header
func StartClientSpan(ctx context.Context, tracer oteltrace.Tracer, model string, header http.Header) (context.Context, oteltrace.Span) {
	ctx = normalizeContext(ctx)
	tracer = normalizeTracer(tracer)

	ctx, span := tracer.Start(ctx, SpanNameTransport(model), oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	if model != "" {
		span.SetAttributes(attribute.String(AttrCallModel, model))
	}
	if header != nil {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
	}
	return ctx, span
}

// EndCallSpan 记录结果并结束 Span
func EndCallSpan(span oteltrace.Span, result string, err error) {
	if span == nil {
		return
	}
	MarkSpanError(span, err)
	if result != "" {
		span.SetAttributes(attribute.String(AttrCallResult, result))
	}
	span.End()
}

// MarkSpanError 记录并将 Span 标记为错误，当 err 不为 nil 时
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
