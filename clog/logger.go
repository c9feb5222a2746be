package clog

import "context"

// Logger 结构化日志接口
//
// 带 Context 的方法会按选项提取 request_id、session_id 以及 OTel 的 trace_id。
//
//	logger := logger.WithNamespace("cache")
//	logger.WarnContext(ctx, "l3 write failed", clog.Error(err))
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 创建追加命名空间的子 Logger，"modelgate" + "cache" 输出为 "modelgate.cache"
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整日志级别，对所有共享同一个 handler 的子 Logger 生效
	SetLevel(level Level) error

	// Flush 同步文件输出
	Flush()
}
