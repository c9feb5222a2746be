// Package clog 为网关各组件提供基于 slog 的结构化日志。
//
// 每个组件通过 WithLogger 注入 Logger，并以 WithNamespace 追加自己的命名空间，
// 因此同一条调用链上的日志可以按 "modelgate.gateway"、"modelgate.breaker" 区分来源。
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("modelgate"),
//	    clog.WithTraceContext(),
//	)
//	logger.InfoContext(ctx, "model call finished", clog.String("model", "gemini-2.0-flash"))
package clog

import "fmt"

// New 创建一个新的 Logger 实例，config 为 nil 时使用开发默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig("")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}
