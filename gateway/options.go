package gateway

import (
	"time"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
)

// Option 网关选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 注入日志记录器，内部追加 Namespace "gateway"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeter 注入指标 Meter，同时用于内部的策略链
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CallOption 单次调用选项
type CallOption func(*callOptions)

type callOptions struct {
	tags        []string
	ttl         time.Duration
	model       string
	rawFallback bool
}

// WithTags 为缓存条目打标签，之后可按标签批量失效
func WithTags(tags ...string) CallOption {
	return func(o *callOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// WithTTL 覆盖默认的缓存有效期
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

// WithModel 覆盖配置中的模型
func WithModel(model string) CallOption {
	return func(o *callOptions) {
		o.model = model
	}
}

// WithRawFallback 结构化解析失败时返回原始文本而不是 MalformedResponseError
func WithRawFallback() CallOption {
	return func(o *callOptions) {
		o.rawFallback = true
	}
}

func applyCallOptions(opts []CallOption) *callOptions {
	o := &callOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
