package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
	"github.com/ceyewan/modelgate/xerrors"
)

// Option 组件初始化选项
type Option func(*options)

// FallbackFunc 熔断打开时的降级函数，返回 nil 表示降级成功，Execute 返回 (nil, nil)
type FallbackFunc func(ctx context.Context, key string, err error) error

// FailurePredicate 判断错误是否计入失败
type FailurePredicate func(err error) bool

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	fallback  FallbackFunc
	isFailure FailurePredicate
	now       func() time.Time
}

// WithLogger 设置 Logger，nil 时使用 clog.Discard()
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeter 设置指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithFallback 设置降级函数
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}

// WithFailurePredicate 自定义失败判定。默认排除调用方错误（非法输入、主动取消）。
func WithFailurePredicate(fn FailurePredicate) Option {
	return func(o *options) {
		if fn != nil {
			o.isFailure = fn
		}
	}
}

// WithClock 替换时钟，仅对 consecutive 模式生效
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// DefaultFailurePredicate 调用方错误不计入失败
func DefaultFailurePredicate(err error) bool {
	return err != nil && !xerrors.IsCallerError(err)
}

func applyOptions(opts ...Option) *options {
	o := &options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		isFailure: DefaultFailurePredicate,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithNamespace("breaker")
	return o
}
