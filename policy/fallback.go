package policy

import (
	"context"

	"github.com/ceyewan/modelgate/clog"
)

// Fallback 在 Handles 认可的错误上返回替代结果。
// Alternate 不为空时优先调用它，否则返回 Value。Handles 为空时处理所有错误。
type Fallback struct {
	Handles   func(err error) bool
	Value     any
	Alternate func(ctx context.Context, err error) (any, error)
}

func (Fallback) Kind() Kind { return KindFallback }

func (f Fallback) wrap(next Operation, e *env) Operation {
	return func(ctx context.Context) (any, error) {
		v, err := next(ctx)
		if err == nil {
			return v, nil
		}
		if f.Handles != nil && !f.Handles(err) {
			return nil, err
		}
		e.fallbacks.Inc(ctx, e.label())
		e.logger.DebugContext(ctx, "fallback applied", clog.Error(err))
		if f.Alternate != nil {
			return f.Alternate(ctx, err)
		}
		return f.Value, nil
	}
}
