package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/modelgate/clog"
)

// Timeout 限制调用总时长。到期后立即返回 ErrTimeout，
// 被放弃的调用继续在后台运行，它的 ctx 已被取消。
type Timeout struct {
	Timeout time.Duration
}

func (Timeout) Kind() Kind { return KindTimeout }

type outcome struct {
	value any
	err   error
}

func (t Timeout) wrap(next Operation, e *env) Operation {
	return func(ctx context.Context) (any, error) {
		if t.Timeout <= 0 {
			return next(ctx)
		}

		tctx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()

		done := make(chan outcome, 1)
		go func() {
			v, err := next(tctx)
			done <- outcome{value: v, err: err}
		}()

		select {
		case res := <-done:
			return res.value, res.err
		case <-tctx.Done():
			// 调用方自己的 ctx 结束时返回调用方的错误
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e.timeouts.Inc(ctx, e.label())
			e.logger.WarnContext(ctx, "operation timed out", clog.Duration("timeout", t.Timeout))
			return nil, fmt.Errorf("%w after %s", ErrTimeout, t.Timeout)
		}
	}
}

// IsTimeout 判断是否为超时策略或 ctx 截止时间导致的错误
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
