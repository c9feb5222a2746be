package policy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ceyewan/modelgate/breaker"
	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/xerrors"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 100 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

// Retry 指数退避重试。MaxAttempts 为总尝试次数，包含第一次。
//
// 第 n 次重试前等待 BackoffBase * 2^n 再加上 [0, BackoffBase) 的抖动，
// 不超过 MaxBackoff。等待期间 ctx 结束则立即返回 ctx 的错误。
type Retry struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration

	// RetryIf 判断错误是否可重试，为空时使用 DefaultRetryIf
	RetryIf func(err error) bool

	// OnRetry 在每次重试等待前调用，attempt 从 1 开始
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryIf 调用方错误与熔断拒绝不重试，其余错误都重试
func DefaultRetryIf(err error) bool {
	if err == nil || xerrors.IsCallerError(err) {
		return false
	}
	return !errors.Is(err, breaker.ErrOpenState)
}

func (Retry) Kind() Kind { return KindRetry }

func (r Retry) withDefaults() Retry {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaultMaxAttempts
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = defaultBackoffBase
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = defaultMaxBackoff
	}
	if r.RetryIf == nil {
		r.RetryIf = DefaultRetryIf
	}
	return r
}

// Delay 返回第 attempt 次重试前的等待时长，attempt 从 0 开始
func (r Retry) Delay(attempt int) time.Duration {
	r = r.withDefaults()
	if attempt > 30 {
		attempt = 30
	}
	delay := r.BackoffBase << attempt
	if delay <= 0 || delay > r.MaxBackoff {
		delay = r.MaxBackoff
	}
	delay += rand.N(r.BackoffBase)
	if delay > r.MaxBackoff {
		delay = r.MaxBackoff
	}
	return delay
}

func (r Retry) wrap(next Operation, e *env) Operation {
	r = r.withDefaults()
	return func(ctx context.Context) (any, error) {
		var lastErr error
		for attempt := 0; attempt < r.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			v, err := next(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err
			if !r.RetryIf(err) {
				return nil, err
			}
			if attempt == r.MaxAttempts-1 {
				break
			}

			delay := r.Delay(attempt)
			if r.OnRetry != nil {
				r.OnRetry(attempt+1, err, delay)
			}
			e.retries.Inc(ctx, e.label())
			e.logger.DebugContext(ctx, "retrying operation",
				clog.Int("attempt", attempt+1),
				clog.Duration("delay", delay),
				clog.Error(err))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.MaxAttempts, lastErr)
	}
}
