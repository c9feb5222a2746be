package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ratioBreaker 基于 gobreaker 的失败率熔断，每个依赖一个 gobreaker 实例
type ratioBreaker struct {
	cfg      *Config
	opts     *options
	obs      *observer
	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
	openedAt sync.Map // map[string]time.Time
}

func newRatioBreaker(cfg *Config, o *options, obs *observer) *ratioBreaker {
	return &ratioBreaker{cfg: cfg, opts: o, obs: obs}
}

func (b *ratioBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}
	cb := b.getOrCreate(key)

	start := time.Now()
	result, err := cb.Execute(fn)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		openErr := &OpenError{Key: key, RetryAfter: b.retryAfter(key)}
		b.obs.rejected(ctx, key, openErr)
		if b.opts.fallback != nil {
			if fbErr := b.opts.fallback(ctx, key, openErr); fbErr != nil {
				return nil, fbErr
			}
			return nil, nil
		}
		return nil, openErr
	}

	b.obs.completed(ctx, key, resultLabel(err, b.opts.isFailure), time.Since(start))
	return result, err
}

func (b *ratioBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if v, ok := b.breakers.Load(key); ok {
		return v.(*gobreaker.CircuitBreaker[any])
	}

	th := b.cfg.thresholdsFor(key)
	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: uint32(th.HalfOpenTrials),
		Interval:    b.cfg.Interval,
		Timeout:     th.RecoveryTimeout,
		ReadyToTrip: b.readyToTrip,
		IsExcluded: func(err error) bool {
			return err != nil && !b.opts.isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.openedAt.Store(name, time.Now())
			}
			b.obs.transition(name, fromGobreaker(from), fromGobreaker(to))
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)
	actual, _ := b.breakers.LoadOrStore(key, cb)
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (b *ratioBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < b.cfg.MinimumRequests {
		return false
	}
	ratio := float64(counts.TotalFailures) / float64(counts.Requests)
	return ratio >= b.cfg.FailureRatio
}

func (b *ratioBreaker) retryAfter(key string) time.Duration {
	v, ok := b.openedAt.Load(key)
	if !ok {
		return 0
	}
	remaining := b.cfg.thresholdsFor(key).RecoveryTimeout - time.Since(v.(time.Time))
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *ratioBreaker) State(key string) (State, error) {
	st, err := b.Status(key)
	return st.State, err
}

func (b *ratioBreaker) Status(key string) (Status, error) {
	if key == "" {
		return Status{}, ErrKeyEmpty
	}
	th := b.cfg.thresholdsFor(key)
	st := Status{
		Key:              key,
		State:            StateClosed,
		FailureThreshold: th.FailureThreshold,
		RecoveryTimeout:  th.RecoveryTimeout,
		HalfOpenTrials:   th.HalfOpenTrials,
		SuccessThreshold: th.SuccessThreshold,
	}

	v, ok := b.breakers.Load(key)
	if !ok {
		return st, nil
	}
	cb := v.(*gobreaker.CircuitBreaker[any])
	counts := cb.Counts()
	st.State = fromGobreaker(cb.State())
	st.Failures = int(counts.ConsecutiveFailures)
	if st.State == StateHalfOpen {
		st.TrialSuccesses = int(counts.ConsecutiveSuccesses)
	}
	if st.State == StateOpen {
		if t, ok := b.openedAt.Load(key); ok {
			st.OpenedAt = t.(time.Time)
		}
		st.RetryAfter = b.retryAfter(key)
	}
	return st, nil
}

// Reset 丢弃该依赖的 gobreaker 实例，下一次调用以 closed 状态重建
func (b *ratioBreaker) Reset(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if v, ok := b.breakers.LoadAndDelete(key); ok {
		if from := fromGobreaker(v.(*gobreaker.CircuitBreaker[any]).State()); from != StateClosed {
			b.obs.transition(key, from, StateClosed)
		}
	}
	b.openedAt.Delete(key)
	return nil
}

func (b *ratioBreaker) Keys() []string {
	var keys []string
	b.breakers.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
