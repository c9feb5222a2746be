package breaker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// circuit 单个依赖的状态，所有字段由 mu 保护
type circuit struct {
	mu             sync.Mutex
	key            string
	th             Thresholds
	state          State
	failures       int
	trialSuccesses int
	trialsInFlight int
	openedAt       time.Time
}

type consecutiveBreaker struct {
	cfg      *Config
	opts     *options
	obs      *observer
	circuits sync.Map // map[string]*circuit
}

func newConsecutiveBreaker(cfg *Config, o *options, obs *observer) *consecutiveBreaker {
	return &consecutiveBreaker{cfg: cfg, opts: o, obs: obs}
}

func (b *consecutiveBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}
	c := b.getOrCreate(key)

	trial, err := b.admit(c)
	if err != nil {
		b.obs.rejected(ctx, key, err)
		if b.opts.fallback != nil {
			if fbErr := b.opts.fallback(ctx, key, err); fbErr != nil {
				return nil, fbErr
			}
			return nil, nil
		}
		return nil, err
	}

	start := b.opts.now()
	result, err := fn()
	b.obs.completed(ctx, key, resultLabel(err, b.opts.isFailure), b.opts.now().Sub(start))
	b.complete(c, trial, err)
	return result, err
}

// admit 决定调用能否通过。OPEN 的过期在每次调用时重新判断，不依赖后台定时器。
func (b *consecutiveBreaker) admit(c *circuit) (trial bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.opts.now()
	if c.state == StateOpen {
		elapsed := now.Sub(c.openedAt)
		if elapsed < c.th.RecoveryTimeout {
			return false, &OpenError{Key: c.key, RetryAfter: c.th.RecoveryTimeout - elapsed}
		}
		b.setState(c, StateHalfOpen)
	}

	if c.state == StateHalfOpen {
		if c.trialsInFlight >= c.th.HalfOpenTrials {
			return false, &OpenError{Key: c.key}
		}
		c.trialsInFlight++
		return true, nil
	}
	return false, nil
}

func (b *consecutiveBreaker) complete(c *circuit, trial bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := err != nil && b.opts.isFailure(err)

	if trial {
		if c.trialsInFlight > 0 {
			c.trialsInFlight--
		}
		// 其他试探已经重新打开或 Reset 过，本次结果作废
		if c.state != StateHalfOpen {
			return
		}
		switch {
		case failed:
			c.openedAt = b.opts.now()
			b.setState(c, StateOpen)
		case err == nil:
			c.trialSuccesses++
			if c.trialSuccesses >= c.th.SuccessThreshold {
				b.setState(c, StateClosed)
			}
		}
		return
	}

	// 打开之前就已放行的调用，其结果不再影响状态
	if c.state != StateClosed {
		return
	}
	switch {
	case failed:
		c.failures++
		if c.failures >= c.th.FailureThreshold {
			c.openedAt = b.opts.now()
			b.setState(c, StateOpen)
		}
	case err == nil:
		c.failures = 0
	}
}

// setState 切换状态并重置计数，调用方持有 c.mu
func (b *consecutiveBreaker) setState(c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.failures = 0
	c.trialSuccesses = 0
	if to != StateHalfOpen {
		c.trialsInFlight = 0
	}
	if to == StateClosed {
		c.openedAt = time.Time{}
	}
	b.obs.transition(c.key, from, to)
}

func (b *consecutiveBreaker) getOrCreate(key string) *circuit {
	if v, ok := b.circuits.Load(key); ok {
		return v.(*circuit)
	}
	c := &circuit{key: key, th: b.cfg.thresholdsFor(key)}
	actual, _ := b.circuits.LoadOrStore(key, c)
	return actual.(*circuit)
}

func (b *consecutiveBreaker) State(key string) (State, error) {
	st, err := b.Status(key)
	return st.State, err
}

func (b *consecutiveBreaker) Status(key string) (Status, error) {
	if key == "" {
		return Status{}, ErrKeyEmpty
	}
	v, ok := b.circuits.Load(key)
	if !ok {
		th := b.cfg.thresholdsFor(key)
		return Status{
			Key:              key,
			State:            StateClosed,
			FailureThreshold: th.FailureThreshold,
			RecoveryTimeout:  th.RecoveryTimeout,
			HalfOpenTrials:   th.HalfOpenTrials,
			SuccessThreshold: th.SuccessThreshold,
		}, nil
	}

	c := v.(*circuit)
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Key:              c.key,
		State:            c.state,
		Failures:         c.failures,
		TrialSuccesses:   c.trialSuccesses,
		TrialsInFlight:   c.trialsInFlight,
		OpenedAt:         c.openedAt,
		FailureThreshold: c.th.FailureThreshold,
		RecoveryTimeout:  c.th.RecoveryTimeout,
		HalfOpenTrials:   c.th.HalfOpenTrials,
		SuccessThreshold: c.th.SuccessThreshold,
	}
	// 只读快照：过期的 OPEN 报告为 HALF_OPEN，真正的切换发生在下一次调用
	if c.state == StateOpen {
		if remaining := c.th.RecoveryTimeout - b.opts.now().Sub(c.openedAt); remaining > 0 {
			st.RetryAfter = remaining
		} else {
			st.State = StateHalfOpen
		}
	}
	return st, nil
}

func (b *consecutiveBreaker) Reset(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	v, ok := b.circuits.Load(key)
	if !ok {
		return nil
	}
	c := v.(*circuit)
	c.mu.Lock()
	b.setState(c, StateClosed)
	c.failures = 0
	c.mu.Unlock()
	return nil
}

func (b *consecutiveBreaker) Keys() []string {
	var keys []string
	b.circuits.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
