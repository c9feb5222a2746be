// Package policy 将重试、超时、舱壁、降级与熔断组合为有序的调用链。
//
// 调用链在构造时确定，之后只读；嵌套关系就是列表顺序，最外层在前：
//
//	Fallback → Bulkhead → Timeout → Retry → CircuitBreaker → op
//
// 超时包住全部重试；熔断在最内层，每次尝试都单独计数。
//
//	chain, _ := policy.NewChain("model-call", []policy.Policy{
//		policy.NewBulkhead(policy.BulkheadConfig{MaxConcurrent: 8, Queue: true}),
//		policy.Timeout{Timeout: 45 * time.Second},
//		policy.Retry{MaxAttempts: 3, BackoffBase: time.Second},
//		policy.CircuitBreaker{Breaker: brk, Dependency: "model"},
//	}, policy.WithLogger(logger))
//
//	text, err := policy.Do(ctx, chain, func(ctx context.Context) (string, error) {
//		return transport.Generate(ctx, req)
//	})
package policy

import (
	"context"
	"fmt"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
)

// Operation 受保护的调用
type Operation func(ctx context.Context) (any, error)

// Kind 策略类别，数值即在链中的位置
type Kind int

const (
	KindFallback Kind = iota
	KindBulkhead
	KindTimeout
	KindRetry
	KindCircuitBreaker
)

func (k Kind) String() string {
	switch k {
	case KindFallback:
		return "fallback"
	case KindBulkhead:
		return "bulkhead"
	case KindTimeout:
		return "timeout"
	case KindRetry:
		return "retry"
	case KindCircuitBreaker:
		return "circuit_breaker"
	default:
		return "unknown"
	}
}

// Policy 不可变的策略描述
type Policy interface {
	Kind() Kind
	wrap(next Operation, env *env) Operation
}

// env 链级别的日志与指标，由 NewChain 注入各策略
type env struct {
	chain     string
	logger    clog.Logger
	retries   metrics.Counter
	timeouts  metrics.Counter
	rejected  metrics.Counter
	fallbacks metrics.Counter
}

func (e *env) label() metrics.Label {
	return metrics.L(LabelChain, e.chain)
}

// Chain 有序的策略链
type Chain struct {
	name     string
	policies []Policy
	env      *env
}

// NewChain 校验并创建策略链。每种策略最多出现一次，且必须按
// Fallback、Bulkhead、Timeout、Retry、CircuitBreaker 的顺序排列。
func NewChain(name string, policies []Policy, opts ...Option) (*Chain, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: chain name is empty", ErrInvalidChain)
	}
	last := Kind(-1)
	for i, p := range policies {
		if p == nil {
			return nil, fmt.Errorf("%w: policy %d is nil", ErrInvalidChain, i)
		}
		if p.Kind() <= last {
			return nil, fmt.Errorf("%w: %s cannot follow %s", ErrInvalidChain, p.Kind(), last)
		}
		last = p.Kind()
	}

	o := applyOptions(opts...)
	e := &env{
		chain:     name,
		logger:    o.logger.With(clog.String("chain", name)),
		retries:   metrics.MustCounter(o.meter, MetricRetriesTotal, "Retry attempts made by policy chains"),
		timeouts:  metrics.MustCounter(o.meter, MetricTimeoutsTotal, "Calls abandoned by a timeout policy"),
		rejected:  metrics.MustCounter(o.meter, MetricBulkheadRejectedTotal, "Calls rejected by a bulkhead"),
		fallbacks: metrics.MustCounter(o.meter, MetricFallbacksTotal, "Errors replaced by a fallback"),
	}

	return &Chain{
		name:     name,
		policies: append([]Policy(nil), policies...),
		env:      e,
	}, nil
}

// Name 链名称
func (c *Chain) Name() string {
	return c.name
}

// Policies 返回策略列表的副本
func (c *Chain) Policies() []Policy {
	return append([]Policy(nil), c.policies...)
}

// Bulkhead 返回链中的舱壁，没有时返回 nil
func (c *Chain) Bulkhead() *Bulkhead {
	for _, p := range c.policies {
		if b, ok := p.(*Bulkhead); ok {
			return b
		}
	}
	return nil
}

// Execute 按链执行 op，由内向外包装
func (c *Chain) Execute(ctx context.Context, op Operation) (any, error) {
	exec := op
	for i := len(c.policies) - 1; i >= 0; i-- {
		exec = c.policies[i].wrap(exec, c.env)
	}
	return exec(ctx)
}

// Do 是 Execute 的泛型版本
func Do[T any](ctx context.Context, c *Chain, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Execute(ctx, func(ctx context.Context) (any, error) {
		res, err := op(ctx)
		return res, err
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("policy: chain %s returned %T, want %T", c.name, v, zero)
	}
	return t, nil
}
