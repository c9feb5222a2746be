package policy

import (
	"context"

	"github.com/ceyewan/modelgate/breaker"
)

// CircuitBreaker 让每次尝试经过 Breaker 中 Dependency 对应的熔断器
type CircuitBreaker struct {
	Breaker    breaker.Breaker
	Dependency string
}

func (CircuitBreaker) Kind() Kind { return KindCircuitBreaker }

func (c CircuitBreaker) wrap(next Operation, _ *env) Operation {
	if c.Breaker == nil {
		return next
	}
	return func(ctx context.Context) (any, error) {
		return c.Breaker.Execute(ctx, c.Dependency, func() (any, error) {
			return next(ctx)
		})
	}
}
