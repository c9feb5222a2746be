package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
)

const (
	// MetricRequestsTotal 经过熔断器的请求数 (Counter)
	MetricRequestsTotal = "breaker_requests_total"

	// MetricRejectsTotal 被熔断拒绝的请求数 (Counter)
	MetricRejectsTotal = "breaker_rejects_total"

	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "breaker_state_changes_total"

	// MetricRequestDuration 受保护调用耗时 (Histogram)
	MetricRequestDuration = "breaker_request_duration_seconds"

	LabelDependency = "dependency"
	LabelFromState  = "from_state"
	LabelToState    = "to_state"
	// LabelResult success / failure / excluded
	LabelResult = "result"
)

// observer 汇总两种模式共用的日志与指标
type observer struct {
	logger   clog.Logger
	requests metrics.Counter
	rejects  metrics.Counter
	changes  metrics.Counter
	duration metrics.Histogram
}

func newObserver(o *options) *observer {
	return &observer{
		logger:   o.logger,
		requests: metrics.MustCounter(o.meter, MetricRequestsTotal, "Calls admitted by the circuit breaker"),
		rejects:  metrics.MustCounter(o.meter, MetricRejectsTotal, "Calls rejected by an open circuit"),
		changes:  metrics.MustCounter(o.meter, MetricStateChanges, "Circuit breaker state transitions"),
		duration: metrics.MustHistogram(o.meter, MetricRequestDuration, "Duration of protected calls", metrics.WithUnit("s")),
	}
}

func (ob *observer) completed(ctx context.Context, key, result string, d time.Duration) {
	ob.requests.Inc(ctx, metrics.L(LabelDependency, key), metrics.L(LabelResult, result))
	ob.duration.Record(ctx, d.Seconds(), metrics.L(LabelDependency, key))
}

func (ob *observer) rejected(ctx context.Context, key string, err error) {
	ob.rejects.Inc(ctx, metrics.L(LabelDependency, key))
	ob.logger.WarnContext(ctx, "circuit breaker rejected call", clog.String("dependency", key), clog.Error(err))
}

func (ob *observer) transition(key string, from, to State) {
	ob.changes.Inc(context.Background(),
		metrics.L(LabelDependency, key),
		metrics.L(LabelFromState, from.String()),
		metrics.L(LabelToState, to.String()))
	ob.logger.Info("circuit breaker state changed",
		clog.String("dependency", key),
		clog.String("from", from.String()),
		clog.String("to", to.String()))
}

func resultLabel(err error, isFailure FailurePredicate) string {
	switch {
	case err == nil:
		return "success"
	case isFailure(err):
		return "failure"
	default:
		return "excluded"
	}
}
