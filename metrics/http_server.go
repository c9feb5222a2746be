package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ceyewan/modelgate/xerrors"
)

// 运维 HTTP 接口的指标名
const (
	MetricHTTPServerRequestTotal    = "http_server_requests_total"
	MetricHTTPServerDurationSeconds = "http_server_request_duration_seconds"
)

var httpDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// HTTPServerMetrics 请求数与耗时，按 service、method、route、状态类别打标签
type HTTPServerMetrics struct {
	service  Label
	requests Counter
	duration Histogram
}

// NewHTTPServerMetrics 在 m 上注册运维接口的请求指标
func NewHTTPServerMetrics(m Meter, service string) (*HTTPServerMetrics, error) {
	if m == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "metrics: meter is nil")
	}
	if service == "" {
		service = "unknown"
	}
	requests, err := m.Counter(MetricHTTPServerRequestTotal, "HTTP requests served")
	if err != nil {
		return nil, xerrors.Wrap(err, "create http request counter")
	}
	duration, err := m.Histogram(MetricHTTPServerDurationSeconds, "HTTP request duration",
		WithUnit("s"), WithBuckets(httpDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create http duration histogram")
	}
	return &HTTPServerMetrics{service: L(LabelService, service), requests: requests, duration: duration}, nil
}

// Observe 记录一次请求。route 应当是路由模板而不是原始路径，空值记为 UnknownRoute。
func (m *HTTPServerMetrics) Observe(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = http.MethodGet
	}
	if route == "" {
		route = UnknownRoute
	}
	labels := []Label{
		m.service,
		L(LabelMethod, method),
		L(LabelRoute, route),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.requests.Inc(ctx, labels...)
	m.duration.Record(ctx, d.Seconds(), labels...)
}

// HTTPStatusClass 1xx 到 5xx，越界时为 unknown
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// HTTPOutcome 2xx/3xx 为 success，其余为 error
func HTTPOutcome(status int) string {
	if status >= 200 && status < 400 {
		return OutcomeSuccess
	}
	return OutcomeError
}
