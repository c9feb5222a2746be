package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Meter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	m, err := New(&Config{Enabled: false})
	require.NoError(t, err)

	c, err := m.Counter("ignored_total", "ignored")
	require.NoError(t, err)
	assert.NotPanics(t, func() { c.Inc(context.Background()) })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewNilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestMeterExportsInstruments(t *testing.T) {
	m, err := New(NewDevDefaultConfig("modelgate-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	counter := MustCounter(m, "cache_hits_total", "cache hits")
	counter.Inc(ctx, L("tier", "l1"))
	counter.Add(ctx, 2, L("tier", "l1"))

	gauge := MustGauge(m, "bulkhead_active", "active calls")
	gauge.Inc(ctx, L("bulkhead", "model"))
	gauge.Inc(ctx, L("bulkhead", "model"))
	gauge.Dec(ctx, L("bulkhead", "model"))

	hist := MustHistogram(m, "gateway_request_duration_seconds", "latency", WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	hist.Record(ctx, 0.25, L("op", "generate"))

	body := scrape(t, m)
	assert.Contains(t, body, `cache_hits_total{`)
	assert.Contains(t, body, `tier="l1"`)
	assert.Contains(t, body, `bulkhead_active{`)
	assert.Contains(t, body, `gateway_request_duration_seconds_bucket{`)
}

func TestGinHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := New(NewDevDefaultConfig("modelgate-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	httpMetrics, err := NewHTTPServerMetrics(m, "admin")
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinHTTPMiddleware(httpMetrics))
	r.GET("/admin/breakers/:name", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/breakers/model", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `route="/admin/breakers/:name"`)
	assert.Contains(t, body, `status_class="2xx"`)
}

func TestHTTPStatusHelpers(t *testing.T) {
	assert.Equal(t, "5xx", HTTPStatusClass(503))
	assert.Equal(t, "unknown", HTTPStatusClass(42))
	assert.Equal(t, OutcomeSuccess, HTTPOutcome(204))
	assert.Equal(t, OutcomeError, HTTPOutcome(429))
}

func TestHTTPServerMetricsNil(t *testing.T) {
	var m *HTTPServerMetrics
	assert.NotPanics(t, func() { m.Observe(context.Background(), "GET", "/", 200, time.Millisecond) })
}
