package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/modelgate/breaker"
	"github.com/ceyewan/modelgate/gateway"
	"github.com/ceyewan/modelgate/ratelimit"
	"github.com/ceyewan/modelgate/testkit"
	"github.com/ceyewan/modelgate/xerrors"
)

type fakeGateway struct {
	statuses    map[string]breaker.Status
	resets      []string
	invalidated []string
	state       gateway.SettingsState
	lastErr     error
	usageErr    error
}

func (f *fakeGateway) Breakers() []string {
	var names []string
	for name := range f.statuses {
		names = append(names, name)
	}
	return names
}

func (f *fakeGateway) BreakerStatus(name string) (breaker.Status, error) {
	st, ok := f.statuses[name]
	if !ok {
		return breaker.Status{}, xerrors.Wrap(xerrors.ErrNotFound, name)
	}
	return st, nil
}

func (f *fakeGateway) ResetBreaker(name string) error {
	f.resets = append(f.resets, name)
	if st, ok := f.statuses[name]; ok {
		st.State = breaker.StateClosed
		st.RetryAfter = 0
		f.statuses[name] = st
	}
	return nil
}

func (f *fakeGateway) InvalidateTag(_ context.Context, tag string) (int, error) {
	f.invalidated = append(f.invalidated, tag)
	return 3, nil
}

func (f *fakeGateway) SettingsState() (gateway.SettingsState, error) {
	return f.state, f.lastErr
}

func (f *fakeGateway) Usage(_ context.Context, identity string) (ratelimit.Usage, error) {
	if f.usageErr != nil {
		return ratelimit.Usage{}, f.usageErr
	}
	return ratelimit.Usage{
		Identity: identity,
		Hour:     ratelimit.WindowUsage{Count: 2, Limit: 10},
		Day:      ratelimit.WindowUsage{Count: 5, Limit: 0},
	}, nil
}

func newTestRouter(t *testing.T, gw Gateway) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kit := testkit.NewKit(t)
	h, err := New(gw, WithLogger(kit.Logger), WithMeter(kit.Meter))
	require.NoError(t, err)
	r, err := NewRouter(h, "modelgate-admin-test")
	require.NoError(t, err)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestBreakerRoutes(t *testing.T) {
	gw := &fakeGateway{statuses: map[string]breaker.Status{
		"model": {Key: "model", State: breaker.StateOpen, Failures: 5, RetryAfter: 12 * time.Second},
	}}
	r := newTestRouter(t, gw)

	w, body := do(t, r, http.MethodGet, "/admin/breakers/model", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "open", body["state"])
	assert.Equal(t, float64(5), body["failures"])
	assert.Equal(t, float64(12), body["retry_after_seconds"])

	w, body = do(t, r, http.MethodGet, "/admin/breakers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["breakers"], 1)

	w, _ = do(t, r, http.MethodGet, "/admin/breakers/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, r, http.MethodPost, "/admin/breakers/model/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", body["state"])
	assert.Equal(t, []string{"model"}, gw.resets)
}

func TestInvalidateRoute(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRouter(t, gw)

	w, body := do(t, r, http.MethodPost, "/admin/cache/invalidate", `{"tag":"inventory"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inventory", body["tag"])
	assert.Equal(t, float64(3), body["removed"])
	assert.Equal(t, []string{"inventory"}, gw.invalidated)

	t.Run("缺少 tag", func(t *testing.T) {
		w, body := do(t, r, http.MethodPost, "/admin/cache/invalidate", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("非法 JSON", func(t *testing.T) {
		w, _ := do(t, r, http.MethodPost, "/admin/cache/invalidate", `{"tag":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSettingsRoute(t *testing.T) {
	gw := &fakeGateway{state: gateway.SettingsFailed, lastErr: &gateway.ConfigurationError{Reason: "missing api_key"}}
	r := newTestRouter(t, gw)

	w, body := do(t, r, http.MethodGet, "/admin/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", body["state"])
	assert.Contains(t, body["error"], "missing api_key")

	gw.state, gw.lastErr = gateway.SettingsConfigured, nil
	_, body = do(t, r, http.MethodGet, "/admin/settings", "")
	assert.Equal(t, "configured", body["state"])
	assert.NotContains(t, body, "error")
}

func TestQuotaRoute(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRouter(t, gw)

	w, body := do(t, r, http.MethodGet, "/admin/quota/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", body["identity"])
	hour := body["hour"].(map[string]any)
	assert.Equal(t, float64(8), hour["remaining"])
	day := body["day"].(map[string]any)
	assert.Equal(t, float64(-1), day["remaining"], "不限额时 remaining 为 -1")

	gw.usageErr = errors.New("redis down")
	w, _ = do(t, r, http.MethodGet, "/admin/quota/alice", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(t, &fakeGateway{})

	do(t, r, http.MethodGet, "/admin/settings", "")
	w, _ := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRejectsNilGateway(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}
