package gateway

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/modelgate/xerrors"
)

func newModelServer(t *testing.T, handler http.HandlerFunc) Settings {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return Settings{APIKey: "secret", Model: "text-model", BaseURL: srv.URL, Timeout: 2 * time.Second}.withDefaults()
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestHTTPTransportSuccess(t *testing.T) {
	var body []byte
	s := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/text-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		body, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"Hello, "},{"text":"world"}]}}]}`)
	})

	tr := NewHTTPTransport(nil)
	text, err := tr.Generate(context.Background(), &Request{
		Model:  "text-model",
		Prompt: "greet",
		System: "be kind",
		Params: SamplingParams{Temperature: 0.3, TopP: 0.9, MaxOutputTokens: 64},
		JSON:   true,
	}, s)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)

	assert.Equal(t, "greet", gjson.GetBytes(body, "contents.0.parts.0.text").String())
	assert.Equal(t, "user", gjson.GetBytes(body, "contents.0.role").String())
	assert.Equal(t, "be kind", gjson.GetBytes(body, "systemInstruction.parts.0.text").String())
	assert.InDelta(t, 0.3, gjson.GetBytes(body, "generationConfig.temperature").Float(), 1e-9)
	assert.InDelta(t, 0.9, gjson.GetBytes(body, "generationConfig.topP").Float(), 1e-9)
	assert.Equal(t, int64(64), gjson.GetBytes(body, "generationConfig.maxOutputTokens").Int())
	assert.Equal(t, "application/json", gjson.GetBytes(body, "generationConfig.responseMimeType").String())
}

func TestHTTPTransportImage(t *testing.T) {
	var body []byte
	s := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"a cat"}]}}]}`)
	})

	data := []byte{0xff, 0xd8, 0xff}
	_, err := NewHTTPTransport(nil).Generate(context.Background(), &Request{
		Model:  "vision-model",
		Prompt: "describe",
		Image:  &Image{MIMEType: "image/jpeg", Data: data},
	}, s)
	require.NoError(t, err)

	inline := gjson.GetBytes(body, "contents.0.parts.1.inlineData")
	assert.Equal(t, "image/jpeg", inline.Get("mimeType").String())
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), inline.Get("data").String())
	assert.False(t, gjson.GetBytes(body, "systemInstruction").Exists())
	assert.False(t, gjson.GetBytes(body, "generationConfig.responseMimeType").Exists())
}

func TestHTTPTransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"503 可重试", http.StatusServiceUnavailable, `{"error":{"message":"model overloaded"}}`, func(t *testing.T, err error) {
			var transient *TransientNetworkError
			require.ErrorAs(t, err, &transient)
			assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
			assert.Equal(t, "model overloaded", transient.Message)
		}},
		{"429 可重试", http.StatusTooManyRequests, `rate limited`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrTransient)
			assert.Contains(t, err.Error(), "rate limited")
		}},
		{"401 配置错误", http.StatusUnauthorized, `{"error":{"message":"API key not valid"}}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.True(t, xerrors.IsCallerError(err))
			assert.Contains(t, err.Error(), "API key not valid")
		}},
		{"400 调用方错误", http.StatusBadRequest, `{"error":{"message":"invalid argument"}}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
			assert.NotErrorIs(t, err, ErrConfiguration)
		}},
		{"200 无文本", http.StatusOK, `{"candidates":[{"finishReason":"SAFETY"}]}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrTransient)
			assert.Contains(t, err.Error(), "SAFETY")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newModelServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := NewHTTPTransport(nil).Generate(context.Background(), &Request{Model: "text-model", Prompt: "p"}, s)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPTransportNetworkFailure(t *testing.T) {
	t.Run("尝试超时", func(t *testing.T) {
		release := make(chan struct{})
		s := newModelServer(t, func(w http.ResponseWriter, _ *http.Request) {
			<-release
		})
		// 先于 srv.Close 执行
		t.Cleanup(func() { close(release) })
		s.Timeout = 50 * time.Millisecond

		_, err := NewHTTPTransport(nil).Generate(context.Background(), &Request{Model: "text-model", Prompt: "p"}, s)
		assert.ErrorIs(t, err, ErrTransient)
		assert.False(t, xerrors.IsCallerError(err))
	})

	t.Run("连接失败", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		s := Settings{APIKey: "k", Model: "m", BaseURL: url}.withDefaults()
		_, err := NewHTTPTransport(nil).Generate(context.Background(), &Request{Model: "m", Prompt: "p"}, s)
		assert.ErrorIs(t, err, ErrTransient)
	})

	t.Run("调用方取消", func(t *testing.T) {
		release := make(chan struct{})
		s := newModelServer(t, func(w http.ResponseWriter, _ *http.Request) {
			<-release
		})
		t.Cleanup(func() { close(release) })

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := NewHTTPTransport(nil).Generate(ctx, &Request{Model: "text-model", Prompt: "p"}, s)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, xerrors.IsCallerError(err))
	})
}

// 每次尝试一个 client span，traceparent 随请求发出
func TestHTTPTransportSpan(t *testing.T) {
	assert.NotNil(t, NewHTTPTransport(nil).tracer)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceparent string
	s := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		writeJSON(w, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	})

	tr := NewHTTPTransport(nil)
	tr.tracer = tp.Tracer(tracerName)
	_, err := tr.Generate(context.Background(), &Request{Model: "text-model", Prompt: "hi"}, s)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "model.generate text-model", spans[0].Name())
	assert.Equal(t, oteltrace.SpanKindClient, spans[0].SpanKind())
	assert.Contains(t, traceparent, spans[0].SpanContext().TraceID().String())
}
