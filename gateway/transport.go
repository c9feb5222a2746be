package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/modelgate/trace"
	"github.com/ceyewan/modelgate/xerrors"
)

// 响应体上限
const maxResponseBytes = 8 << 20

// Request 一次模型调用
type Request struct {
	Model  string
	Prompt string
	System string
	Params SamplingParams
	Image  *Image
	// JSON 为 true 时要求模型直接输出 JSON
	JSON bool
}

// SamplingParams 采样参数，零值字段不发送（Temperature 除外）
type SamplingParams struct {
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	TopP            float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty" mapstructure:"max_output_tokens"`
}

// Image 随 prompt 一起发送的图片
type Image struct {
	MIMEType string
	Data     []byte
}

// Transport 向模型服务发起一次请求，每次重试调用一次
type Transport interface {
	Generate(ctx context.Context, req *Request, s Settings) (string, error)
}

// HTTPTransport 基于 net/http 的默认实现，每次尝试一个 client Span
type HTTPTransport struct {
	client *http.Client
	tracer oteltrace.Tracer
}

// NewHTTPTransport client 为空时使用 http.DefaultClient
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client, tracer: otel.Tracer(tracerName)}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateBody struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

func buildBody(req *Request) ([]byte, error) {
	parts := []part{{Text: req.Prompt}}
	if req.Image != nil {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: req.Image.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.Image.Data),
		}})
	}
	body := generateBody{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     req.Params.Temperature,
			TopP:            req.Params.TopP,
			MaxOutputTokens: req.Params.MaxOutputTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.JSON {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}
	return json.Marshal(body)
}

// Generate 发送一次 POST，并按状态码归类错误
func (t *HTTPTransport) Generate(ctx context.Context, req *Request, s Settings) (text string, err error) {
	timeout := s.Timeout
	if req.Image != nil {
		timeout = s.VisionTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := buildBody(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.ErrInvalidInput, err.Error())
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", s.BaseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &ConfigurationError{Reason: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.APIKey)

	spanCtx, span := trace.StartClientSpan(ctx, t.tracer, req.Model, httpReq.Header)
	httpReq = httpReq.WithContext(spanCtx)
	defer func() {
		trace.MarkSpanError(span, err)
		span.End()
	}()

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &TransientNetworkError{Cause: err}
	}
	defer httpResp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return "", &TransientNetworkError{Cause: err}
	}
	if err := classifyStatus(httpResp.StatusCode, body); err != nil {
		return "", err
	}

	text = extractText(body)
	if text == "" {
		reason := gjson.GetBytes(body, "promptFeedback.blockReason").String()
		if reason == "" {
			reason = gjson.GetBytes(body, "candidates.0.finishReason").String()
		}
		return "", &TransientNetworkError{StatusCode: httpResp.StatusCode, Message: "empty response " + reason}
	}
	return text, nil
}

func classifyStatus(code int, body []byte) error {
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = summarize(body)
	}
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return &TransientNetworkError{StatusCode: code, Message: msg}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return &ConfigurationError{Reason: fmt.Sprintf("model service rejected credentials (status %d): %s", code, msg)}
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "model service rejected request (status %d): %s", code, msg)
	}
}

// extractText 拼接第一个候选的所有文本片段
func extractText(body []byte) string {
	var sb strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts.#.text").ForEach(func(_, v gjson.Result) bool {
		sb.WriteString(v.String())
		return true
	})
	return sb.String()
}

func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
