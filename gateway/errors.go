package gateway

import (
	"fmt"
	"time"

	"github.com/ceyewan/modelgate/breaker"
	"github.com/ceyewan/modelgate/ratelimit"
	"github.com/ceyewan/modelgate/xerrors"
)

// 错误类别，配合 errors.Is 使用
var (
	ErrQuotaExceeded      = xerrors.New("gateway: quota exceeded")
	ErrCircuitOpen        = breaker.ErrOpenState
	ErrTransient          = xerrors.New("gateway: transient network error")
	ErrServiceUnavailable = xerrors.New("gateway: service unavailable")
	ErrMalformedResponse  = xerrors.New("gateway: malformed response")
	ErrConfiguration      = xerrors.New("gateway: configuration error")
)

// QuotaExceededError 配额用尽，没有发起网络调用
type QuotaExceededError struct {
	Identity   string
	Window     ratelimit.Window
	Reason     string
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("gateway: quota exceeded for %q: %s, retry after %s",
		e.Identity, e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }
func (e *QuotaExceededError) Code() string         { return "QUOTA_EXCEEDED" }

// TransientNetworkError 可重试的依赖错误：网络故障、超时、408/429/5xx、空响应
type TransientNetworkError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransientNetworkError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("gateway: transient error: status %d: %s", e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("gateway: transient error: %v", e.Cause)
	default:
		return "gateway: transient error: " + e.Message
	}
}

func (e *TransientNetworkError) Unwrap() error        { return e.Cause }
func (e *TransientNetworkError) Is(target error) bool { return target == ErrTransient }
func (e *TransientNetworkError) Code() string         { return "TRANSIENT" }

// ServiceUnavailableError 重试用尽、超时、舱壁拒绝或熔断打开。
// 熔断打开时 Cause 为 *breaker.OpenError，errors.Is(err, ErrCircuitOpen) 成立。
type ServiceUnavailableError struct {
	Dependency string
	Reason     string
	RetryAfter time.Duration
	Cause      error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("gateway: %s unavailable (%s): %v", e.Dependency, e.Reason, e.Cause)
}

func (e *ServiceUnavailableError) Unwrap() error        { return e.Cause }
func (e *ServiceUnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

func (e *ServiceUnavailableError) Code() string {
	if xerrors.Is(e.Cause, ErrCircuitOpen) {
		return "CIRCUIT_OPEN"
	}
	return "SERVICE_UNAVAILABLE"
}

// MalformedResponseError 本地修复全部失败的结构化响应
type MalformedResponseError struct {
	// Text 截断后的原始响应
	Text  string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("gateway: malformed structured response: %v", e.Cause)
}

func (e *MalformedResponseError) Unwrap() error        { return e.Cause }
func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }
func (e *MalformedResponseError) Code() string         { return "MALFORMED_RESPONSE" }

// ConfigurationError 配置缺失或被依赖拒绝（401/403）。
// 同时满足 xerrors.ErrInvalidInput，因此不重试、不计入熔断。
type ConfigurationError struct {
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gateway: configuration error: %s: %v", e.Reason, e.Cause)
	}
	return "gateway: configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }
func (e *ConfigurationError) Code() string  { return "CONFIGURATION" }

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration || target == xerrors.ErrInvalidInput
}
