// Package breaker 为网关的每个外部依赖维护独立的熔断器。
//
// 熔断器按依赖名（如 "model"、"model-vision"、"weather-api"）惰性创建，
// 同一个 Breaker 实例在进程内共享，由构造函数注入到需要它的组件中。
//
// 默认的 consecutive 模式按连续失败次数跳闸：
//
//	CLOSED --连续失败达到 FailureThreshold--> OPEN
//	OPEN   --距 OpenedAt 超过 RecoveryTimeout 后的下一次调用--> HALF_OPEN
//	HALF_OPEN --试探成功达到 SuccessThreshold--> CLOSED
//	HALF_OPEN --任一试探失败--> OPEN（重新计时）
//
// ratio 模式基于 gobreaker，按统计周期内的失败率跳闸，适合高调用量的第三方数据接口。
//
// 基本使用：
//
//	brk, _ := breaker.New(&breaker.Config{
//		FailureThreshold: 5,
//		RecoveryTimeout:  30 * time.Second,
//	}, breaker.WithLogger(logger), breaker.WithMeter(meter))
//
//	result, err := brk.Execute(ctx, "model", func() (any, error) {
//		return client.Generate(ctx, req)
//	})
//	if errors.Is(err, breaker.ErrOpenState) {
//		// 快速失败，fn 未被调用
//	}
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/modelgate/clog"
)

// Breaker 熔断器注册表
type Breaker interface {
	// Execute 在 key 对应的熔断器保护下执行 fn。
	// 熔断打开时不调用 fn，返回满足 errors.Is(err, ErrOpenState) 的 *OpenError。
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 返回 key 当前的有效状态，未创建过的 key 视为 closed
	State(key string) (State, error)

	// Status 返回 key 的完整快照
	Status(key string) (Status, error)

	// Reset 将 key 强制恢复为 closed
	Reset(key string) error

	// Keys 返回已创建熔断器的依赖名
	Keys() []string
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText 使状态在 JSON 中以字符串输出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status 熔断器快照
type Status struct {
	Key              string        `json:"key"`
	State            State         `json:"state"`
	Failures         int           `json:"failures"`
	TrialSuccesses   int           `json:"trial_successes"`
	TrialsInFlight   int           `json:"trials_in_flight"`
	OpenedAt         time.Time     `json:"opened_at,omitempty"`
	RetryAfter       time.Duration `json:"retry_after"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	HalfOpenTrials   int           `json:"half_open_trials"`
	SuccessThreshold int           `json:"success_threshold"`
}

// 跳闸模式
const (
	ModeConsecutive = "consecutive"
	ModeRatio       = "ratio"
)

// Thresholds 单个依赖的阈值，零值字段继承 Config 中的默认值
type Thresholds struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	HalfOpenTrials   int           `json:"half_open_trials" yaml:"half_open_trials" mapstructure:"half_open_trials"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`
}

// Config 熔断器配置
type Config struct {
	// Mode 跳闸模式：consecutive（默认）或 ratio
	Mode string `json:"mode" yaml:"mode" mapstructure:"mode"`

	// FailureThreshold 连续失败多少次后打开（默认 5）
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// RecoveryTimeout 打开状态持续多久后允许试探（默认 30s）
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" mapstructure:"recovery_timeout"`

	// HalfOpenTrials 半开状态下允许同时进行的试探调用数（默认 1）
	HalfOpenTrials int `json:"half_open_trials" yaml:"half_open_trials" mapstructure:"half_open_trials"`

	// SuccessThreshold 半开状态下需要多少次试探成功才关闭（默认 1）
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`

	// FailureRatio ratio 模式下的失败率阈值（默认 0.6）
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`

	// MinimumRequests ratio 模式下触发跳闸的最小请求数（默认 10）
	MinimumRequests uint32 `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`

	// Interval ratio 模式下 closed 状态的统计周期，0 表示不清空
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Dependencies 按依赖名覆盖阈值
	Dependencies map[string]Thresholds `json:"dependencies" yaml:"dependencies" mapstructure:"dependencies"`
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeConsecutive
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenTrials <= 0 {
		c.HalfOpenTrials = 1
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
}

func (c *Config) validate() error {
	if c.Mode != ModeConsecutive && c.Mode != ModeRatio {
		return ErrInvalidMode
	}
	if c.FailureRatio > 1 {
		return ErrInvalidRatio
	}
	return nil
}

// thresholdsFor 合并依赖级覆盖与默认值
func (c *Config) thresholdsFor(key string) Thresholds {
	t := Thresholds{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
		HalfOpenTrials:   c.HalfOpenTrials,
		SuccessThreshold: c.SuccessThreshold,
	}
	o, ok := c.Dependencies[key]
	if !ok {
		return t
	}
	if o.FailureThreshold > 0 {
		t.FailureThreshold = o.FailureThreshold
	}
	if o.RecoveryTimeout > 0 {
		t.RecoveryTimeout = o.RecoveryTimeout
	}
	if o.HalfOpenTrials > 0 {
		t.HalfOpenTrials = o.HalfOpenTrials
	}
	if o.SuccessThreshold > 0 {
		t.SuccessThreshold = o.SuccessThreshold
	}
	return t
}

// New 创建熔断器注册表
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts...)
	o.logger.Info("creating circuit breaker",
		clog.String("mode", cfg.Mode),
		clog.Int("failure_threshold", cfg.FailureThreshold),
		clog.Duration("recovery_timeout", cfg.RecoveryTimeout),
		clog.Int("half_open_trials", cfg.HalfOpenTrials),
		clog.Int("success_threshold", cfg.SuccessThreshold))

	obs := newObserver(o)
	if cfg.Mode == ModeRatio {
		return newRatioBreaker(cfg, o, obs), nil
	}
	return newConsecutiveBreaker(cfg, o, obs), nil
}
