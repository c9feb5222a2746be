package policy

import (
	"time"

	"github.com/ceyewan/modelgate/breaker"
)

// ExternalAPI 通用外部接口：10s 总超时，3 次尝试，500ms 起步退避，每次尝试经过熔断器
func ExternalAPI(brk breaker.Breaker, dependency string) []Policy {
	return []Policy{
		Timeout{Timeout: 10 * time.Second},
		Retry{MaxAttempts: 3, BackoffBase: 500 * time.Millisecond, MaxBackoff: 4 * time.Second},
		CircuitBreaker{Breaker: brk, Dependency: dependency},
	}
}

// ModelCallConfig 模型调用的策略参数
type ModelCallConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Queue         bool          `mapstructure:"queue"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
}

// DefaultModelCallConfig 默认模型调用参数
func DefaultModelCallConfig() ModelCallConfig {
	return ModelCallConfig{
		MaxConcurrent: 8,
		Queue:         true,
		QueueTimeout:  10 * time.Second,
		Timeout:       45 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		MaxBackoff:    10 * time.Second,
	}
}

// ModelCall 模型调用：舱壁 → 超时 → 重试 → 熔断。
// bulkhead 为空时按 cfg 新建；需要跨链共享名额时传入同一个 Bulkhead。
func ModelCall(brk breaker.Breaker, dependency string, cfg ModelCallConfig, bulkhead *Bulkhead) []Policy {
	if bulkhead == nil {
		bulkhead = NewBulkhead(BulkheadConfig{
			MaxConcurrent: cfg.MaxConcurrent,
			Queue:         cfg.Queue,
			QueueTimeout:  cfg.QueueTimeout,
		})
	}
	return []Policy{
		bulkhead,
		Timeout{Timeout: cfg.Timeout},
		Retry{MaxAttempts: cfg.MaxAttempts, BackoffBase: cfg.BackoffBase, MaxBackoff: cfg.MaxBackoff},
		CircuitBreaker{Breaker: brk, Dependency: dependency},
	}
}

// StorageRead 存储读取：2s 超时，2 次尝试，不经过熔断器
func StorageRead() []Policy {
	return []Policy{
		Timeout{Timeout: 2 * time.Second},
		Retry{MaxAttempts: 2, BackoffBase: 50 * time.Millisecond, MaxBackoff: 200 * time.Millisecond},
	}
}
