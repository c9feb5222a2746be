package gateway

import (
	"time"

	"github.com/ceyewan/modelgate/breaker"
	"github.com/ceyewan/modelgate/cache"
	"github.com/ceyewan/modelgate/policy"
	"github.com/ceyewan/modelgate/ratelimit"
)

// Config 网关配置
type Config struct {
	// Dependency 熔断器键，图片调用使用 Dependency + "-vision"
	Dependency string `mapstructure:"dependency"`

	// CacheTTL 响应缓存的默认有效期
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	ModelCall policy.ModelCallConfig `mapstructure:"model_call"`
	Vision    policy.ModelCallConfig `mapstructure:"vision"`
}

func (c *Config) setDefaults() {
	if c.Dependency == "" {
		c.Dependency = "model"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.ModelCall == (policy.ModelCallConfig{}) {
		c.ModelCall = policy.DefaultModelCallConfig()
	}
	if c.Vision == (policy.ModelCallConfig{}) {
		c.Vision = policy.DefaultModelCallConfig()
		c.Vision.MaxConcurrent = 2
		c.Vision.Timeout = 120 * time.Second
		c.Vision.QueueTimeout = 30 * time.Second
	}
}

func (c *Config) visionDependency() string {
	return c.Dependency + "-vision"
}

// Deps 网关依赖的组件，由宿主创建并共享
type Deps struct {
	Settings SettingsProvider
	Breaker  breaker.Breaker
	Cache    *cache.Orchestrator
	Limiter  *ratelimit.Limiter
	// Transport 为空时使用 NewHTTPTransport(nil)
	Transport Transport
}
