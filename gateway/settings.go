package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/config"
)

// Settings 模型服务的连接参数
type Settings struct {
	APIKey        string        `mapstructure:"api_key" json:"-"`
	Model         string        `mapstructure:"model" json:"model"`
	VisionModel   string        `mapstructure:"vision_model" json:"vision_model"`     // 默认与 Model 相同
	BaseURL       string        `mapstructure:"base_url" json:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`               // 单次 HTTP 尝试的超时，0 表示只受策略链约束
	VisionTimeout time.Duration `mapstructure:"vision_timeout" json:"vision_timeout"` // 默认与 Timeout 相同
}

func (s Settings) validate() error {
	var missing []string
	if s.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if s.Model == "" {
		missing = append(missing, "model")
	}
	if s.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Reason: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}

func (s Settings) withDefaults() Settings {
	if s.VisionModel == "" {
		s.VisionModel = s.Model
	}
	if s.VisionTimeout <= 0 {
		s.VisionTimeout = s.Timeout
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return s
}

// SettingsProvider 由宿主提供配置，可能在首次用户交互之后才可用
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

// SettingsFunc 函数形式的 SettingsProvider
type SettingsFunc func(ctx context.Context) (Settings, error)

func (f SettingsFunc) Settings(ctx context.Context) (Settings, error) { return f(ctx) }

// StaticSettings 固定配置
func StaticSettings(s Settings) SettingsProvider {
	return SettingsFunc(func(context.Context) (Settings, error) { return s, nil })
}

// FromLoader 从 config.Loader 的 key 下读取配置，每次解析都重新读取
func FromLoader(loader config.Loader, key string) SettingsProvider {
	return SettingsFunc(func(context.Context) (Settings, error) {
		var s Settings
		if err := loader.UnmarshalKey(key, &s); err != nil {
			return Settings{}, err
		}
		return s, nil
	})
}

// SettingsState 配置解析状态
type SettingsState int

const (
	SettingsUnconfigured SettingsState = iota
	SettingsConfigured
	SettingsFailed
)

func (s SettingsState) String() string {
	switch s {
	case SettingsUnconfigured:
		return "unconfigured"
	case SettingsConfigured:
		return "configured"
	case SettingsFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText 使状态在 JSON 中以字符串输出
func (s SettingsState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// lazySettings 延迟解析的配置。Unconfigured 与 Failed 在每次访问时重试，Configured 之后不再变化。
type lazySettings struct {
	provider SettingsProvider
	logger   clog.Logger

	mu       sync.Mutex
	state    SettingsState
	settings Settings
	lastErr  error
	attempts int
}

func newLazySettings(p SettingsProvider, logger clog.Logger) *lazySettings {
	return &lazySettings{provider: p, logger: logger}
}

func (l *lazySettings) get(ctx context.Context) (Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == SettingsConfigured {
		return l.settings, nil
	}

	l.attempts++
	s, err := l.provider.Settings(ctx)
	if err == nil {
		err = s.validate()
	}
	if err != nil {
		l.state = SettingsFailed
		cfgErr, ok := err.(*ConfigurationError)
		if !ok {
			cfgErr = &ConfigurationError{Reason: "resolve settings", Cause: err}
		}
		l.lastErr = cfgErr
		l.logger.WarnContext(ctx, "settings resolution failed",
			clog.Int("attempt", l.attempts), clog.Error(err))
		return Settings{}, cfgErr
	}

	l.settings = s.withDefaults()
	l.state = SettingsConfigured
	l.lastErr = nil
	l.logger.InfoContext(ctx, "settings resolved",
		clog.String("model", l.settings.Model),
		clog.String("vision_model", l.settings.VisionModel),
		clog.String("base_url", l.settings.BaseURL),
		clog.Int("attempt", l.attempts))
	return l.settings, nil
}

func (l *lazySettings) snapshot() (SettingsState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.lastErr
}
