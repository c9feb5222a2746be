package config

import (
	"strings"

	"github.com/ceyewan/modelgate/clog"
)

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "modelgate"
	Paths     []string // 搜索路径，默认 [".", "./config"]
	FileType  string   // 文件类型，默认 yaml
	EnvPrefix string   // 环境变量前缀，默认 "MODELGATE"
}

func (c *Config) validate() error {
	if c.Name == "" {
		c.Name = "modelgate"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "MODELGATE"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
	return nil
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置。创建后需调用 Load。
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o.logger.WithNamespace("config")), nil
}
