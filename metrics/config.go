package metrics

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: "modelgate"
//	  version: "v0.3.0"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`

	// ServiceName 写入 OTel Resource 的 service.name
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`

	// Version 写入 OTel Resource 的 service.version
	Version string `mapstructure:"version" json:"version" yaml:"version"`

	// Port 大于 0 时启动独立的 Prometheus 抓取端口；为 0 时由宿主通过 Meter.Handler 挂载
	Port int `mapstructure:"port" json:"port" yaml:"port"`

	// Path 抓取路径，默认 /metrics
	Path string `mapstructure:"path" json:"path" yaml:"path"`
}

// NewDevDefaultConfig 开发环境配置：启用指标，不单独监听端口。
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "modelgate"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
