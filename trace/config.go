package trace

// Config 链路追踪配置
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	// Endpoint OTLP gRPC 地址，为空时不导出
	Endpoint string  `mapstructure:"endpoint"`
	Sampler  float64 `mapstructure:"sampler"`
	// Batcher batch（默认）或 simple
	Batcher  string `mapstructure:"batcher"`
	Insecure bool   `mapstructure:"insecure"`
}

// DefaultConfig 本地开发配置：不导出，全采样
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}
