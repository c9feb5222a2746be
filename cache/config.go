package cache

import (
	"os"
	"path/filepath"
	"time"
)

// Config 缓存编排配置
type Config struct {
	// L1Capacity L1 最大条目数，默认 1024
	L1Capacity int `mapstructure:"l1_capacity"`

	// Serializer L2/L3 的编码："msgpack"（默认）或 "json"
	Serializer string `mapstructure:"serializer"`

	// DefaultTTL GetOrCompute 未指定 ttl 时使用，默认 24h
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// Disk L3 配置，Dir 为空时使用系统临时目录下的 modelgate-cache
	Disk DiskConfig `mapstructure:"disk"`
}

func (c *Config) setDefaults() {
	if c.L1Capacity <= 0 {
		c.L1Capacity = 1024
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.Disk.Dir == "" {
		c.Disk.Dir = filepath.Join(os.TempDir(), "modelgate-cache")
	}
	if c.Disk.MaxBytes <= 0 {
		c.Disk.MaxBytes = 256 << 20
	}
}
