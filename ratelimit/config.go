package ratelimit

import (
	"time"

	"github.com/ceyewan/modelgate/xerrors"
)

// Config 配额配置
type Config struct {
	// HourlyLimit 每小时调用上限，<= 0 表示不限
	HourlyLimit int64 `mapstructure:"hourly_limit"`
	// DailyLimit 每日调用上限，<= 0 表示不限
	DailyLimit int64 `mapstructure:"daily_limit"`
	// Timezone 窗口对齐使用的时区，默认 UTC
	Timezone string `mapstructure:"timezone"`

	// RatePerSecond 每个身份的令牌速率，<= 0 时不节流
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	// Burst 令牌桶容量，默认等于 max(1, RatePerSecond)
	Burst int `mapstructure:"burst"`
	// CleanupInterval 清理空闲令牌桶的间隔（默认：1 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// IdleTimeout 令牌桶空闲超时时间（默认：5 分钟）
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.RatePerSecond > 0 && c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSecond))
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

func (c *Config) location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInvalidLocation, "%q: %v", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) limit(w Window) int64 {
	if w == WindowHour {
		return c.HourlyLimit
	}
	return c.DailyLimit
}
