// Package testkit 为各组件测试提供共享的依赖与替身。
package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
)

// Kit 通用测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
	Clock  *Clock
}

// NewKit 返回默认测试依赖，Meter 在测试结束时关闭
func NewKit(t *testing.T) *Kit {
	t.Helper()
	meter := NewMeter()
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  meter,
		Clock:  NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// NewLogger 返回 error 级别的测试 logger，需要排查时调低级别
func NewLogger() clog.Logger {
	cfg := clog.NewDevDefaultConfig("")
	cfg.Level = "error"
	logger, err := clog.New(cfg, clog.WithNamespace("test"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回启用的测试 meter，可通过 Handler 抓取
func NewMeter() metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("modelgate-test"))
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewID 返回 8 位随机 ID，用于隔离 key、会话和目录
func NewID() string {
	return uuid.New().String()[0:8]
}

// Clock 可手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建停在 start 的时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now 返回当前模拟时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时钟
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 将时钟设置到指定时刻
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
