package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ceyewan/modelgate/clog"
)

// BulkheadConfig 舱壁配置
type BulkheadConfig struct {
	// MaxConcurrent 同时执行的最大调用数，<= 0 时为 1
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// Queue 为 true 时超出的调用排队等待，否则立即拒绝
	Queue bool `mapstructure:"queue"`
	// QueueTimeout 排队等待上限，0 表示只受 ctx 约束
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
}

// BulkheadStats 舱壁统计
type BulkheadStats struct {
	Active        int
	Peak          int
	Rejected      int64
	MaxConcurrent int
}

// Bulkhead 并发隔离。同一个 Bulkhead 可以被多条链共享，名额跨链计算。
type Bulkhead struct {
	cfg BulkheadConfig
	sem *semaphore.Weighted

	mu       sync.Mutex
	active   int
	peak     int
	rejected int64
}

// NewBulkhead 创建舱壁
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Bulkhead{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

func (*Bulkhead) Kind() Kind { return KindBulkhead }

// Stats 返回当前统计
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BulkheadStats{
		Active:        b.active,
		Peak:          b.peak,
		Rejected:      b.rejected,
		MaxConcurrent: b.cfg.MaxConcurrent,
	}
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	if !b.cfg.Queue {
		if !b.sem.TryAcquire(1) {
			return fmt.Errorf("%w: %d in flight", ErrBulkheadFull, b.cfg.MaxConcurrent)
		}
		return nil
	}

	wctx := ctx
	if b.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, b.cfg.QueueTimeout)
		defer cancel()
	}
	if err := b.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: queued longer than %s", ErrBulkheadFull, b.cfg.QueueTimeout)
	}
	return nil
}

func (b *Bulkhead) enter() {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) leave() {
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	b.sem.Release(1)
}

func (b *Bulkhead) wrap(next Operation, e *env) Operation {
	return func(ctx context.Context) (any, error) {
		if err := b.acquire(ctx); err != nil {
			if ctx.Err() == nil {
				b.mu.Lock()
				b.rejected++
				b.mu.Unlock()
				e.rejected.Inc(ctx, e.label())
				e.logger.WarnContext(ctx, "bulkhead rejected call",
					clog.Int("max_concurrent", b.cfg.MaxConcurrent),
					clog.Bool("queue", b.cfg.Queue))
			}
			return nil, err
		}
		b.enter()
		defer b.leave()
		return next(ctx)
	}
}
