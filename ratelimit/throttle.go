package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/modelgate/clog"
)

// bucket 包装 rate.Limiter 并记录最后访问时间
type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle 每个身份一个令牌桶
type throttle struct {
	limit   rate.Limit
	burst   int
	now     func() time.Time
	logger  clog.Logger
	buckets sync.Map // map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

func newThrottle(cfg *Config, now func() time.Time, logger clog.Logger) *throttle {
	t := &throttle{
		limit:  rate.Limit(cfg.RatePerSecond),
		burst:  cfg.Burst,
		now:    now,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	go t.cleanup(cfg.CleanupInterval, cfg.IdleTimeout)
	return t
}

// reserve 取一个令牌。需要等待时不消耗令牌，返回需要等待的时长。
func (t *throttle) reserve(identity string) time.Duration {
	b := t.bucket(identity)
	now := t.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Duration(1<<63 - 1)
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	return delay
}

func (t *throttle) bucket(identity string) *bucket {
	if v, ok := t.buckets.Load(identity); ok {
		return v.(*bucket)
	}
	b := &bucket{
		limiter:  rate.NewLimiter(t.limit, t.burst),
		lastSeen: t.now(),
	}
	actual, _ := t.buckets.LoadOrStore(identity, b)
	return actual.(*bucket)
}

// cleanup 定期清理空闲的令牌桶
func (t *throttle) cleanup(interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := t.now()
			count := 0
			t.buckets.Range(func(key, value any) bool {
				b := value.(*bucket)
				b.mu.Lock()
				idle := now.Sub(b.lastSeen)
				b.mu.Unlock()
				if idle > idleTimeout {
					t.buckets.Delete(key)
					count++
				}
				return true
			})
			if count > 0 {
				t.logger.Debug("cleaned up idle buckets", clog.Int("count", count))
			}
		case <-t.stopCh:
			return
		}
	}
}

func (t *throttle) close() {
	t.once.Do(func() { close(t.stopCh) })
}
