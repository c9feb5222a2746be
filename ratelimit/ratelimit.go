// Package ratelimit 按身份维护小时与日两个配额窗口。
//
// 计数保存在注入的 store.Store 中（进程内或 Redis），本包只负责计算窗口边界与增量：
// 跨过边界后的第一次访问把计数视为 0，不依赖后台定时器。
// 可选的令牌桶节流基于 golang.org/x/time/rate，限制单个身份的瞬时速率。
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{
//		HourlyLimit: 50,
//		DailyLimit:  200,
//	}, st, ratelimit.WithLogger(logger))
//	defer limiter.Close()
//
//	d, err := limiter.Check(ctx, identity)
//	if !d.Allowed {
//		return fmt.Errorf("quota: %s, retry after %s", d.Reason, d.RetryAfter)
//	}
//	// 调用成功后
//	_ = limiter.Record(ctx, identity)
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
	"github.com/ceyewan/modelgate/store"
	"github.com/ceyewan/modelgate/xerrors"
)

// Decision 检查结果
type Decision struct {
	Allowed bool
	// Reason 拒绝原因，允许时为空
	Reason string
	// Window 触发拒绝的窗口
	Window Window
	// RetryAfter 建议等待时长
	RetryAfter time.Duration
}

// WindowUsage 单个窗口的用量
type WindowUsage struct {
	Count   int64
	Limit   int64
	Start   time.Time
	ResetAt time.Time
}

// Remaining 剩余次数，不限时返回 -1
func (u WindowUsage) Remaining() int64 {
	if u.Limit <= 0 {
		return -1
	}
	return max(0, u.Limit-u.Count)
}

// Usage 身份的配额用量
type Usage struct {
	Identity string
	Hour     WindowUsage
	Day      WindowUsage
}

// Limiter 配额限制器，进程内共享一个实例
type Limiter struct {
	cfg      Config
	loc      *time.Location
	store    store.Store
	throttle *throttle
	now      func() time.Time
	logger   clog.Logger

	// 每个身份一把锁，串行化计数的读改写
	locks sync.Map // map[string]*sync.Mutex

	checks   metrics.Counter
	denied   metrics.Counter
	recorded metrics.Counter
	errors   metrics.Counter
}

// New 创建配额限制器
func New(cfg *Config, st store.Store, opts ...Option) (*Limiter, error) {
	if st == nil {
		return nil, ErrStoreNil
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	loc, err := c.location()
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts...)

	l := &Limiter{
		cfg:    c,
		loc:    loc,
		store:  st,
		now:    o.now,
		logger: o.logger,

		checks:   metrics.MustCounter(o.meter, MetricChecksTotal, "Quota checks"),
		denied:   metrics.MustCounter(o.meter, MetricDeniedTotal, "Quota checks denied by window"),
		recorded: metrics.MustCounter(o.meter, MetricRecordedTotal, "Calls counted against quota"),
		errors:   metrics.MustCounter(o.meter, MetricErrorsTotal, "Quota store failures"),
	}
	if c.RatePerSecond > 0 {
		l.throttle = newThrottle(&c, o.now, o.logger)
	}

	o.logger.Info("quota limiter created",
		clog.Int64("hourly_limit", c.HourlyLimit),
		clog.Int64("daily_limit", c.DailyLimit),
		clog.String("timezone", c.Timezone),
		clog.Float64("rate_per_second", c.RatePerSecond))
	return l, nil
}

// Check 判断身份当前是否还有配额。检查本身不消耗配额，但允许时会消耗一个节流令牌。
// 两个窗口都用尽时报告日窗口，等待时间更长。
func (l *Limiter) Check(ctx context.Context, identity string) (Decision, error) {
	if identity == "" {
		return Decision{}, ErrIdentityEmpty
	}
	l.checks.Inc(ctx)
	now := l.now()

	for _, w := range []Window{WindowDay, WindowHour} {
		limit := l.cfg.limit(w)
		if limit <= 0 {
			continue
		}
		rec, err := l.load(ctx, identity, w, now)
		if err != nil {
			return Decision{}, err
		}
		if rec.Count >= limit {
			return l.deny(ctx, identity, Decision{
				Reason:     fmt.Sprintf("%s quota of %d exhausted", w, limit),
				Window:     w,
				RetryAfter: w.End(now, l.loc).Sub(now),
			}), nil
		}
	}

	if l.throttle != nil {
		if delay := l.throttle.reserve(identity); delay > 0 {
			return l.deny(ctx, identity, Decision{
				Reason:     "throttled",
				Window:     WindowThrottle,
				RetryAfter: delay,
			}), nil
		}
	}
	return Decision{Allowed: true}, nil
}

// Record 把一次成功的调用计入两个窗口
func (l *Limiter) Record(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrIdentityEmpty
	}
	mu := l.lock(identity)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	for _, w := range []Window{WindowHour, WindowDay} {
		rec, err := l.load(ctx, identity, w, now)
		if err != nil {
			return err
		}
		rec.Count++
		if err := l.save(ctx, identity, w, rec); err != nil {
			return err
		}
	}
	l.recorded.Inc(ctx)
	return nil
}

// Usage 返回身份在当前窗口的用量
func (l *Limiter) Usage(ctx context.Context, identity string) (Usage, error) {
	if identity == "" {
		return Usage{}, ErrIdentityEmpty
	}
	now := l.now()
	u := Usage{Identity: identity}
	for _, w := range []Window{WindowHour, WindowDay} {
		rec, err := l.load(ctx, identity, w, now)
		if err != nil {
			return Usage{}, err
		}
		wu := WindowUsage{
			Count:   rec.Count,
			Limit:   l.cfg.limit(w),
			Start:   w.Start(now, l.loc),
			ResetAt: w.End(now, l.loc),
		}
		if w == WindowHour {
			u.Hour = wu
		} else {
			u.Day = wu
		}
	}
	return u, nil
}

// Close 停止节流器的后台清理。计数存储由调用方关闭。
func (l *Limiter) Close() error {
	if l.throttle != nil {
		l.throttle.close()
	}
	return nil
}

func (l *Limiter) deny(ctx context.Context, identity string, d Decision) Decision {
	l.denied.Inc(ctx, metrics.L(LabelWindow, string(d.Window)))
	l.logger.InfoContext(ctx, "quota denied",
		clog.String("identity", identity),
		clog.String("window", string(d.Window)),
		clog.Duration("retry_after", d.RetryAfter))
	return d
}

// load 读取窗口计数，记录属于更早的窗口时视为 0
func (l *Limiter) load(ctx context.Context, identity string, w Window, now time.Time) (record, error) {
	start := w.Start(now, l.loc).Unix()
	data, err := l.store.Get(ctx, identity, w.storeKey())
	if xerrors.Is(err, store.ErrNotFound) {
		return record{Start: start}, nil
	}
	if err != nil {
		l.errors.Inc(ctx)
		return record{}, xerrors.Wrapf(err, "load %s quota", w)
	}

	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		l.logger.WarnContext(ctx, "discarding unreadable quota record",
			clog.String("identity", identity), clog.Error(err))
		return record{Start: start}, nil
	}
	if rec.Start != start {
		return record{Start: start}, nil
	}
	return rec, nil
}

func (l *Limiter) save(ctx context.Context, identity string, w Window, rec record) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(err, "encode quota record")
	}
	if err := l.store.Set(ctx, identity, w.storeKey(), data, w.retention()); err != nil {
		l.errors.Inc(ctx)
		return xerrors.Wrapf(err, "save %s quota", w)
	}
	return nil
}

func (l *Limiter) lock(identity string) *sync.Mutex {
	if v, ok := l.locks.Load(identity); ok {
		return v.(*sync.Mutex)
	}
	v, _ := l.locks.LoadOrStore(identity, &sync.Mutex{})
	return v.(*sync.Mutex)
}
