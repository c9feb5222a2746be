// Package cache 是模型调用结果的三级 cache-aside 编排。
//
// 查找顺序 L1 → L2 → L3：
//   - L1 进程内 LRU，容量固定
//   - L2 会话级存储，经 store.Store 读写，会话标识来自 store.WithSession
//   - L3 本地磁盘，重启后仍在，原子写入
//
// 下层命中会回填到更快的层；全部未命中时执行 compute，成功后写入三层，失败则什么都不写。
// 任何一层的读写错误都只降级为未命中，不会让调用失败。
//
//	orch, _ := cache.New(&cache.Config{Disk: cache.DiskConfig{Dir: dir}}, st,
//		cache.WithLogger(logger), cache.WithMeter(meter))
//	defer orch.Close()
//
//	val, err := orch.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
//		return callModel(ctx)
//	}, time.Hour, "inventory")
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ceyewan/modelgate/cache/serializer"
	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/metrics"
	"github.com/ceyewan/modelgate/store"
	"github.com/ceyewan/modelgate/xerrors"
)

// ErrEmptyKey key 为空
var ErrEmptyKey = xerrors.Wrap(xerrors.ErrInvalidInput, "cache: key is empty")

// ComputeFunc 未命中时计算值
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Stats 运行统计
type Stats struct {
	L1Hits        int64
	L2Hits        int64
	L3Hits        int64
	Misses        int64
	Computes      int64
	Evictions     int64
	Invalidations int64
	L1Len         int
}

// Orchestrator 三级缓存编排，进程内共享一个实例
type Orchestrator struct {
	cfg    Config
	l1     *LRU
	l2     *SessionTier
	l3     *DiskTier
	flight singleflight.Group
	now    func() time.Time
	logger clog.Logger

	// tag 失效代数：compute 期间 tag 被失效时，结果照常返回但不写缓存。
	// 读锁覆盖"检查代数 + 写入各层"和下层命中的回填，InvalidateTag 持写锁，二者不会交错。
	genMu sync.RWMutex
	gens  map[string]uint64

	l1Hits, l2Hits, l3Hits atomic.Int64
	misses, computes       atomic.Int64
	evictions, invalidated atomic.Int64

	hitsCounter          metrics.Counter
	missesCounter        metrics.Counter
	evictionsCounter     metrics.Counter
	invalidationsCounter metrics.Counter
}

// New 创建编排器。st 为 nil 时 L2 使用进程内存储。
func New(cfg *Config, st store.Store, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()
	o := applyOptions(opts...)

	codec, err := serializer.New(c.Serializer)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st, err = store.NewMemory(nil, store.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
	}
	l3, err := NewDiskTier(c.Disk, codec, o.logger)
	if err != nil {
		return nil, err
	}

	orch := &Orchestrator{
		cfg:    c,
		l1:     NewLRU(c.L1Capacity),
		l2:     NewSessionTier(st, codec),
		l3:     l3,
		now:    o.now,
		logger: o.logger,
		gens:   make(map[string]uint64),

		hitsCounter:          metrics.MustCounter(o.meter, MetricHitsTotal, "Cache hits by tier"),
		missesCounter:        metrics.MustCounter(o.meter, MetricMissesTotal, "Lookups that missed every tier"),
		evictionsCounter:     metrics.MustCounter(o.meter, MetricEvictionsTotal, "L1 LRU evictions"),
		invalidationsCounter: metrics.MustCounter(o.meter, MetricInvalidationsTotal, "Entries removed by tag invalidation"),
	}

	o.logger.Info("cache orchestrator started",
		clog.Int("l1_capacity", c.L1Capacity),
		clog.String("serializer", codec.Name()),
		clog.String("disk_dir", c.Disk.Dir),
		clog.Int64("disk_max_bytes", c.Disk.MaxBytes))
	return orch, nil
}

// GetOrCompute 命中任一层时直接返回；否则执行 compute 并在成功后写入三层。
// 同一 key 的并发未命中只执行一次 compute。ttl <= 0 时使用 DefaultTTL。
func (o *Orchestrator) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, ttl time.Duration, tags ...string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if compute == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: compute is nil")
	}
	if ttl <= 0 {
		ttl = o.cfg.DefaultTTL
	}
	tags = normalizeTags(tags)

	if v, ok := o.Get(ctx, key); ok {
		return v, nil
	}
	o.misses.Add(1)
	o.missesCounter.Inc(ctx)

	gens := o.generations(tags)
	ch := o.flight.DoChan(key, func() (any, error) {
		o.computes.Add(1)
		// 不随首个调用方取消：其他调用方可能仍在等待同一结果，各自的等待由自己的 ctx 放弃
		cctx := context.WithoutCancel(ctx)
		val, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		c := &computed{
			entry: &Entry{Key: key, Value: val, TTL: ttl, Tags: tags, CreatedAt: o.now()},
			gens:  gens,
		}

		o.genMu.RLock()
		defer o.genMu.RUnlock()
		if o.staleLocked(gens) {
			o.logger.DebugContext(cctx, "tag invalidated during compute, result not cached", clog.String("key", key))
			return c, nil
		}
		o.setL1(cctx, c.entry)
		if err := o.l3.Set(cctx, c.entry); err != nil {
			o.logger.WarnContext(cctx, "l3 write failed", clog.String("key", key), clog.Error(err))
		}
		return c, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// L2 按会话写入，每个等待者写自己的会话；代数以发起 compute 时为准
	c := res.Val.(*computed)
	o.genMu.RLock()
	defer o.genMu.RUnlock()
	if !o.staleLocked(c.gens) {
		if err := o.l2.Set(ctx, c.entry, o.now()); err != nil {
			o.logger.WarnContext(ctx, "l2 write failed", clog.String("key", key), clog.Error(err))
		}
	}
	return c.entry.Value, nil
}

// computed compute 结果及其开始时的 tag 代数
type computed struct {
	entry *Entry
	gens  map[string]uint64
}

// Get 依次查找三层，命中下层时回填上层
func (o *Orchestrator) Get(ctx context.Context, key string) ([]byte, bool) {
	o.genMu.RLock()
	defer o.genMu.RUnlock()
	now := o.now()

	if e, ok := o.l1.Get(key, now); ok {
		o.hit(ctx, TierL1)
		return e.Value, true
	}

	e, err := o.l2.Get(ctx, key, now)
	if err != nil {
		o.logger.WarnContext(ctx, "l2 read failed", clog.String("key", key), clog.Error(err))
	}
	if e != nil {
		e.HitCount++
		o.setL1(ctx, e)
		o.hit(ctx, TierL2)
		return e.Value, true
	}

	e, err = o.l3.Get(ctx, key, now)
	if err != nil {
		o.logger.WarnContext(ctx, "l3 read failed", clog.String("key", key), clog.Error(err))
	}
	if e != nil {
		e.HitCount++
		if err := o.l2.Set(ctx, e, now); err != nil {
			o.logger.WarnContext(ctx, "l2 promote failed", clog.String("key", key), clog.Error(err))
		}
		o.setL1(ctx, e)
		o.hit(ctx, TierL3)
		return e.Value, true
	}
	return nil, false
}

// Delete 从所有层删除 key
func (o *Orchestrator) Delete(ctx context.Context, key string) error {
	o.l1.Delete(key)
	return xerrors.Combine(o.l2.Delete(ctx, key), o.l3.Delete(ctx, key))
}

// InvalidateTag 从所有层删除带有 tag 的条目，返回删除的副本数。
// 单层失败不影响其他层，错误合并后返回。
func (o *Orchestrator) InvalidateTag(ctx context.Context, tag string) (int, error) {
	if tag == "" {
		return 0, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: tag is empty")
	}
	o.genMu.Lock()
	defer o.genMu.Unlock()
	o.gens[tag]++

	removed := o.l1.InvalidateTag(tag)
	n2, err2 := o.l2.InvalidateTag(ctx, tag)
	n3, err3 := o.l3.InvalidateTag(ctx, tag)
	removed += n2 + n3

	o.invalidated.Add(int64(removed))
	o.invalidationsCounter.Add(ctx, float64(removed))
	o.logger.InfoContext(ctx, "cache tag invalidated", clog.String("tag", tag), clog.Int("removed", removed))
	return removed, xerrors.Combine(err2, err3)
}

// Cleanup 立即执行一次 L3 清理
func (o *Orchestrator) Cleanup(ctx context.Context) (int, error) {
	return o.l3.Cleanup(ctx)
}

// Stats 返回运行统计
func (o *Orchestrator) Stats() Stats {
	return Stats{
		L1Hits:        o.l1Hits.Load(),
		L2Hits:        o.l2Hits.Load(),
		L3Hits:        o.l3Hits.Load(),
		Misses:        o.misses.Load(),
		Computes:      o.computes.Load(),
		Evictions:     o.evictions.Load(),
		Invalidations: o.invalidated.Load(),
		L1Len:         o.l1.Len(),
	}
}

// Close 停止 L3 后台清理。L2 的 store 由调用方负责关闭。
func (o *Orchestrator) Close() error {
	return o.l3.Close()
}

func (o *Orchestrator) setL1(ctx context.Context, e *Entry) {
	if evicted, ok := o.l1.Set(e); ok {
		o.evictions.Add(1)
		o.evictionsCounter.Inc(ctx)
		o.logger.DebugContext(ctx, "l1 evicted", clog.String("key", evicted))
	}
}

func (o *Orchestrator) hit(ctx context.Context, tier string) {
	switch tier {
	case TierL1:
		o.l1Hits.Add(1)
	case TierL2:
		o.l2Hits.Add(1)
	case TierL3:
		o.l3Hits.Add(1)
	}
	o.hitsCounter.Inc(ctx, metrics.L(LabelTier, tier))
}

func (o *Orchestrator) generations(tags []string) map[string]uint64 {
	if len(tags) == 0 {
		return nil
	}
	o.genMu.RLock()
	defer o.genMu.RUnlock()
	gens := make(map[string]uint64, len(tags))
	for _, t := range tags {
		gens[t] = o.gens[t]
	}
	return gens
}

// staleLocked 调用方需持有 genMu
func (o *Orchestrator) staleLocked(gens map[string]uint64) bool {
	for t, g := range gens {
		if o.gens[t] != g {
			return true
		}
	}
	return false
}

// HashKey 对各部分做带长度前缀的 sha256，避免 ("ab","c") 与 ("a","bc") 冲突
func HashKey(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
