package store

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/xerrors"
)

// noExpiry 未指定 TTL 时的过期时间
const noExpiry = 24 * 365 * 100 * time.Hour

// MemoryConfig 进程内存储配置
type MemoryConfig struct {
	// Capacity 最大条目数，默认 100000
	Capacity int `mapstructure:"capacity" json:"capacity" yaml:"capacity"`
}

func (c *MemoryConfig) setDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 100000
	}
}

type memoryStore struct {
	cache  *otter.Cache[string, []byte]
	stats  *stats.Counter
	logger clog.Logger
}

// NewMemory 创建进程内存储。过期从写入开始计算，读取不续期，与 Redis 的 TTL 语义一致。
func NewMemory(cfg *MemoryConfig, opts ...Option) (Store, error) {
	if cfg == nil {
		cfg = &MemoryConfig{}
	}
	cfg.setDefaults()
	o := applyOptions(opts...)

	counter := stats.NewCounter()
	cache, err := otter.New(&otter.Options[string, []byte]{
		MaximumSize:      cfg.Capacity,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](noExpiry),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "build otter cache")
	}

	return &memoryStore{cache: cache, stats: counter, logger: o.logger}, nil
}

func memoryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *memoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	v, ok := s.cache.GetIfPresent(memoryKey(namespace, key))
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memoryStore) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	k := memoryKey(namespace, key)
	s.cache.Set(k, append([]byte(nil), value...))
	if ttl > 0 {
		s.cache.SetExpiresAfter(k, ttl)
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, namespace, key string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	s.cache.Invalidate(memoryKey(namespace, key))
	return nil
}

func (s *memoryStore) Close() error {
	snapshot := s.stats.Snapshot()
	s.logger.Debug("memory store closed",
		clog.Int64("hits", int64(snapshot.Hits)),
		clog.Int64("misses", int64(snapshot.Misses)),
	)
	s.cache.StopAllGoroutines()
	return nil
}
