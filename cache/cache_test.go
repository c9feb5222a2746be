package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/modelgate/cache/serializer"
	"github.com/ceyewan/modelgate/store"
	"github.com/ceyewan/modelgate/testkit"
	"github.com/ceyewan/modelgate/xerrors"
)

type fixture struct {
	orch  *Orchestrator
	store store.Store
	dir   string
	kit   *testkit.Kit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kit := testkit.NewKit(t)
	st, err := store.NewMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := &fixture{store: st, dir: t.TempDir(), kit: kit}
	f.orch = f.open(t)
	return f
}

// open 基于同一份 store 和目录再创建一个编排器，模拟重启或另一个调用点
func (f *fixture) open(t *testing.T) *Orchestrator {
	t.Helper()
	orch, err := New(&Config{L1Capacity: 16, Disk: DiskConfig{Dir: f.dir}}, f.store,
		WithLogger(f.kit.Logger), WithMeter(f.kit.Meter), WithClock(f.kit.Clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })
	return orch
}

func counter(val string) (ComputeFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(val), nil
	}, &calls
}

func TestGetOrComputeIdempotent(t *testing.T) {
	f := newFixture(t)
	compute, calls := counter("v1")

	v, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	v, err = f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	assert.Equal(t, int32(1), calls.Load())
	stats := f.orch.Stats()
	assert.Equal(t, int64(1), stats.L1Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Computes)
}

// 失败的 compute 不写任何一层
func TestFailedComputeNotCached(t *testing.T) {
	f := newFixture(t)
	errUpstream := errors.New("upstream 503")

	_, err := f.orch.GetOrCompute(f.kit.Ctx, "k", func(context.Context) ([]byte, error) {
		return nil, errUpstream
	}, time.Hour)
	require.ErrorIs(t, err, errUpstream)

	_, ok := f.orch.Get(f.kit.Ctx, "k")
	assert.False(t, ok)
	size, err := f.orch.l3.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	compute, calls := counter("v")
	_, err = f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t)
	compute, _ := counter("v")

	_, err := f.orch.GetOrCompute(f.kit.Ctx, "", compute, time.Hour)
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.True(t, xerrors.IsCallerError(err))

	_, err = f.orch.GetOrCompute(f.kit.Ctx, "k", nil, time.Hour)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = f.orch.InvalidateTag(f.kit.Ctx, "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestPromotion(t *testing.T) {
	t.Run("L2 命中回填 L1", func(t *testing.T) {
		f := newFixture(t)
		compute, calls := counter("v")
		_, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
		require.NoError(t, err)

		// 新编排器共享 store 与目录，L1 为空
		other := f.open(t)
		_, err = other.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
		require.NoError(t, err)
		_, err = other.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, int32(1), calls.Load())
		stats := other.Stats()
		assert.Equal(t, int64(1), stats.L2Hits)
		assert.Equal(t, int64(1), stats.L1Hits)
	})

	t.Run("L3 重启后命中并回填", func(t *testing.T) {
		f := newFixture(t)
		compute, calls := counter("durable")
		_, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
		require.NoError(t, err)

		// 模拟进程重启：新的会话存储，同一个磁盘目录
		st, err := store.NewMemory(nil)
		require.NoError(t, err)
		restarted, err := New(&Config{Disk: DiskConfig{Dir: f.dir}}, st, WithClock(f.kit.Clock.Now))
		require.NoError(t, err)
		defer restarted.Close()

		v, err := restarted.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []byte("durable"), v)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int64(1), restarted.Stats().L3Hits)

		_, ok := restarted.Get(f.kit.Ctx, "k")
		assert.True(t, ok)
		assert.Equal(t, int64(1), restarted.Stats().L1Hits)
	})

	t.Run("回填保留原始创建时间", func(t *testing.T) {
		f := newFixture(t)
		compute, calls := counter("v")
		_, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Minute)
		require.NoError(t, err)

		f.kit.Clock.Advance(40 * time.Second)
		other := f.open(t)
		_, ok := other.Get(f.kit.Ctx, "k")
		require.True(t, ok)

		// 回填后的副本仍在 1 分钟后过期
		f.kit.Clock.Advance(30 * time.Second)
		_, err = other.GetOrCompute(f.kit.Ctx, "k", compute, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t)
	compute, calls := counter("v")

	_, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Minute)
	require.NoError(t, err)

	f.kit.Clock.Advance(59 * time.Second)
	_, err = f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	f.kit.Clock.Advance(2 * time.Second)
	_, err = f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidateTagPrecision(t *testing.T) {
	f := newFixture(t)
	computes := map[string]*atomic.Int32{}
	get := func(key string, tags ...string) {
		compute, calls := counter(key)
		if prev, ok := computes[key]; ok {
			calls = prev
			compute = func(context.Context) ([]byte, error) {
				calls.Add(1)
				return []byte(key), nil
			}
		}
		computes[key] = calls
		_, err := f.orch.GetOrCompute(f.kit.Ctx, key, compute, time.Hour, tags...)
		require.NoError(t, err)
	}

	get("a", "x")
	get("b", "y")
	get("c", "x", "y")
	get("d")

	removed, err := f.orch.InvalidateTag(f.kit.Ctx, "x")
	require.NoError(t, err)
	// a 与 c 各在三层中有一份
	assert.Equal(t, 6, removed)

	for _, key := range []string{"a", "b", "c", "d"} {
		get(key)
	}
	assert.Equal(t, int32(2), computes["a"].Load())
	assert.Equal(t, int32(1), computes["b"].Load())
	assert.Equal(t, int32(2), computes["c"].Load())
	assert.Equal(t, int32(1), computes["d"].Load())
}

// 领域写入后按 tag 失效，下一次读取重新计算
func TestDomainWriteInvalidation(t *testing.T) {
	f := newFixture(t)
	stock := "12 units"
	read := func(context.Context) ([]byte, error) { return []byte(stock), nil }

	v, err := f.orch.GetOrCompute(f.kit.Ctx, "inventory-summary", read, time.Hour, "inventory")
	require.NoError(t, err)
	assert.Equal(t, "12 units", string(v))

	stock = "7 units"
	_, err = f.orch.InvalidateTag(f.kit.Ctx, "inventory")
	require.NoError(t, err)

	v, err = f.orch.GetOrCompute(f.kit.Ctx, "inventory-summary", read, time.Hour, "inventory")
	require.NoError(t, err)
	assert.Equal(t, "7 units", string(v))
}

func TestConcurrentMissComputesOnce(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.orch.GetOrCompute(f.kit.Ctx, "hot", compute, time.Hour)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, []byte("shared"), v)
	}
}

// compute 期间 tag 被失效：结果照常返回，但不写缓存
func TestInvalidateDuringCompute(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan []byte)
	go func() {
		v, err := f.orch.GetOrCompute(f.kit.Ctx, "k", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("old"), nil
		}, time.Hour, "inventory")
		assert.NoError(t, err)
		done <- v
	}()

	<-started
	_, err := f.orch.InvalidateTag(f.kit.Ctx, "inventory")
	require.NoError(t, err)
	close(release)
	assert.Equal(t, []byte("old"), <-done)

	compute, calls := counter("new")
	v, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour, "inventory")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
	assert.Equal(t, int32(1), calls.Load())
}

// 首个调用方取消不影响同一 key 上仍在等待的调用方
func TestLeaderCancelDoesNotFailFollowers(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("shared"), nil
	}

	leaderCtx, cancel := context.WithCancel(f.kit.Ctx)
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.orch.GetOrCompute(leaderCtx, "k", compute, time.Hour)
		leaderErr <- err
	}()
	<-started

	type result struct {
		val []byte
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
		follower <- result{v, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, []byte("shared"), res.val)
	assert.Equal(t, int32(1), calls.Load())

	// 放弃等待的调用方不妨碍结果写入缓存
	v, ok := f.orch.Get(f.kit.Ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("shared"), v)
}

// compute 开始后才发起的失效，无论与写入如何交错，结束后都不应留下旧值
func TestInvalidateRacesWithWrite(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("k%d", i)
		started := make(chan struct{})
		release := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.orch.GetOrCompute(f.kit.Ctx, key, func(context.Context) ([]byte, error) {
				close(started)
				<-release
				return []byte("old"), nil
			}, time.Hour, "inventory")
			assert.NoError(t, err)
		}()

		<-started
		go func() {
			defer wg.Done()
			_, err := f.orch.InvalidateTag(f.kit.Ctx, "inventory")
			assert.NoError(t, err)
		}()
		close(release)
		wg.Wait()

		_, ok := f.orch.Get(f.kit.Ctx, key)
		require.False(t, ok, "第 %d 轮失效后仍命中旧值", i)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	compute, calls := counter("v")
	_, err := f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.orch.Delete(f.kit.Ctx, "k"))
	_, err = f.orch.GetOrCompute(f.kit.Ctx, "k", compute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// brokenStore 所有操作都失败
type brokenStore struct{}

var errStoreDown = errors.New("redis: connection refused")

func (brokenStore) Get(context.Context, string, string) ([]byte, error) { return nil, errStoreDown }
func (brokenStore) Set(context.Context, string, string, []byte, time.Duration) error {
	return errStoreDown
}
func (brokenStore) Delete(context.Context, string, string) error { return errStoreDown }
func (brokenStore) Close() error                                 { return nil }

// 层错误降级为未命中，不影响调用
func TestTierErrorsDegrade(t *testing.T) {
	kit := testkit.NewKit(t)
	orch, err := New(&Config{Disk: DiskConfig{Dir: t.TempDir()}}, brokenStore{}, WithLogger(kit.Logger))
	require.NoError(t, err)
	defer orch.Close()

	compute, calls := counter("v")
	for i := 0; i < 2; i++ {
		v, err := orch.GetOrCompute(kit.Ctx, "k", compute, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSessionIsolation(t *testing.T) {
	st, err := store.NewMemory(nil)
	require.NoError(t, err)
	codec, err := serializer.New("")
	require.NoError(t, err)
	tier := NewSessionTier(st, codec)
	now := time.Now()

	alice := store.WithSession(context.Background(), "alice")
	bob := store.WithSession(context.Background(), "bob")

	require.NoError(t, tier.Set(alice, &Entry{Key: "k", Value: []byte("a"), TTL: time.Hour, Tags: []string{"t"}, CreatedAt: now}, now))

	e, err := tier.Get(alice, "k", now)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("a"), e.Value)

	e, err = tier.Get(bob, "k", now)
	require.NoError(t, err)
	assert.Nil(t, e)

	// 按 tag 失效覆盖所有会话
	require.NoError(t, tier.Set(bob, &Entry{Key: "k", Value: []byte("b"), TTL: time.Hour, Tags: []string{"t"}, CreatedAt: now}, now))
	removed, err := tier.InvalidateTag(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"alice", "bob"}, tier.Sessions())
}

// 索引中的 key 被覆盖为不带该 tag 的条目时不删除
func TestSessionTierRechecksTags(t *testing.T) {
	st, err := store.NewMemory(nil)
	require.NoError(t, err)
	codec, err := serializer.New(serializer.JSON)
	require.NoError(t, err)
	tier := NewSessionTier(st, codec)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, tier.Set(ctx, &Entry{Key: "k", Value: []byte("v1"), Tags: []string{"x"}, CreatedAt: now}, now))
	require.NoError(t, tier.Set(ctx, &Entry{Key: "k", Value: []byte("v2"), Tags: []string{"y"}, CreatedAt: now}, now))

	removed, err := tier.InvalidateTag(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, removed)

	e, err := tier.Get(ctx, "k", now)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("v2"), e.Value)
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, HashKey("a", "b"), HashKey("a", "b"))
	assert.NotEqual(t, HashKey("ab", "c"), HashKey("a", "bc"))
	assert.Len(t, HashKey("x"), 64)
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{Serializer: "gob", Disk: DiskConfig{Dir: t.TempDir()}}, nil)
	assert.ErrorIs(t, err, serializer.ErrUnsupported)

	// 默认配置与进程内 L2
	orch, err := New(&Config{Disk: DiskConfig{Dir: filepath.Join(t.TempDir(), "nested", "dir")}}, nil)
	require.NoError(t, err)
	defer orch.Close()
	assert.Equal(t, 1024, orch.cfg.L1Capacity)
	assert.Equal(t, 24*time.Hour, orch.cfg.DefaultTTL)
	_, err = os.Stat(orch.cfg.Disk.Dir)
	assert.NoError(t, err)
}

func ExampleHashKey() {
	fmt.Println(len(HashKey("prompt", "system", "0.70", "model")))
	// Output: 64
}
