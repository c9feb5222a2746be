package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/modelgate/cache/serializer"
	"github.com/ceyewan/modelgate/testkit"
)

func newDiskTier(t *testing.T, cfg DiskConfig) *DiskTier {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	codec, err := serializer.New("")
	require.NoError(t, err)
	d, err := NewDiskTier(cfg, codec, testkit.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

func TestDiskTierRoundTrip(t *testing.T) {
	d := newDiskTier(t, DiskConfig{})
	ctx := context.Background()
	now := time.Now()

	e := entry("prompt-hash", "inventory")
	e.CreatedAt = now
	require.NoError(t, d.Set(ctx, e))

	got, err := d.Get(ctx, "prompt-hash", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Value, got.Value)
	assert.Equal(t, e.Tags, got.Tags)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

	// 按哈希分目录，没有残留的临时文件
	files := listFiles(t, d.cfg.Dir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], entryExt))
	assert.Equal(t, d.path("prompt-hash"), files[0])

	miss, err := d.Get(ctx, "other", now)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestDiskTierExpiredRemoved(t *testing.T) {
	d := newDiskTier(t, DiskConfig{})
	ctx := context.Background()
	now := time.Now()

	e := entry("k")
	e.TTL = time.Minute
	e.CreatedAt = now
	require.NoError(t, d.Set(ctx, e))

	got, err := d.Get(ctx, "k", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, listFiles(t, d.cfg.Dir))
}

func TestDiskTierCorruptFile(t *testing.T) {
	d := newDiskTier(t, DiskConfig{})
	ctx := context.Background()

	p := d.path("k")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("not an entry"), 0o644))

	got, err := d.Get(ctx, "k", time.Now())
	assert.Error(t, err)
	assert.Nil(t, got)
	_, statErr := os.Stat(p)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDiskTierInvalidateTag(t *testing.T) {
	d := newDiskTier(t, DiskConfig{})
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, entry("a", "x")))
	require.NoError(t, d.Set(ctx, entry("b", "y")))
	require.NoError(t, d.Set(ctx, entry("c", "x", "y")))

	removed, err := d.InvalidateTag(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := d.Get(ctx, "b", time.Now())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Len(t, listFiles(t, d.cfg.Dir), 1)
}

// 超过 MaxBytes 时从最早写入的条目开始删除
func TestDiskTierCleanup(t *testing.T) {
	d := newDiskTier(t, DiskConfig{})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, key := range []string{"oldest", "middle", "newest"} {
		e := entry(key)
		e.Value = make([]byte, 1000)
		require.NoError(t, d.Set(ctx, e))
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(d.path(key), mt, mt))
	}
	size, err := d.Size()
	require.NoError(t, err)
	one := size / 3

	// 只容得下两个条目
	d.cfg.MaxBytes = 2*one + one/2
	removed, err := d.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, _ := d.Get(ctx, "oldest", time.Now())
	assert.Nil(t, got)
	got, _ = d.Get(ctx, "newest", time.Now())
	assert.NotNil(t, got)

	// 未超限时不删除
	removed, err = d.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDiskTierCleanupStaleTemp(t *testing.T) {
	d := newDiskTier(t, DiskConfig{})
	tmp := filepath.Join(d.cfg.Dir, "ab", "abc.entry.123.tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(tmp), 0o755))
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(tmp, old, old))

	_, err := d.Cleanup(context.Background())
	require.NoError(t, err)
	_, statErr := os.Stat(tmp)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDiskTierBackgroundCleanup(t *testing.T) {
	d := newDiskTier(t, DiskConfig{MaxBytes: 1, CleanupInterval: 10 * time.Millisecond})
	require.NoError(t, d.Set(context.Background(), entry("k")))

	assert.Eventually(t, func() bool {
		return len(listFiles(t, d.cfg.Dir)) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Close())
	// 重复关闭安全
	require.NoError(t, d.Close())
}

func TestNewDiskTierEmptyDir(t *testing.T) {
	codec, _ := serializer.New("")
	_, err := NewDiskTier(DiskConfig{}, codec, nil)
	assert.Error(t, err)
}
