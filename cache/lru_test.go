package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key string, tags ...string) *Entry {
	return &Entry{Key: key, Value: []byte(key), TTL: time.Hour, Tags: tags, CreatedAt: time.Now()}
}

// 插入 capacity+1 个 key 时淘汰最久未访问的那个
func TestLRUEviction(t *testing.T) {
	c := NewLRU(3)
	now := time.Now()

	for _, k := range []string{"a", "b", "c"} {
		_, evicted := c.Set(entry(k))
		assert.False(t, evicted)
	}
	// 访问 a 后，b 成为最久未访问
	_, ok := c.Get("a", now)
	require.True(t, ok)

	key, evicted := c.Set(entry("d"))
	require.True(t, evicted)
	assert.Equal(t, "b", key)
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys())
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("b", now)
	assert.False(t, ok)
}

func TestLRUOverwrite(t *testing.T) {
	c := NewLRU(2)
	c.Set(entry("a", "x"))
	c.Set(entry("b"))

	updated := entry("a", "y")
	updated.Value = []byte("new")
	_, evicted := c.Set(updated)
	assert.False(t, evicted)
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	// 旧 tag 索引随覆盖移除
	assert.Zero(t, c.InvalidateTag("x"))
	assert.Equal(t, 1, c.InvalidateTag("y"))
}

func TestLRUHitCountAndExpiry(t *testing.T) {
	c := NewLRU(2)
	now := time.Now()
	e := entry("a")
	e.TTL = time.Minute
	e.CreatedAt = now
	c.Set(e)

	got, ok := c.Get("a", now)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.HitCount)
	got, _ = c.Get("a", now)
	assert.Equal(t, int64(2), got.HitCount)

	_, ok = c.Get("a", now.Add(time.Minute))
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRUInvalidateTag(t *testing.T) {
	c := NewLRU(10)
	c.Set(entry("a", "x"))
	c.Set(entry("b", "y"))
	c.Set(entry("c", "x", "y"))

	assert.Equal(t, 2, c.InvalidateTag("x"))
	assert.Equal(t, []string{"b"}, c.Keys())
	assert.Zero(t, c.InvalidateTag("missing"))

	assert.True(t, c.Delete("b"))
	assert.False(t, c.Delete("b"))
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeTags([]string{"b", "", "a", "b"}))
	assert.Empty(t, normalizeTags(nil))
}
