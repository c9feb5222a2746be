package cache

import (
	"slices"
	"time"
)

// Entry 缓存条目。Value 为不透明字节，各层共享同一形状。
type Entry struct {
	Key       string        `json:"key" msgpack:"key"`
	Value     []byte        `json:"value" msgpack:"value"`
	TTL       time.Duration `json:"ttl" msgpack:"ttl"`
	Tags      []string      `json:"tags,omitempty" msgpack:"tags,omitempty"`
	CreatedAt time.Time     `json:"created_at" msgpack:"created_at"`
	HitCount  int64         `json:"hit_count" msgpack:"hit_count"`
}

// Expired TTL <= 0 的条目不过期
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Remaining 剩余存活时间，不过期的条目返回 0
func (e *Entry) Remaining(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	return e.CreatedAt.Add(e.TTL).Sub(now)
}

// HasTag 判断条目是否带有 tag
func (e *Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Tags = slices.Clone(e.Tags)
	return &c
}

// normalizeTags 去重并排序，丢弃空串
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
