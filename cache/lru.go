package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU 进程内 L1：定长、严格按最近访问淘汰，所有操作 O(1)（按 tag 失效除外）。
type LRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	tags     map[string]map[string]struct{}
}

// NewLRU 创建容量为 capacity 的 LRU，capacity <= 0 时为 1
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		tags:     make(map[string]map[string]struct{}),
	}
}

// Get 命中时提升为最近使用并累加命中数；过期条目被删除并视为未命中
func (c *LRU) Get(key string, now time.Time) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*Entry)
	if e.Expired(now) {
		c.removeElement(el)
		return nil, false
	}
	e.HitCount++
	c.ll.MoveToFront(el)
	return e.clone(), true
}

// Set 写入或覆盖条目，容量满时淘汰最久未访问的条目并返回它的 key
func (c *LRU) Set(e *Entry) (evicted string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e = e.clone()
	if el, exists := c.items[e.Key]; exists {
		c.unindex(el.Value.(*Entry))
		el.Value = e
		c.index(e)
		c.ll.MoveToFront(el)
		return "", false
	}

	c.items[e.Key] = c.ll.PushFront(e)
	c.index(e)
	if c.ll.Len() <= c.capacity {
		return "", false
	}

	oldest := c.ll.Back()
	evicted = oldest.Value.(*Entry).Key
	c.removeElement(oldest)
	return evicted, true
}

// Delete 删除 key，返回是否存在
func (c *LRU) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// InvalidateTag 删除带有 tag 的所有条目
func (c *LRU) InvalidateTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.tags[tag]
	n := 0
	for key := range keys {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
			n++
		}
	}
	delete(c.tags, tag)
	return n
}

// Len 当前条目数
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys 按最近使用到最久未用的顺序返回 key
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry).Key)
	}
	return keys
}

func (c *LRU) removeElement(el *list.Element) {
	e := el.Value.(*Entry)
	c.ll.Remove(el)
	delete(c.items, e.Key)
	c.unindex(e)
}

func (c *LRU) index(e *Entry) {
	for _, tag := range e.Tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[e.Key] = struct{}{}
	}
}

func (c *LRU) unindex(e *Entry) {
	for _, tag := range e.Tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, e.Key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}
