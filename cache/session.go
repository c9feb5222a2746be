package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ceyewan/modelgate/cache/serializer"
	"github.com/ceyewan/modelgate/store"
	"github.com/ceyewan/modelgate/xerrors"
)

const (
	sessionEntryPrefix = "cache:entry:"
	sessionTagPrefix   = "cache:tag:"
)

// SessionTier L2：以会话标识为命名空间，把条目编码后写入 store.Store。
//
// 每个会话在存储中维护 tag → keys 的索引；本进程写过的会话会被记住，
// 按 tag 失效时逐个会话清理。
type SessionTier struct {
	store store.Store
	codec serializer.Serializer

	mu       sync.Mutex
	sessions map[string]struct{}
}

// NewSessionTier 创建 L2
func NewSessionTier(st store.Store, codec serializer.Serializer) *SessionTier {
	return &SessionTier{
		store:    st,
		codec:    codec,
		sessions: make(map[string]struct{}),
	}
}

// Get 读取当前会话的条目。未命中返回 (nil, nil)；过期条目被删除后视为未命中。
func (t *SessionTier) Get(ctx context.Context, key string, now time.Time) (*Entry, error) {
	session := store.SessionFrom(ctx)
	data, err := t.store.Get(ctx, session, sessionEntryPrefix+key)
	if xerrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := t.codec.Unmarshal(data, &e); err != nil {
		// 无法解码的条目直接丢弃
		_ = t.store.Delete(ctx, session, sessionEntryPrefix+key)
		return nil, xerrors.Wrap(err, "decode session entry")
	}
	if e.Expired(now) {
		return nil, t.store.Delete(ctx, session, sessionEntryPrefix+key)
	}
	return &e, nil
}

// Set 写入当前会话，并把 key 登记到每个 tag 的索引中
func (t *SessionTier) Set(ctx context.Context, e *Entry, now time.Time) error {
	ttl := e.Remaining(now)
	if e.TTL > 0 && ttl <= 0 {
		return nil
	}
	data, err := t.codec.Marshal(e)
	if err != nil {
		return xerrors.Wrap(err, "encode session entry")
	}

	session := store.SessionFrom(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[session] = struct{}{}

	if err := t.store.Set(ctx, session, sessionEntryPrefix+e.Key, data, ttl); err != nil {
		return err
	}
	for _, tag := range e.Tags {
		keys, err := t.readIndex(ctx, session, tag)
		if err != nil {
			return err
		}
		if slices.Contains(keys, e.Key) {
			continue
		}
		if err := t.writeIndex(ctx, session, tag, append(keys, e.Key)); err != nil {
			return err
		}
	}
	return nil
}

// Delete 从所有已知会话中删除 key
func (t *SessionTier) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs xerrors.Collector
	for session := range t.sessions {
		errs.Collect(t.store.Delete(ctx, session, sessionEntryPrefix+key))
	}
	return errs.Err()
}

// InvalidateTag 删除所有已知会话中带有 tag 的条目。
// 索引中的 key 可能已被不带该 tag 的新条目覆盖，删除前会重新确认。
func (t *SessionTier) InvalidateTag(ctx context.Context, tag string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	var errs xerrors.Collector
	for session := range t.sessions {
		keys, err := t.readIndex(ctx, session, tag)
		if err != nil {
			errs.Collect(err)
			continue
		}
		for _, key := range keys {
			data, err := t.store.Get(ctx, session, sessionEntryPrefix+key)
			if err != nil {
				if !xerrors.Is(err, store.ErrNotFound) {
					errs.Collect(err)
				}
				continue
			}
			var e Entry
			if err := t.codec.Unmarshal(data, &e); err == nil && !e.HasTag(tag) {
				continue
			}
			if err := t.store.Delete(ctx, session, sessionEntryPrefix+key); err != nil {
				errs.Collect(err)
				continue
			}
			removed++
		}
		errs.Collect(t.store.Delete(ctx, session, sessionTagPrefix+tag))
	}
	return removed, errs.Err()
}

// Sessions 返回本进程写过的会话
func (t *SessionTier) Sessions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.sessions))
	for s := range t.sessions {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (t *SessionTier) readIndex(ctx context.Context, session, tag string) ([]string, error) {
	data, err := t.store.Get(ctx, session, sessionTagPrefix+tag)
	if xerrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := t.codec.Unmarshal(data, &keys); err != nil {
		return nil, xerrors.Wrap(err, "decode tag index")
	}
	return keys, nil
}

func (t *SessionTier) writeIndex(ctx context.Context, session, tag string, keys []string) error {
	data, err := t.codec.Marshal(keys)
	if err != nil {
		return xerrors.Wrap(err, "encode tag index")
	}
	return t.store.Set(ctx, session, sessionTagPrefix+tag, data, 0)
}
