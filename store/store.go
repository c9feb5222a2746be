// Package store 是网关会话级缓存与配额计数的存储协作方。
//
// Store 只提供按命名空间隔离的 get/set/delete，值为不透明的字节串。
// 本地实现基于 otter，共享实现基于 Redis；网关对两者没有区别对待。
package store

import (
	"context"
	"time"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/xerrors"
)

// ErrNotFound key 不存在或已过期
var ErrNotFound = xerrors.Wrap(xerrors.ErrNotFound, "store")

// ErrEmptyNamespace 命名空间为空
var ErrEmptyNamespace = xerrors.Wrap(xerrors.ErrInvalidInput, "store: namespace is empty")

// Store 命名空间隔离的键值存储
type Store interface {
	// Get 读取值，不存在时返回 ErrNotFound
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Set 写入值，ttl <= 0 表示不过期
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Delete 删除值，不存在时不报错
	Delete(ctx context.Context, namespace, key string) error

	// Close 释放资源
	Close() error
}

// AnonymousSession 未携带会话标识时使用的命名空间
const AnonymousSession = "anonymous"

type sessionKey struct{}

// WithSession 在 Context 中记录会话标识，L2 缓存和配额都以它为命名空间。
// 同时写入 clog.SessionIDKey，日志可通过 clog.WithStandardContext 输出 session_id。
func WithSession(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, clog.SessionIDKey, id)
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom 读取会话标识，缺省为 AnonymousSession。
func SessionFrom(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(sessionKey{}).(string); ok && id != "" {
			return id
		}
	}
	return AnonymousSession
}

func checkNamespace(namespace string) error {
	if namespace == "" {
		return ErrEmptyNamespace
	}
	return nil
}
