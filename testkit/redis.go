package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAddr 返回测试 Redis 地址，默认 localhost:6379，可通过 MODELGATE_TEST_REDIS_ADDR 覆盖
func RedisAddr() string {
	if addr := os.Getenv("MODELGATE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// NewRedisClient 连接测试 Redis（DB 1），不可达时跳过当前测试
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        RedisAddr(),
		DB:          1,
		DialTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable at %s: %v", RedisAddr(), err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}
