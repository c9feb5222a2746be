package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/xerrors"
)

// RedisConfig Redis 存储配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr" yaml:"addr"` // [必填] 如 "127.0.0.1:6379"
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	DB       int    `mapstructure:"db" json:"db" yaml:"db"`

	// Prefix 所有 key 的前缀，默认 "modelgate:"
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`

	PoolSize     int           `mapstructure:"pool_size" json:"pool_size" yaml:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`

	// EnableTracing 为每条 Redis 命令创建 OTel span
	EnableTracing bool `mapstructure:"enable_tracing" json:"enable_tracing" yaml:"enable_tracing"`
	// EnableMetrics 通过全局 MeterProvider 上报连接池与命令耗时指标
	EnableMetrics bool `mapstructure:"enable_metrics" json:"enable_metrics" yaml:"enable_metrics"`
}

func (c *RedisConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "modelgate:"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

func (c *RedisConfig) validate() error {
	if c.Addr == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "redis addr is required")
	}
	return nil
}

type redisStore struct {
	client *redis.Client
	prefix string
	owned  bool
	logger clog.Logger
}

// NewRedis 创建 Redis 存储并检查连通性。
func NewRedis(ctx context.Context, cfg *RedisConfig, opts ...Option) (Store, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "redis config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts...)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	if cfg.EnableTracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, xerrors.Wrap(err, "instrument redis tracing")
		}
	}
	if cfg.EnableMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, xerrors.Wrap(err, "instrument redis metrics")
		}
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		o.logger.Error("failed to connect to redis", clog.String("addr", cfg.Addr), clog.Error(err))
		return nil, xerrors.Wrapf(err, "connect redis %s", cfg.Addr)
	}
	o.logger.Info("connected to redis", clog.String("addr", cfg.Addr), clog.Int("db", cfg.DB))

	return &redisStore{client: client, prefix: cfg.Prefix, owned: true, logger: o.logger}, nil
}

// NewRedisFromClient 复用宿主已有的客户端，Close 不会关闭它。
func NewRedisFromClient(client *redis.Client, prefix string, opts ...Option) (Store, error) {
	if client == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "redis client is nil")
	}
	if prefix == "" {
		prefix = "modelgate:"
	}
	return &redisStore{client: client, prefix: prefix, logger: applyOptions(opts...).logger}, nil
}

func (s *redisStore) key(namespace, key string) string {
	return s.prefix + namespace + ":" + key
}

func (s *redisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "redis get %s", key)
	}
	return data, nil
}

func (s *redisStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(namespace, key), value, ttl).Err(); err != nil {
		return xerrors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(namespace, key)).Err(); err != nil {
		return xerrors.Wrapf(err, "redis del %s", key)
	}
	return nil
}

func (s *redisStore) Close() error {
	if !s.owned {
		return nil
	}
	s.logger.Info("closing redis store")
	return s.client.Close()
}
