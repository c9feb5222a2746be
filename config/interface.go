// Package config 基于 Viper 的配置加载器。
//
// 配置来源及优先级：环境变量 > .env > 环境特定文件（modelgate.<env>.yaml）> 基础文件。
// 环境由 <PREFIX>_ENV 指定，key 中的 "." 映射为环境变量中的 "_"，
// 例如 gateway.api_key 对应 MODELGATE_GATEWAY_API_KEY。
//
//	loader, _ := config.New(&config.Config{Name: "modelgate"})
//	if err := loader.Load(ctx); err != nil {
//		return err
//	}
//	var cfg breaker.Config
//	_ = loader.UnmarshalKey("breaker", &cfg)
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 从所有来源加载配置并启动文件监听
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 key 的配置反序列化到结构体，key 不存在时返回 xerrors.ErrNotFound
	UnmarshalKey(key string, v any) error

	// Watch 监听 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 校验当前配置
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
