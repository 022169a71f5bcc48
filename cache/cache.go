// Package cache 是请求管道的响应缓存。
//
// 缓存键由 实例标识 | 纪元 | 端点 | 请求选项指纹 组成：
//   - Clear() 只推进纪元，旧条目立即不可达，O(1)
//   - Rotate() 同时推进纪元并重新生成实例标识（强制刷新）
//
// 条目的有效性在每次读取时按注入的时钟判断 now - StoredAt < MaxAge，
// 过期条目报告为不存在但不会被主动清理，由容量淘汰或 Redis TTL 回收。
//
// 基本使用：
//
//	store, err := cache.New(&cache.Config{Driver: cache.DriverMemory},
//	    cache.WithLogger(logger),
//	    cache.WithClock(clk),
//	)
//	key := store.Key("/api/market-data", cache.KeyOptions{Query: q})
//	if e, ok := store.Read(ctx, key); ok {
//	    return e.Payload
//	}
package cache

import (
	"context"
	"net/http"
	"time"
)

// Payload 缓存的响应内容
type Payload struct {
	Status int         `json:"status" msgpack:"status"`
	Header http.Header `json:"header,omitempty" msgpack:"header,omitempty"`
	Body   []byte      `json:"body" msgpack:"body"`
}

// Entry 缓存条目
type Entry struct {
	Key      string    `json:"key" msgpack:"key"`
	Payload  Payload   `json:"payload" msgpack:"payload"`
	StoredAt time.Time `json:"stored_at" msgpack:"stored_at"`
}

// KeyOptions 参与缓存键指纹计算的请求选项
type KeyOptions struct {
	Query  map[string][]string
	Header http.Header
}

// Store 响应缓存
type Store interface {
	// Read 返回未过期的条目，过期或不存在时 ok 为 false
	Read(ctx context.Context, key string) (*Entry, bool)
	// Write 以当前时间写入条目
	Write(ctx context.Context, key string, payload Payload) error
	// Clear 推进纪元，之前的所有条目不可达
	Clear()
	// Rotate 推进纪元并重新生成实例标识
	Rotate()
	// Key 计算端点与选项对应的缓存键
	Key(endpoint string, opts KeyOptions) string
	// ShouldBypass 判断一次调用是否跳过缓存
	ShouldBypass(method, endpoint string, cacheable bool) bool
	Epoch() uint64
	Instance() string
	Close() error
}

// New 创建缓存实例
func New(cfg *Config, opts ...Option) (Store, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts...)

	var b backend
	var err error
	switch cfg.Driver {
	case DriverMemory:
		b, err = newMemoryBackend(cfg)
	case DriverRedis:
		b, err = newRedisBackend(cfg, o)
	}
	if err != nil {
		return nil, err
	}

	return newStore(cfg, b, o)
}
