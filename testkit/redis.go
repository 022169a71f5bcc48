package testkit

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// RedisAddrEnv 本地 Redis 地址，未设置时依赖 Redis 的测试被跳过
const RedisAddrEnv = "DUALPATH_TEST_REDIS_ADDR"

// RedisClient 连接 DB 1 避免与默认库冲突，不可用时跳过测试
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv(RedisAddrEnv)
	if addr == "" {
		t.Skipf("%s not set", RedisAddrEnv)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 1})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
