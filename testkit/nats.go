package testkit

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSURLEnv 本地 NATS 地址，未设置时依赖 NATS 的测试被跳过
const NATSURLEnv = "DUALPATH_TEST_NATS_URL"

// NATSURL 返回 NATS 地址，未设置时跳过测试
func NATSURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv(NATSURLEnv)
	if url == "" {
		t.Skipf("%s not set", NATSURLEnv)
	}
	return url
}

// NATSConn 建立测试连接，测试结束时关闭
func NATSConn(t *testing.T) *nats.Conn {
	t.Helper()
	conn, err := nats.Connect(NATSURL(t), nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("nats unavailable: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}
