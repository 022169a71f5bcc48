package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dualpath.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: error
transport:
  direct_url: http://backend.local:9000
  max_failures: 4
client:
  timeout: 2s
server:
  addr: 127.0.0.1:9999
`)
	t.Setenv("DUALPATH_TRANSPORT_MAX_FAILURES", "5")

	cfg, loader, err := loadConfig(context.Background(), &rootFlags{configFile: path, logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, path, loader.ConfigFileUsed())

	assert.Equal(t, "http://backend.local:9000", cfg.Transport.DirectURL)
	assert.Equal(t, 5, cfg.Transport.MaxFailures, "env overrides file")
	assert.True(t, cfg.Transport.AutoSwitch)
	assert.Equal(t, 2*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level, "flag overrides file")
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)

	require.Len(t, cfg.Client.Critical, 1)
	assert.Equal(t, "/api/market-data", cfg.Client.Critical[0].Endpoint)
	assert.Equal(t, []string{"timestamp", "indices", "sectors"}, cfg.Client.Critical[0].RequiredKeys)

	t.Run("配置文件不存在", func(t *testing.T) {
		_, _, err := loadConfig(context.Background(), &rootFlags{configFile: filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)
	})
}

func TestGetCommand(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stocks" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"stocks":["AAPL"]}`))
	}))
	defer backend.Close()

	path := writeConfig(t, "log:\n  level: error\ntransport:\n  direct_url: "+backend.URL+"\n")

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--config", path, "get", "/api/stocks", "-v"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.JSONEq(t, `{"stocks":["AAPL"]}`, stdout.String())
	assert.Contains(t, stderr.String(), "mode=direct")

	root = newRootCmd()
	root.SetOut(&stdout)
	root.SetArgs([]string{"--config", path, "get", "/api/stocks", "--mode", "sideways"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestWriteProbeTable(t *testing.T) {
	var state monitor.State
	state.DirectConnection = monitor.ProbeResult{
		Status:      monitor.StatusConnected,
		LastChecked: time.Unix(10, 0),
		Latency:     12 * time.Millisecond,
	}
	state.CorsProxy = monitor.ProbeResult{
		Status:      monitor.StatusError,
		LastChecked: time.Unix(10, 0),
		Error:       transport.ErrNoProxy.Error(),
	}

	var buf bytes.Buffer
	snap := transport.Snapshot{Mode: transport.Direct, MaxFailures: 3, AutoSwitch: true}
	require.NoError(t, writeProbeTable(&buf, state, snap))

	out := buf.String()
	for _, p := range monitor.Probes {
		assert.Contains(t, out, string(p))
	}
	assert.Contains(t, out, "12ms")
	assert.Contains(t, out, "mode=direct failures=0/3 auto_switch=true proxy=(none)")

	buf.Reset()
	require.NoError(t, writeProbeJSON(&buf, state, snap))
	assert.Contains(t, buf.String(), `"direct_connection"`)
}
