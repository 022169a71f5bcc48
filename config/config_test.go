package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportSection struct {
	MaxFailures int    `mapstructure:"max_failures"`
	AutoSwitch  bool   `mapstructure:"auto_switch"`
	ProxyURL    string `mapstructure:"proxy_url"`
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dualpath.yaml"), `
transport:
  max_failures: 5
  proxy_url: "http://relay.local"
`)
	writeFile(t, filepath.Join(dir, "dualpath.staging.yaml"), `
transport:
  proxy_url: "http://relay.staging"
`)

	t.Setenv("DUALPATH_ENV", "staging")
	t.Setenv("DUALPATH_TRANSPORT_AUTO_SWITCH", "false")

	loader, err := Load(context.Background(), &Config{Paths: []string{dir}},
		WithDefaults(map[string]any{
			"transport.max_failures": 3,
			"transport.auto_switch":  true,
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dualpath.yaml"), loader.ConfigFileUsed())

	var section transportSection
	require.NoError(t, loader.UnmarshalKey("transport", &section))

	t.Run("文件覆盖默认值", func(t *testing.T) {
		assert.Equal(t, 5, section.MaxFailures)
	})
	t.Run("环境特定配置覆盖基础配置", func(t *testing.T) {
		assert.Equal(t, "http://relay.staging", section.ProxyURL)
	})
	t.Run("环境变量优先级最高", func(t *testing.T) {
		assert.False(t, section.AutoSwitch)
	})
}

func TestLoader_DefaultsOnly(t *testing.T) {
	loader, err := Load(context.Background(), &Config{Paths: []string{t.TempDir()}},
		WithDefaults(map[string]any{"transport.max_failures": 3}),
	)
	require.NoError(t, err)
	assert.Empty(t, loader.ConfigFileUsed())
	assert.Equal(t, 3, loader.Get("transport.max_failures"))
}

func TestLoader_EmptyConfig(t *testing.T) {
	_, err := Load(context.Background(), &Config{Paths: []string{t.TempDir()}})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestLoader_ExplicitFileMissing(t *testing.T) {
	_, err := Load(context.Background(), &Config{File: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dualpath.yaml")
	writeFile(t, path, "transport:\n  auto_switch: true\n")

	loader, err := Load(context.Background(), &Config{File: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := loader.Watch(ctx, "transport.auto_switch")
	require.NoError(t, err)

	// fsnotify 需要一点时间完成注册
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "transport:\n  auto_switch: false\n")

	select {
	case ev := <-ch:
		assert.Equal(t, "transport.auto_switch", ev.Key)
		assert.Equal(t, false, ev.Value)
		assert.Equal(t, true, ev.OldValue)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config change event")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestLoader_WatchRequiresKey(t *testing.T) {
	loader, err := New(nil)
	require.NoError(t, err)
	_, err = loader.Watch(context.Background(), "")
	assert.True(t, IsInvalidInput(err))
}
