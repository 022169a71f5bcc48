package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts = append(opts, WithWriter(buf))
	logger, err := New(&Config{Level: level, Format: "json"}, opts...)
	require.NoError(t, err)
	return logger, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "json", config: &Config{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "invalid level", config: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_NamespaceAndFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "info", WithNamespace("dualpath"))

	logger.WithNamespace("client").With(String("endpoint", "/health")).
		Warn("request failed", Error(errors.New("connection refused")), Int("attempt", 1))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "dualpath.client", lines[0][NamespaceKey])
	assert.Equal(t, "/health", lines[0]["endpoint"])
	assert.Equal(t, "connection refused", lines[0]["err_msg"])
	assert.EqualValues(t, 1, lines[0]["attempt"])
}

func TestLogger_NamespaceDoesNotLeakToParent(t *testing.T) {
	logger, buf := newBufferLogger(t, "info", WithNamespace("dualpath"))

	_ = logger.WithNamespace("monitor")
	logger.Info("parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "dualpath", lines[0][NamespaceKey])
}

func TestLogger_StandardContext(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug", WithStandardContext())

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTransportMode(ctx, "proxied")
	logger.DebugContext(ctx, "dispatch")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "proxied", lines[0]["transport_mode"])
	assert.Equal(t, "req-1", RequestIDFrom(ctx))
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")
	child := logger.WithNamespace("cache")

	child.Info("dropped")
	assert.Empty(t, buf.String())

	require.NoError(t, logger.SetLevel(DebugLevel))
	child.Debug("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestErrorWithCode(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")
	logger.Error("probe failed", ErrorWithCode(errors.New("i/o timeout"), "timeout"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	group, ok := lines[0]["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "timeout", group["code"])
	assert.Equal(t, "i/o timeout", group["msg"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, lvl)
	assert.Equal(t, "warn", lvl.String())

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("nothing")
	assert.NotNil(t, l.WithNamespace("x").With(String("k", "v")))
	assert.NoError(t, l.SetLevel(DebugLevel))
}
