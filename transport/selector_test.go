package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/dualpath/xerrors"
)

const (
	directURL = "https://api.example.com"
	proxyURL  = "https://relay.example.com"
)

func newTestSelector(t *testing.T, mutate func(*Config), opts ...Option) Selector {
	t.Helper()
	cfg := DefaultConfig(directURL)
	cfg.ProxyURL = proxyURL
	cfg.PrefixedPaths = []string{"/market-data"}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "missing direct url", cfg: &Config{}},
		{name: "bad scheme", cfg: &Config{DirectURL: "ftp://api.example.com"}},
		{name: "bad proxy", cfg: &Config{DirectURL: directURL, ProxyURL: "relay"}},
		{name: "bad style", cfg: &Config{DirectURL: directURL, ProxyStyle: "weird"}},
		{name: "bad prefix", cfg: &Config{DirectURL: directURL, APIPrefix: "api"}},
		{name: "negative failures", cfg: &Config{DirectURL: directURL, MaxFailures: -1}},
		{name: "probability", cfg: &Config{DirectURL: directURL, RevertProbability: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
		})
	}

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Proxied")
	require.NoError(t, err)
	assert.Equal(t, Proxied, m)

	m, err = ParseMode("direct")
	require.NoError(t, err)
	assert.Equal(t, Direct, m)

	_, err = ParseMode("carrier-pigeon")
	assert.Error(t, err)

	b, err := Proxied.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(b))
}

func TestSelector_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		style    ProxyStyle
		mode     Mode
		endpoint string
		want     string
	}{
		{name: "direct", style: StylePrefix, mode: Direct, endpoint: "/health", want: directURL + "/health"},
		{name: "direct prefixed path", style: StylePrefix, mode: Direct, endpoint: "/market-data", want: directURL + "/api/market-data"},
		{name: "already prefixed", style: StylePrefix, mode: Direct, endpoint: "/api/market-data", want: directURL + "/api/market-data"},
		{name: "proxied prefix style", style: StylePrefix, mode: Proxied, endpoint: "/health", want: proxyURL + "/" + directURL + "/health"},
		{name: "proxied base style", style: StyleBase, mode: Proxied, endpoint: "/market-data", want: proxyURL + "/api/market-data"},
		{name: "missing slash", style: StyleBase, mode: Direct, endpoint: "health", want: directURL + "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSelector(t, func(c *Config) { c.ProxyStyle = tt.style })
			got, err := s.ResolveFor(tt.mode, tt.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelector_ResolveWithoutProxy(t *testing.T) {
	s := newTestSelector(t, func(c *Config) { c.ProxyURL = "" })
	_, err := s.ResolveFor(Proxied, "/health")
	assert.ErrorIs(t, err, ErrNoProxy)

	got, err := s.Resolve("/health")
	require.NoError(t, err)
	assert.Equal(t, directURL+"/health", got)
}

func TestSelector_Hysteresis(t *testing.T) {
	s := newTestSelector(t, nil)

	assert.False(t, s.ReportFailure())
	assert.False(t, s.ReportFailure())
	assert.Equal(t, Direct, s.Mode(), "no flip below the threshold")

	assert.True(t, s.ReportFailure(), "flip exactly at the threshold")
	assert.Equal(t, Proxied, s.Mode())
	assert.Zero(t, s.Snapshot().Failures)

	t.Run("成功抵消失败", func(t *testing.T) {
		s.ReportFailure()
		s.ReportFailure()
		s.ReportSuccess()
		assert.Equal(t, 1, s.Snapshot().Failures)
		s.ReportFailure()
		s.ReportFailure()
		assert.Equal(t, 0, s.Snapshot().Failures)
		assert.Equal(t, Direct, s.Mode(), "flips back after another threshold of failures")
	})
}

func TestSelector_FailureNeverNegative(t *testing.T) {
	s := newTestSelector(t, nil)
	for i := 0; i < 5; i++ {
		s.ReportSuccess()
	}
	assert.Zero(t, s.Snapshot().Failures)
}

func TestSelector_AutoSwitchOff(t *testing.T) {
	s := newTestSelector(t, func(c *Config) { c.AutoSwitch = false })
	for i := 0; i < 10; i++ {
		assert.False(t, s.ReportFailure())
	}
	assert.Equal(t, Direct, s.Mode())
	assert.Zero(t, s.Snapshot().Failures)

	// 重新开启后从零开始计数
	s.SetAutoSwitch(true)
	assert.False(t, s.ReportFailure())
	assert.Equal(t, 1, s.Snapshot().Failures)
	assert.Equal(t, Direct, s.Mode())
}

func TestSelector_RefuseProxyWithoutURL(t *testing.T) {
	s := newTestSelector(t, func(c *Config) { c.ProxyURL = "" })
	for i := 0; i < 3; i++ {
		assert.False(t, s.ReportFailure())
	}
	assert.Equal(t, Direct, s.Mode())
	assert.Zero(t, s.Snapshot().Failures, "counter resets when the flip is refused")

	assert.ErrorIs(t, s.ForceMode(Proxied), ErrNoProxy)
}

func TestSelector_RevertEveryN(t *testing.T) {
	s := newTestSelector(t, func(c *Config) { c.RevertEvery = 4 })
	require.NoError(t, s.ForceMode(Proxied))

	for i := 0; i < 3; i++ {
		s.ReportSuccess()
	}
	assert.Equal(t, Proxied, s.Mode())
	assert.Equal(t, 3, s.Snapshot().CleanStreak)

	s.ReportSuccess()
	assert.Equal(t, Direct, s.Mode())
	assert.Zero(t, s.Snapshot().CleanStreak)
}

func TestSelector_RevertNeedsCleanStreak(t *testing.T) {
	s := newTestSelector(t, func(c *Config) { c.RevertEvery = 2 })
	require.NoError(t, s.ForceMode(Proxied))

	s.ReportSuccess()
	s.ReportFailure()
	s.ReportSuccess() // 抵消失败，不算干净的成功
	assert.Equal(t, Proxied, s.Mode())
	s.ReportSuccess()
	assert.Equal(t, Proxied, s.Mode())
	s.ReportSuccess()
	assert.Equal(t, Direct, s.Mode())
}

func TestSelector_NoRevertWhenAutoSwitchOff(t *testing.T) {
	s := newTestSelector(t, func(c *Config) { c.RevertEvery = 1 })
	require.NoError(t, s.ForceMode(Proxied))
	s.SetAutoSwitch(false)
	s.ReportSuccess()
	assert.Equal(t, Proxied, s.Mode())
}

func TestSelector_CustomPolicy(t *testing.T) {
	s := newTestSelector(t, nil, WithRevertPolicy(Never()))
	require.NoError(t, s.ForceMode(Proxied))
	for i := 0; i < 50; i++ {
		s.ReportSuccess()
	}
	assert.Equal(t, Proxied, s.Mode())

	p := Probabilistic(1)
	assert.True(t, p.ShouldRevert(1))
	assert.False(t, Probabilistic(0).ShouldRevert(1))
}

func TestSelector_ForceModeResetsCounters(t *testing.T) {
	s := newTestSelector(t, nil)
	s.ReportFailure()
	s.ReportFailure()
	require.NoError(t, s.ForceMode(Direct))
	assert.Zero(t, s.Snapshot().Failures)
}

func TestSelector_DisableProxy(t *testing.T) {
	s := newTestSelector(t, nil)
	require.NoError(t, s.ForceMode(Proxied))
	s.DisableProxy()
	assert.Equal(t, Direct, s.Mode())
	assert.False(t, s.ProxyConfigured())

	assert.Error(t, s.EnableProxy("not a url"))
	require.NoError(t, s.EnableProxy("https://relay2.example.com/"))
	got, err := s.ResolveFor(Proxied, "/health")
	require.NoError(t, err)
	assert.Equal(t, "https://relay2.example.com/"+directURL+"/health", got)
}

func TestSelector_Alternate(t *testing.T) {
	s := newTestSelector(t, nil)

	alt, ok := s.Alternate("/market-data")
	require.True(t, ok)
	assert.Equal(t, "/market-data", alt, "prefixed path toggles to the bare form")

	alt, ok = s.Alternate("/sectors")
	require.True(t, ok)
	assert.Equal(t, "/api/sectors", alt)

	s.Learn("/sectors", alt)
	assert.Equal(t, "/api/sectors", s.Path("/sectors"))
	got, err := s.Resolve("/sectors")
	require.NoError(t, err)
	assert.Equal(t, directURL+"/api/sectors", got)

	t.Run("无前缀时不提供备选", func(t *testing.T) {
		bare := newTestSelector(t, func(c *Config) { c.APIPrefix = "" })
		_, ok := bare.Alternate("/sectors")
		assert.False(t, ok)
	})
}
