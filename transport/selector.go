package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/xerrors"
)

type selector struct {
	cfg    *Config
	logger clog.Logger
	policy RevertPolicy

	mu         sync.RWMutex
	mode       Mode
	failures   int
	streak     int
	autoSwitch bool
	proxyURL   string
	learned    map[string]string

	switches     metrics.Counter
	failureGauge metrics.Gauge
}

func newSelector(cfg *Config, o *options) (*selector, error) {
	policy := o.policy
	if policy == nil {
		policy = policyFromConfig(cfg)
	}
	s := &selector{
		cfg:        cfg,
		logger:     o.logger,
		policy:     policy,
		mode:       Direct,
		autoSwitch: cfg.AutoSwitch,
		proxyURL:   cfg.ProxyURL,
		learned:    make(map[string]string),
	}

	var err error
	if s.switches, err = o.meter.Counter(MetricSwitches, "Transport mode switches"); err != nil {
		return nil, err
	}
	if s.failureGauge, err = o.meter.Gauge(MetricFailures, "Current consecutive failure count"); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *selector) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *selector) Resolve(endpoint string) (string, error) {
	s.mu.RLock()
	mode := s.mode
	s.mu.RUnlock()
	return s.ResolveFor(mode, endpoint)
}

func (s *selector) ResolveFor(mode Mode, endpoint string) (string, error) {
	return s.URLFor(mode, s.Path(endpoint))
}

func (s *selector) Path(endpoint string) string {
	endpoint = normalizePath(endpoint)

	s.mu.RLock()
	rewritten, ok := s.learned[endpoint]
	s.mu.RUnlock()
	if ok {
		return rewritten
	}

	if s.cfg.APIPrefix == "" || hasPathPrefix(endpoint, s.cfg.APIPrefix) {
		return endpoint
	}
	for _, p := range s.cfg.PrefixedPaths {
		if p != "" && hasPathPrefix(endpoint, normalizePath(p)) {
			return s.cfg.APIPrefix + endpoint
		}
	}
	return endpoint
}

func (s *selector) URLFor(mode Mode, path string) (string, error) {
	path = normalizePath(path)
	if mode == Direct {
		return s.cfg.DirectURL + path, nil
	}

	s.mu.RLock()
	proxy := s.proxyURL
	s.mu.RUnlock()
	if proxy == "" {
		return "", ErrNoProxy
	}
	if s.cfg.ProxyStyle == StyleBase {
		return proxy + path, nil
	}
	return proxy + "/" + s.cfg.DirectURL + path, nil
}

func (s *selector) ReportSuccess() {
	s.mu.Lock()
	clean := s.failures == 0
	if s.failures > 0 {
		s.failures--
	}
	failures := s.failures

	reverted := false
	if s.mode == Proxied && s.autoSwitch {
		if clean {
			s.streak++
			if s.policy.ShouldRevert(s.streak) {
				s.mode = Direct
				s.streak = 0
				reverted = true
			}
		} else {
			s.streak = 0
		}
	}
	s.mu.Unlock()

	s.failureGauge.Set(context.Background(), float64(failures))
	if reverted {
		s.recordSwitch(Proxied, Direct, ReasonRevert)
	}
}

func (s *selector) ReportFailure() bool {
	s.mu.Lock()
	s.streak = 0
	// 自动切换关闭期间不计数，重新开启时不会带着越过阈值的计数
	if !s.autoSwitch {
		s.mu.Unlock()
		return false
	}
	s.failures++
	failures := s.failures

	if s.failures < s.cfg.MaxFailures {
		s.mu.Unlock()
		s.failureGauge.Set(context.Background(), float64(failures))
		return false
	}

	from := s.mode
	to := from.Other()
	s.failures = 0
	if to == Proxied && s.proxyURL == "" {
		s.mu.Unlock()
		s.failureGauge.Set(context.Background(), 0)
		s.logger.Warn("failure threshold reached but no proxy is configured, staying direct",
			clog.Int("max_failures", s.cfg.MaxFailures))
		return false
	}
	s.mode = to
	s.mu.Unlock()

	s.failureGauge.Set(context.Background(), 0)
	s.recordSwitch(from, to, ReasonFailures)
	return true
}

func (s *selector) ResetFailures() {
	s.mu.Lock()
	s.failures = 0
	s.streak = 0
	s.mu.Unlock()
	s.failureGauge.Set(context.Background(), 0)
}

func (s *selector) ForceMode(m Mode) error {
	if m != Direct && m != Proxied {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "transport: unknown mode %d", int(m))
	}

	s.mu.Lock()
	if m == Proxied && s.proxyURL == "" {
		s.mu.Unlock()
		return ErrNoProxy
	}
	from := s.mode
	s.mode = m
	s.failures = 0
	s.streak = 0
	s.mu.Unlock()

	s.failureGauge.Set(context.Background(), 0)
	if from != m {
		s.recordSwitch(from, m, ReasonForced)
	}
	return nil
}

func (s *selector) SetAutoSwitch(enabled bool) {
	s.mu.Lock()
	changed := s.autoSwitch != enabled
	s.autoSwitch = enabled
	s.mu.Unlock()
	if changed {
		s.logger.Info("auto switch updated", clog.Bool("enabled", enabled))
	}
}

func (s *selector) AutoSwitch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoSwitch
}

func (s *selector) EnableProxy(proxyURL string) error {
	proxyURL = strings.TrimRight(strings.TrimSpace(proxyURL), "/")
	if err := validateBaseURL(proxyURL); err != nil {
		return err
	}
	s.mu.Lock()
	s.proxyURL = proxyURL
	s.mu.Unlock()
	s.logger.Info("proxy enabled", clog.String("proxy_url", proxyURL))
	return nil
}

// DisableProxy 清除代理地址，处于代理模式时回到直连
func (s *selector) DisableProxy() {
	s.mu.Lock()
	s.proxyURL = ""
	from := s.mode
	if from == Proxied {
		s.mode = Direct
		s.failures = 0
		s.streak = 0
	}
	s.mu.Unlock()

	s.logger.Info("proxy disabled")
	if from == Proxied {
		s.recordSwitch(Proxied, Direct, ReasonProxyDisabled)
	}
}

func (s *selector) ProxyConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proxyURL != ""
}

func (s *selector) Alternate(endpoint string) (string, bool) {
	prefix := s.cfg.APIPrefix
	if prefix == "" {
		return "", false
	}
	path := s.Path(endpoint)
	if hasPathPrefix(path, prefix) {
		alt := strings.TrimPrefix(path, prefix)
		if alt == "" {
			alt = "/"
		}
		return alt, true
	}
	return prefix + path, true
}

func (s *selector) Learn(endpoint, path string) {
	endpoint = normalizePath(endpoint)
	path = normalizePath(path)

	s.mu.Lock()
	prev, ok := s.learned[endpoint]
	s.learned[endpoint] = path
	s.mu.Unlock()

	if !ok || prev != path {
		s.logger.Info("learned endpoint rewrite", clog.String("endpoint", endpoint), clog.String("path", path))
	}
}

func (s *selector) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Mode:        s.mode,
		Failures:    s.failures,
		MaxFailures: s.cfg.MaxFailures,
		AutoSwitch:  s.autoSwitch,
		DirectURL:   s.cfg.DirectURL,
		ProxyURL:    s.proxyURL,
		CleanStreak: s.streak,
	}
}

func (s *selector) recordSwitch(from, to Mode, reason string) {
	s.switches.Inc(context.Background(),
		metrics.L("from", from.String()), metrics.L("to", to.String()), metrics.L("reason", reason))
	s.logger.Warn("transport switched",
		clog.String("from", from.String()), clog.String("to", to.String()), clog.String("reason", reason))
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// hasPathPrefix 按路径段匹配，"/api" 不匹配 "/apix"
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
