package cache

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
)

// backend 条目的物理存储
type backend interface {
	get(ctx context.Context, key string) (*Entry, bool, error)
	set(ctx context.Context, key string, e *Entry) error
	close() error
}

// generation 实例标识与纪元总是一起替换，避免读到半更新的组合
type generation struct {
	instance string
	epoch    uint64
}

type store struct {
	cfg     *Config
	backend backend
	gen     atomic.Pointer[generation]

	logger clog.Logger
	clock  clock.Clock

	hits   metrics.Counter
	misses metrics.Counter
	clears metrics.Counter
}

func newStore(cfg *Config, b backend, o *options) (*store, error) {
	s := &store{
		cfg:     cfg,
		backend: b,
		logger:  o.logger,
		clock:   o.clock,
	}
	s.gen.Store(&generation{instance: newInstanceID(), epoch: 0})

	var err error
	if s.hits, err = o.meter.Counter(MetricHits, "Cache reads served from a valid entry"); err != nil {
		return nil, err
	}
	if s.misses, err = o.meter.Counter(MetricMisses, "Cache reads with no valid entry"); err != nil {
		return nil, err
	}
	if s.clears, err = o.meter.Counter(MetricClears, "Cache epoch advances"); err != nil {
		return nil, err
	}
	return s, nil
}

func newInstanceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *store) Read(ctx context.Context, key string) (*Entry, bool) {
	e, ok, err := s.backend.get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed", clog.String("key", key), clog.Error(err))
		s.misses.Inc(ctx, metrics.L("reason", "error"))
		return nil, false
	}
	if !ok {
		s.misses.Inc(ctx, metrics.L("reason", "absent"))
		return nil, false
	}
	if s.clock.Since(e.StoredAt) >= s.cfg.MaxAge {
		s.misses.Inc(ctx, metrics.L("reason", "expired"))
		return nil, false
	}
	s.hits.Inc(ctx)
	return e, true
}

func (s *store) Write(ctx context.Context, key string, payload Payload) error {
	e := &Entry{Key: key, Payload: payload, StoredAt: s.clock.Now()}
	if err := s.backend.set(ctx, key, e); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", clog.String("key", key), clog.Error(err))
		return err
	}
	return nil
}

func (s *store) Clear() {
	for {
		old := s.gen.Load()
		next := &generation{instance: old.instance, epoch: old.epoch + 1}
		if s.gen.CompareAndSwap(old, next) {
			s.clears.Inc(context.Background(), metrics.L("kind", "clear"))
			s.logger.Info("cache cleared", clog.Uint64("epoch", next.epoch))
			return
		}
	}
}

func (s *store) Rotate() {
	for {
		old := s.gen.Load()
		next := &generation{instance: newInstanceID(), epoch: old.epoch + 1}
		if s.gen.CompareAndSwap(old, next) {
			s.clears.Inc(context.Background(), metrics.L("kind", "rotate"))
			s.logger.Info("cache rotated",
				clog.String("instance", next.instance), clog.Uint64("epoch", next.epoch))
			return
		}
	}
}

func (s *store) Epoch() uint64 {
	return s.gen.Load().epoch
}

func (s *store) Instance() string {
	return s.gen.Load().instance
}

// Key 格式：instance|epoch|endpoint|fingerprint
func (s *store) Key(endpoint string, opts KeyOptions) string {
	g := s.gen.Load()
	var b strings.Builder
	b.Grow(len(g.instance) + len(endpoint) + 40)
	b.WriteString(g.instance)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(g.epoch, 10))
	b.WriteByte('|')
	b.WriteString(endpoint)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(fingerprint(opts), 16))
	return b.String()
}

// fingerprint 对 query 与 header 排序后哈希，参数顺序不影响结果
func fingerprint(opts KeyOptions) uint64 {
	d := xxhash.New()
	writeSorted(d, "q", opts.Query)
	writeSorted(d, "h", opts.Header)
	return d.Sum64()
}

func writeSorted(d *xxhash.Digest, tag string, values map[string][]string) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		_, _ = d.WriteString(tag)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(k)
		for _, v := range vs {
			_, _ = d.WriteString("\x00")
			_, _ = d.WriteString(v)
		}
		_, _ = d.WriteString("\x01")
	}
}

func (s *store) ShouldBypass(method, endpoint string, cacheable bool) bool {
	if !cacheable {
		return true
	}
	if method != "" && !strings.EqualFold(method, http.MethodGet) {
		return true
	}
	for _, pattern := range s.cfg.Bypass {
		if pattern != "" && strings.Contains(endpoint, pattern) {
			return true
		}
	}
	return false
}

func (s *store) Close() error {
	return s.backend.close()
}
