package cache

import (
	"context"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/dualpath/xerrors"
)

// memoryBackend 基于 otter 的进程内存储，只按容量淘汰，有效期由 store 判断
type memoryBackend struct {
	cache *otter.Cache[string, *Entry]
}

func newMemoryBackend(cfg *Config) (*memoryBackend, error) {
	c, err := otter.New(&otter.Options[string, *Entry]{
		MaximumSize: cfg.Capacity,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build otter cache")
	}
	return &memoryBackend{cache: c}, nil
}

func (m *memoryBackend) get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := m.cache.GetIfPresent(key)
	return e, ok, nil
}

func (m *memoryBackend) set(_ context.Context, key string, e *Entry) error {
	m.cache.Set(key, e)
	return nil
}

func (m *memoryBackend) close() error {
	m.cache.StopAllGoroutines()
	return nil
}
