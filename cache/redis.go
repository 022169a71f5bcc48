package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/dualpath/cache/serializer"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/xerrors"
)

// redisBackend 多实例共享的缓存，TTL 取 MaxAge 作为粗粒度回收
type redisBackend struct {
	client     redis.UniversalClient
	owned      bool
	serializer serializer.Serializer
	cfg        *Config
}

func newRedisBackend(cfg *Config, o *options) (*redisBackend, error) {
	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	client := o.redis
	owned := false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		owned = true
	}

	if cfg.Redis.Tracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			o.logger.Warn("redis tracing instrumentation failed", clog.Error(err))
		}
	}

	return &redisBackend{
		client:     client,
		owned:      owned,
		serializer: s,
		cfg:        cfg,
	}, nil
}

func (r *redisBackend) key(key string) string {
	return r.cfg.Redis.Prefix + key
}

func (r *redisBackend) get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(err, "redis get")
	}

	var e Entry
	if err := r.serializer.Unmarshal(data, &e); err != nil {
		return nil, false, xerrors.Wrap(err, "decode cache entry")
	}
	return &e, true, nil
}

func (r *redisBackend) set(ctx context.Context, key string, e *Entry) error {
	data, err := r.serializer.Marshal(e)
	if err != nil {
		return xerrors.Wrap(err, "encode cache entry")
	}
	if err := r.client.Set(ctx, r.key(key), data, r.cfg.MaxAge).Err(); err != nil {
		return xerrors.Wrap(err, "redis set")
	}
	return nil
}

func (r *redisBackend) close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
