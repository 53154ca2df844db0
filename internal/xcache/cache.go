// Package xcache is a thin generic facade over eko/gocache so the rest of
// the engine depends on one cache shape regardless of backend.
package xcache

import (
	"context"
	"time"

	cachelib "github.com/eko/gocache/lib/v4/cache"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"
	redis "github.com/redis/go-redis/v9"

	"github.com/rowguard/rowguard/internal/log"
)

// Cache is an alias to the gocache CacheInterface for convenience, exposing
// Get / Set / Delete / Invalidate / Clear / GetType.
type Cache[T any] = cachelib.CacheInterface[T]

// SetterCache additionally exposes GetWithTTL and GetCodec.
type SetterCache[T any] = cachelib.SetterCacheInterface[T]

// NewMemory creates an in-memory cache backed by patrickmn/go-cache. Pass an
// existing *gocache.Cache so the caller controls default expiration and
// cleanup interval.
func NewMemory[T any](client *gocache.Cache, options ...Option) SetterCache[T] {
	st := gocache_store.NewGoCache(client, options...)
	return cachelib.New[T](st)
}

// NewMemoryWithOptions builds the go-cache client for you.
func NewMemoryWithOptions[T any](defaultExpiration, cleanupInterval time.Duration, options ...Option) SetterCache[T] {
	return NewMemory[T](gocache.New(defaultExpiration, cleanupInterval), options...)
}

// NewRedis creates a Redis-backed cache on a go-redis client.
func NewRedis[T any](client redis.UniversalClient, options ...Option) SetterCache[T] {
	return cachelib.New[T](newRedisStore[T](client, options...))
}

// NewTwoLevel chains a memory cache in front of a Redis cache.
func NewTwoLevel[T any](memory, redis SetterCache[T]) Cache[T] {
	return cachelib.NewChain[T](memory, redis)
}

// NewFromConfig builds a typed cache from config. Modes:
//   - memory: in-memory only
//   - redis: redis only
//   - two-level: memory + redis chain
//
// An unset or unknown mode yields a noop cache.
func NewFromConfig[T any](ctx context.Context, cfg Config) (Cache[T], error) {
	memExpiration := defaultIfZero(cfg.Memory.Expiration, 5*time.Minute)
	memCleanup := defaultIfZero(cfg.Memory.CleanupInterval, 10*time.Minute)
	mem := NewMemory[T](gocache.New(memExpiration, memCleanup), WithExpiration(memExpiration))

	switch cfg.Mode {
	case ModeMemory:
		log.Debug(ctx, "xcache: using memory cache")
		return mem, nil
	case ModeRedis, ModeTwoLevel:
		client, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}

		redisExpiration := defaultIfZero(cfg.Redis.Expiration, 30*time.Minute)
		rds := NewRedis[T](client, WithExpiration(redisExpiration))

		if cfg.Mode == ModeRedis {
			log.Debug(ctx, "xcache: using redis cache")
			return rds, nil
		}

		log.Debug(ctx, "xcache: using two-level cache")

		return NewTwoLevel[T](mem, rds), nil
	default:
		log.Debug(ctx, "xcache: cache disabled")
		return NewNoop[T](), nil
	}
}

func defaultIfZero(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}

	return d
}
