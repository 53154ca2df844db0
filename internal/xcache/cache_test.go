package xcache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	cache := NewMemoryWithOptions[string](time.Minute, time.Minute)

	require.NoError(t, cache.Set(t.Context(), "k", "v", WithExpiration(time.Minute)))

	got, err := cache.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, cache.Delete(t.Context(), "k"))

	_, err = cache.Get(t.Context(), "k")
	require.Error(t, err)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	cache := NewRedis[map[string]any](client)

	value := map[string]any{"orgs": []any{"o1", "o2"}}
	require.NoError(t, cache.Set(t.Context(), "rls:resolver:orgs:alice", value, WithExpiration(time.Minute)))

	got, err := cache.Get(t.Context(), "rls:resolver:orgs:alice")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// Values are stored as JSON so other replicas can read them.
	raw, err := srv.Get("rls:resolver:orgs:alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orgs":["o1","o2"]}`, raw)

	require.NoError(t, cache.Delete(t.Context(), "rls:resolver:orgs:alice"))

	_, err = cache.Get(t.Context(), "rls:resolver:orgs:alice")
	require.Error(t, err)
}

func TestRedisCacheExpiration(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	cache := NewRedis[string](client)

	require.NoError(t, cache.Set(t.Context(), "k", "v", WithExpiration(30*time.Second)))

	srv.FastForward(time.Minute)

	_, err := cache.Get(t.Context(), "k")
	require.Error(t, err, "the entry should expire with its TTL")
}

func TestTwoLevelCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	mem := NewMemoryWithOptions[string](time.Minute, time.Minute)
	rds := NewRedis[string](client, WithExpiration(time.Minute))

	cache := NewTwoLevel[string](mem, rds)

	require.NoError(t, cache.Set(t.Context(), "k", "v", WithExpiration(time.Minute)))

	got, err := cache.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	cache := NewNoop[string]()

	require.NoError(t, cache.Set(t.Context(), "k", "v"))

	_, err := cache.Get(t.Context(), "k")
	require.Error(t, err)
	assert.Equal(t, "noop", cache.GetType())
}

func TestNewFromConfig(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cache, err := NewFromConfig[string](t.Context(), Config{Mode: ModeMemory})
		require.NoError(t, err)
		assert.NotNil(t, cache)
	})

	t.Run("unset mode is noop", func(t *testing.T) {
		cache, err := NewFromConfig[string](t.Context(), Config{})
		require.NoError(t, err)

		_, getErr := cache.Get(t.Context(), "k")
		require.Error(t, getErr)
		assert.Equal(t, "noop", cache.GetType())
	})

	t.Run("redis", func(t *testing.T) {
		srv := miniredis.RunT(t)

		cache, err := NewFromConfig[string](t.Context(), Config{
			Mode:  ModeRedis,
			Redis: RedisConfig{Addr: srv.Addr()},
		})
		require.NoError(t, err)

		require.NoError(t, cache.Set(t.Context(), "k", "v"))

		got, err := cache.Get(t.Context(), "k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("redis without addr", func(t *testing.T) {
		_, err := NewFromConfig[string](t.Context(), Config{Mode: ModeRedis})
		require.Error(t, err)
	})
}
