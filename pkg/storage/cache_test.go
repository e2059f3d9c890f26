package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// TestTieredCache_LocalOnly exercises the cache without a Redis tier
func TestTieredCache_LocalOnly(t *testing.T) {
	cache, err := NewTieredCache(8, time.Minute, nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()

	assert.Nil(t, cache.Get(ctx, "key"))

	cache.Set(ctx, "key", []byte("value"))
	assert.Equal(t, []byte("value"), cache.Get(ctx, "key"))

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

// TestTieredCache_InvalidateLocal orphans cached values via the local
// generation counter
func TestTieredCache_InvalidateLocal(t *testing.T) {
	cache, err := NewTieredCache(8, time.Minute, nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "key", []byte("value"))
	require.NotNil(t, cache.Get(ctx, "key"))

	cache.Invalidate(ctx)

	assert.Nil(t, cache.Get(ctx, "key"))
}

// TestTieredCache_RedisTier promotes Redis hits into the local tier
func TestTieredCache_RedisTier(t *testing.T) {
	client := newTestRedis(t)

	writer, err := NewTieredCache(8, time.Minute, client)
	require.NoError(t, err)
	reader, err := NewTieredCache(8, time.Minute, client)
	require.NoError(t, err)

	ctx := context.Background()
	writer.Set(ctx, "shared", []byte("payload"))

	// The second instance misses L1 and finds the value in Redis
	assert.Equal(t, []byte("payload"), reader.Get(ctx, "shared"))
	// Now promoted, it hits L1 directly
	assert.Equal(t, []byte("payload"), reader.Get(ctx, "shared"))
}

// TestTieredCache_InvalidateAcrossInstances converges all instances through
// the shared generation counter
func TestTieredCache_InvalidateAcrossInstances(t *testing.T) {
	client := newTestRedis(t)

	first, err := NewTieredCache(8, time.Minute, client)
	require.NoError(t, err)
	second, err := NewTieredCache(8, time.Minute, client)
	require.NoError(t, err)

	ctx := context.Background()
	first.Set(ctx, "key", []byte("value"))
	require.NotNil(t, second.Get(ctx, "key"))

	first.Invalidate(ctx)

	assert.Nil(t, first.Get(ctx, "key"))
	assert.Nil(t, second.Get(ctx, "key"))
}

// TestTieredCache_DefaultSizing falls back to sane defaults
func TestTieredCache_DefaultSizing(t *testing.T) {
	cache, err := NewTieredCache(0, 0, nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "key", []byte("value"))
	assert.Equal(t, []byte("value"), cache.Get(ctx, "key"))
}

// TestNewRedisClient_Unconfigured returns nil without an error
func TestNewRedisClient_Unconfigured(t *testing.T) {
	client, err := NewRedisClient(Config{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

// TestNewRedisClient_BadURL rejects malformed URLs
func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(Config{RedisURL: "not a url"})
	assert.Error(t, err)
}

// TestNewRedisClient_Connects pings the server during setup
func TestNewRedisClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}
