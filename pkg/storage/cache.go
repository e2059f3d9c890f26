package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

const cacheGenKey = "quarry:cache:gen"

// TieredCache is a two-level read cache for the delivery/preview surface:
// an in-process LRU in front of an optional shared Redis tier.
//
// Invalidation is generation-based: any content write bumps a generation
// counter (kept in Redis when available, so all instances converge), and
// cached values are keyed under the generation. Stale generations age out
// via TTL.
type TieredCache struct {
	l1       *lru.Cache[string, []byte]
	redis    *redis.Client
	ttl      time.Duration
	localGen atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTieredCache creates the cache. redisClient may be nil for a purely
// in-process cache.
func NewTieredCache(size int, ttl time.Duration, redisClient *redis.Client) (*TieredCache, error) {
	if size <= 0 {
		size = 1024
	}
	l1, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TieredCache{l1: l1, redis: redisClient, ttl: ttl}, nil
}

// NewRedisClient connects a Redis client from the storage config, or returns
// nil when no Redis is configured.
func NewRedisClient(cfg Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// generation returns the current cache generation.
func (c *TieredCache) generation(ctx context.Context) uint64 {
	if c.redis == nil {
		return c.localGen.Load()
	}
	gen, err := c.redis.Get(ctx, cacheGenKey).Uint64()
	if err != nil {
		// Treat missing or unreachable counter as generation zero; reads
		// fall through to storage.
		return 0
	}
	return gen
}

func (c *TieredCache) fullKey(ctx context.Context, key string) string {
	return fmt.Sprintf("quarry:cache:%d:%s", c.generation(ctx), key)
}

// Get returns the cached payload for key, or nil on a miss.
func (c *TieredCache) Get(ctx context.Context, key string) []byte {
	full := c.fullKey(ctx, key)

	if data, ok := c.l1.Get(full); ok {
		c.hits.Add(1)
		return data
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, full).Bytes()
		if err == nil {
			c.l1.Add(full, data)
			c.hits.Add(1)
			return data
		}
	}

	c.misses.Add(1)
	return nil
}

// Set stores a payload under key for the cache TTL.
func (c *TieredCache) Set(ctx context.Context, key string, data []byte) {
	full := c.fullKey(ctx, key)
	c.l1.Add(full, data)
	if c.redis != nil {
		// Best effort; a failed write only costs a future cache miss.
		c.redis.Set(ctx, full, data, c.ttl)
	}
}

// Invalidate advances the generation, orphaning all cached values.
func (c *TieredCache) Invalidate(ctx context.Context) {
	c.l1.Purge()
	if c.redis != nil {
		if err := c.redis.Incr(ctx, cacheGenKey).Err(); err == nil {
			return
		}
	}
	c.localGen.Add(1)
}

// Stats reports cumulative hit/miss counts.
func (c *TieredCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the Redis connection if one is held.
func (c *TieredCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
