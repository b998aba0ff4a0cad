package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultCachePrefix = "chronicle:leaderboard"
)

// Cache stores rendered leaderboard views until the next invalidation.
//
// Get reports the generation it observed; Set writes under that generation so
// a view computed before an invalidation can never be served after it.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, int64, error)
	Set(ctx context.Context, generation int64, key string, value any) error
	Invalidate(ctx context.Context) error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string, any) (bool, int64, error) { return false, 0, nil }
func (NopCache) Set(context.Context, int64, string, any) error         { return nil }
func (NopCache) Invalidate(context.Context) error                      { return nil }

// RedisCacheConfig describes the Redis-backed cache.
type RedisCacheConfig struct {
	Client *goredis.Client
	TTL    time.Duration
	Prefix string
}

// RedisCache namespaces every entry under a generation counter. Invalidation
// bumps the counter so stale entries are never read again and simply expire.
type RedisCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing client.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Client == nil {
		return nil, errors.New("leaderboard: redis client required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	return &RedisCache{client: cfg.Client, ttl: ttl, prefix: prefix}, nil
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c *RedisCache) generationKey() string {
	return c.prefix + ":generation"
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	generation, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return generation, err
}

func (c *RedisCache) entryKey(generation int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, generation, key)
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, int64, error) {
	generation, err := c.generation(ctx)
	if err != nil {
		return false, 0, err
	}
	raw, err := c.client.Get(ctx, c.entryKey(generation, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, generation, nil
	}
	if err != nil {
		return false, generation, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, generation, err
	}
	return true, generation, nil
}

func (c *RedisCache) Set(ctx context.Context, generation int64, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.entryKey(generation, key), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}
