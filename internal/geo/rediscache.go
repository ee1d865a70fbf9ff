package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is an optional second cache tier shared across replicas, so a
// fleet does not re-resolve the same prefixes after a restart. Disabled or
// nil-client instances are inert.
type RedisCache struct {
	redis   *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisCache creates a Redis-backed geo cache.
func NewRedisCache(client *redis.Client, enabled bool, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, enabled: enabled, ttl: ttl}
}

// IsEnabled returns whether the cache is usable.
func (c *RedisCache) IsEnabled() bool {
	return c != nil && c.enabled && c.redis != nil
}

// Get returns the cached location for a prefix, if present.
func (c *RedisCache) Get(ctx context.Context, prefix netip.Prefix) (Location, bool, error) {
	if !c.IsEnabled() {
		return Location{}, false, nil
	}

	data, err := c.redis.Get(ctx, cacheKey(prefix)).Result()
	if errors.Is(err, redis.Nil) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, fmt.Errorf("failed to get geo cache entry: %w", err)
	}

	var loc Location
	if err := json.Unmarshal([]byte(data), &loc); err != nil {
		return Location{}, false, fmt.Errorf("failed to unmarshal geo cache entry: %w", err)
	}
	return loc, true, nil
}

// Put stores the location for a prefix with the cache TTL.
func (c *RedisCache) Put(ctx context.Context, prefix netip.Prefix, loc Location) error {
	if !c.IsEnabled() {
		return nil
	}

	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal geo cache entry: %w", err)
	}
	if err := c.redis.Set(ctx, cacheKey(prefix), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save geo cache entry: %w", err)
	}
	return nil
}

func cacheKey(prefix netip.Prefix) string {
	return "geo:" + prefix.String()
}
