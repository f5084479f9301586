// Package presence contains the Redis-backed presence cache: a best-effort
// mirror of which users currently hold at least one open connection.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient is the slice of go-redis this cache needs, so tests can supply
// a mock.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisPresenceCache implements fabric.PresenceCache. Entries carry a TTL so
// a crashed instance cannot leave users marked online forever.
type RedisPresenceCache struct {
	client     redisClient
	instanceID string
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewRedisPresenceCache is the constructor for the cache. The instance ID
// identifies which server owns the connection, useful when reading presence
// entries during debugging.
func NewRedisPresenceCache(client redisClient, instanceID string, ttl time.Duration, logger zerolog.Logger) (*RedisPresenceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("presence ttl must be positive")
	}
	return &RedisPresenceCache{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger.With().Str("component", "RedisPresenceCache").Logger(),
	}, nil
}

func presenceKey(userID string) string {
	return "presence:user:" + userID
}

// Set marks the user online.
func (c *RedisPresenceCache) Set(ctx context.Context, userID string) error {
	if err := c.client.Set(ctx, presenceKey(userID), c.instanceID, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// Delete marks the user offline.
func (c *RedisPresenceCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

// IsOnline reports whether a presence entry exists for the user.
func (c *RedisPresenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}
