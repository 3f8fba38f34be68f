// Package cache provides a Redis-backed cache of drop projections.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/droplink/services/droplink"
)

const (
	keyPrefix  = "droplink:drop:"
	DefaultTTL = 5 * time.Minute
)

// RedisCache implements droplink.ViewCache.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ droplink.ViewCache = (*RedisCache)(nil)

// NewRedisCache wraps an existing client. ttl <= 0 uses DefaultTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisCache(client, ttl), nil
}

// Key returns the cache key of id.
func Key(id droplink.DropID) string {
	return keyPrefix + id.Hex()
}

func (c *RedisCache) Get(ctx context.Context, id droplink.DropID) (*droplink.DropView, bool, error) {
	raw, err := c.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var view droplink.DropView
	if err := json.Unmarshal(raw, &view); err != nil {
		// a corrupt entry is treated as a miss and dropped
		_ = c.client.Del(ctx, Key(id)).Err()
		return nil, false, nil
	}
	return &view, true, nil
}

func (c *RedisCache) Set(ctx context.Context, id droplink.DropID, view droplink.DropView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(id), raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, id droplink.DropID) error {
	return c.client.Del(ctx, Key(id)).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
