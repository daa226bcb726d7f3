// Package cache provides a uniform key/value layer with TTL and explicit
// invalidation over Redis. Values are msgpack-encoded.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache struct {
	rdb *redis.Client
}

// New wraps a Redis client. A nil client disables the cache: reads miss,
// writes are dropped. Callers never need to special-case a missing Redis.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Connect opens and pings a Redis client.
func Connect(ctx context.Context, addr, password string, db, poolSize int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Ping checks the Redis connection. A nil client reports healthy since the
// cache is optional.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Set stores a msgpack-encoded value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.rdb == nil {
		return nil
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set cache key: %w", err)
	}
	return nil
}

// Get loads and decodes the value at key into dest. Returns ErrMiss when the
// key is absent.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if c.rdb == nil {
		return ErrMiss
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("get cache key: %w", err)
	}
	if err := msgpack.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode cache value: %w", err)
	}
	return nil
}

// Delete invalidates keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c.rdb == nil || len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

// Key builders. Everything lives under the parley: namespace.

func UnreadKey(userID, conversationID string) string {
	return "parley:unread:" + userID + ":" + conversationID
}

func ProfileKey(userID string) string {
	return "parley:profile:" + userID
}

func KeyBundleKey(userID string) string {
	return "parley:bundle:" + userID
}

func ResolvedUserKey(externalID string) string {
	return "parley:resolved:" + externalID
}
