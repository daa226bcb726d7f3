package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// The online set is a sorted set of user ids scored by expiry time. Redis
// sets have no per-member TTL, so members expire by falling below the
// current-time score. Every WS ping refreshes the score.
const presenceKey = "parley:presence:online"

// SetOnline marks the user online for ttl. Called on connect and on every
// ping.
func (c *Cache) SetOnline(ctx context.Context, userID string, ttl time.Duration) error {
	if c.rdb == nil {
		return nil
	}

	expiry := float64(time.Now().Add(ttl).UnixMilli())
	err := c.rdb.ZAdd(ctx, presenceKey, redis.Z{Score: expiry, Member: userID}).Err()
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// SetOffline removes the user from the online set.
func (c *Cache) SetOffline(ctx context.Context, userID string) error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.ZRem(ctx, presenceKey, userID).Err(); err != nil {
		return fmt.Errorf("set offline: %w", err)
	}
	return nil
}

// OnlineUsers returns every user id whose presence has not expired, pruning
// stale members while it is there.
func (c *Cache) OnlineUsers(ctx context.Context) ([]string, error) {
	if c.rdb == nil {
		return nil, nil
	}

	now := time.Now().UnixMilli()
	c.rdb.ZRemRangeByScore(ctx, presenceKey, "0", strconv.FormatInt(now, 10))

	ids, err := c.rdb.ZRangeByScore(ctx, presenceKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("online users: %w", err)
	}
	return ids, nil
}

// AreOnline reports which of the given users are currently online.
func (c *Cache) AreOnline(ctx context.Context, userIDs []string) (map[string]bool, error) {
	online := make(map[string]bool, len(userIDs))
	if c.rdb == nil || len(userIDs) == 0 {
		return online, nil
	}

	all, err := c.OnlineUsers(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(all))
	for _, id := range all {
		set[id] = true
	}
	for _, id := range userIDs {
		if set[id] {
			online[id] = true
		}
	}
	return online, nil
}

// IsOnline reports whether one user is currently online.
func (c *Cache) IsOnline(ctx context.Context, userID string) (bool, error) {
	if c.rdb == nil {
		return false, nil
	}

	score, err := c.rdb.ZScore(ctx, presenceKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("is online: %w", err)
	}
	return score > float64(time.Now().UnixMilli()), nil
}
