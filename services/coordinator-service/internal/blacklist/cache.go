// Package blacklist caches active blocks in redis so the intake path can
// reject blacklisted clients without a database round trip. The blacklist
// table remains the source of truth; cache entries expire together with
// the block itself.
package blacklist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb    *redis.Client
	prefix string
}

func NewCache(rdb *redis.Client, prefix string) *Cache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bl"
	}
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(chatID int64) string {
	return fmt.Sprintf("%s:%d", c.prefix, chatID)
}

// Block mirrors a durable blacklist entry; the TTL equals the remaining
// block term so the key disappears when the block expires.
func (c *Cache) Block(ctx context.Context, chatID int64, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, c.key(chatID), "1", ttl).Err()
}

func (c *Cache) Unblock(ctx context.Context, chatID int64) error {
	return c.rdb.Del(ctx, c.key(chatID)).Err()
}

// IsBlocked consults the cache only. Callers fall back to the table on
// a miss or redis error; a cache hit is authoritative (it cannot outlive
// the block).
func (c *Cache) IsBlocked(ctx context.Context, chatID int64) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key(chatID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
