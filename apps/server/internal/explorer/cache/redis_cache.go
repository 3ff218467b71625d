package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
)

const (
	listingKeyPrefix = "listing:"
	indexKeyPrefix   = "listings:"
)

// DefaultTTL is how long a listing stays cached when no TTL is configured.
const DefaultTTL = 10 * time.Minute

// Compile-time check: *RedisListingCache implements explorer.ListingCache.
var _ explorer.ListingCache = (*RedisListingCache)(nil)

// RedisListingCache stores one-level tree listings in redis. Each token key
// has an index set of its listing keys so a token switch can drop them all.
type RedisListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisListingCache creates a RedisListingCache. A ttl of zero uses DefaultTTL.
func NewRedisListingCache(rdb *redis.Client, ttl time.Duration) *RedisListingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisListingCache{rdb: rdb, ttl: ttl}
}

func listingKey(k explorer.ListingKey) string {
	return listingKeyPrefix + k.TokenKey + ":" + k.Owner + "/" + k.Repo + ":" + k.SHA
}

func indexKey(tokenKey string) string {
	return indexKeyPrefix + tokenKey
}

// Get returns the cached listing for k.
func (c *RedisListingCache) Get(ctx context.Context, k explorer.ListingKey) ([]explorer.TreeEntry, bool, error) {
	val, err := c.rdb.Get(ctx, listingKey(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get listing %s: %w", k.SHA, err)
	}
	var entries []explorer.TreeEntry
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, false, fmt.Errorf("unmarshal listing %s: %w", k.SHA, err)
	}
	return entries, true, nil
}

// Put caches entries under k and records k in its token's index.
func (c *RedisListingCache) Put(ctx context.Context, k explorer.ListingKey, entries []explorer.TreeEntry) error {
	if entries == nil {
		entries = []explorer.TreeEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	key, idx := listingKey(k), indexKey(k.TokenKey)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put listing %s: %w", k.SHA, err)
	}
	return nil
}

// InvalidateToken deletes every listing cached for tokenKey.
func (c *RedisListingCache) InvalidateToken(ctx context.Context, tokenKey string) error {
	idx := indexKey(tokenKey)
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("read listing index for %s: %w", tokenKey, err)
	}
	if err := c.rdb.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("delete listings for %s: %w", tokenKey, err)
	}
	return nil
}
