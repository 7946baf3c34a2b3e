package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupCache decorates a Store with a Redis fast path for
// RecentFingerprint, the hottest call in the Ingest pipeline (spec
// §4.14 runs it on every single inbound event). A cache hit answers
// without a Postgres round trip; a miss falls through to the
// underlying Store and, on insert, seeds the cache so the next
// duplicate within the suppression window is caught in Redis alone.
// Every Redis error falls back to the underlying Store, mirroring
// internal/ratelimit's fail-open behavior on a cache outage.
type RedisDedupCache struct {
	Store
	redis *redis.Client
}

// NewRedisDedupCache wraps store with a Redis-backed fingerprint
// cache. redisClient must not be nil; callers should only construct
// this decorator when a rate-limit/dedup Redis instance is configured.
func NewRedisDedupCache(store Store, redisClient *redis.Client) *RedisDedupCache {
	return &RedisDedupCache{Store: store, redis: redisClient}
}

func dedupKey(fingerprint string) string {
	return "notify:dedup:" + fingerprint
}

// RecentFingerprint checks Redis first, then the underlying Store on a
// miss or a Redis error. It does not write to Redis; the cache is
// seeded by Insert.
func (c *RedisDedupCache) RecentFingerprint(ctx context.Context, fingerprint string, within time.Duration) (bool, error) {
	exists, err := c.redis.Exists(ctx, dedupKey(fingerprint)).Result()
	if err == nil && exists > 0 {
		return true, nil
	}

	recent, err := c.Store.RecentFingerprint(ctx, fingerprint, within)
	if err != nil {
		return false, err
	}
	return recent, nil
}

// Insert persists through the underlying Store, then seeds the Redis
// cache with this notification's fingerprint for the suppression
// window so the very next duplicate is caught without a query.
func (c *RedisDedupCache) Insert(ctx context.Context, n *Notification) error {
	if err := c.Store.Insert(ctx, n); err != nil {
		return err
	}
	if n.DedupFingerprint == "" {
		return nil
	}
	ttl := time.Until(n.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := c.redis.Set(ctx, dedupKey(n.DedupFingerprint), "1", ttl).Err(); err != nil {
		return nil // cache-population failure must not fail the ingest pipeline
	}
	return nil
}
