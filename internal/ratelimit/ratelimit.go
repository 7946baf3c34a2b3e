// Package ratelimit implements the token-bucket rate limiting spec §5
// requires for the REST and WebSocket surfaces: one bucket per
// (kind, key) pair, where key is a client IP or authenticated user id
// and kind is one of the named buckets (rest_default, rest_auth,
// rest_voice, rest_chat, rest_admin, ws_message, ws_message_min).
// Buckets are in-process by default; when a redis client is supplied
// a distributed counter backs the same decision so multiple
// renfieldd instances share one limit, mirroring the teacher's
// gateway.RateLimiter generalized to multiple bucket kinds.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Rule is one bucket kind's allowance.
type Rule struct {
	Rate  float64       // tokens per second
	Burst int           // bucket capacity
	TTL   time.Duration // redis key expiry, ignored in-process
}

// Limiter grants or denies requests per (kind, key).
type Limiter struct {
	rules map[string]Rule
	redis *redis.Client

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

// New wires a Limiter. redisClient may be nil, in which case every
// decision is made in-process only (single-instance deployments).
func New(rules map[string]Rule, redisClient *redis.Client) *Limiter {
	return &Limiter{
		rules:   rules,
		redis:   redisClient,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether one request of kind from key may proceed. An
// unknown kind always allows (fail-open on misconfiguration, matching
// the teacher's own rate limiter default).
func (l *Limiter) Allow(ctx context.Context, kind, key string) bool {
	rule, ok := l.rules[kind]
	if !ok || rule.Rate <= 0 {
		return true
	}
	if !l.allowLocal(kind, key, rule) {
		return false
	}
	if l.redis == nil {
		return true
	}
	return l.allowDistributed(ctx, kind, key, rule)
}

func (l *Limiter) allowLocal(kind, key string, rule Rule) bool {
	bucketKey := kind + ":" + key
	l.mu.Lock()
	b, ok := l.buckets[bucketKey]
	if !ok {
		b = rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst)
		l.buckets[bucketKey] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// allowDistributed layers a Redis-backed fixed-window counter on top
// of the local bucket so a fleet of renfieldd instances shares one
// cap per window even though each instance's local bucket is
// independent. Redis errors fail open: a transient cache outage must
// not take down request handling.
func (l *Limiter) allowDistributed(ctx context.Context, kind, key string, rule Rule) bool {
	ttl := rule.TTL
	if ttl <= 0 {
		ttl = time.Second
	}
	window := time.Now().Unix() / int64(ttl.Seconds()+1)
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", kind, key, window)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		l.redis.Expire(ctx, redisKey, ttl)
	}
	limit := int64(rule.Rate*ttl.Seconds()) + int64(rule.Burst)
	return count <= limit
}

// RulesFromConfig builds the named bucket rules spec §5 requires from
// config.RateLimitConfig's per-minute/per-second allowances.
func RulesFromConfig(restDefaultPerMin, restAuthPerMin, restVoicePerMin, restChatPerMin, restAdminPerMin, wsPerSec, wsPerMin int) map[string]Rule {
	perMin := func(n int) Rule {
		return Rule{Rate: float64(n) / 60, Burst: max(n, 1), TTL: time.Minute}
	}
	return map[string]Rule{
		"rest_default": perMin(restDefaultPerMin),
		"rest_auth":    perMin(restAuthPerMin),
		"rest_voice":   perMin(restVoicePerMin),
		"rest_chat":    perMin(restChatPerMin),
		"rest_admin":   perMin(restAdminPerMin),
		"ws_message":   {Rate: float64(wsPerSec), Burst: max(wsPerSec, 1), TTL: time.Second},
		"ws_message_min": perMin(wsPerMin),
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
