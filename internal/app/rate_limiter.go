package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter admits or rejects one request for subject.
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (allowed bool, retryAfter time.Duration, err error)
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements a distributed fixed-window limiter.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	scope  string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix, scope string, limit int, window time.Duration) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "tropiwallet:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: trimmedPrefix, scope: scope, limit: limit, window: window}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	count, retryAfterSeconds, err := r.consume(ctx, subject)
	if err != nil {
		return true, 0, err
	}
	if count > r.limit {
		return false, time.Duration(retryAfterSeconds) * time.Second, nil
	}
	return true, 0, nil
}

func (r *RedisRateLimiter) consume(ctx context.Context, subject string) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return 0, 0, nil
	}
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, r.scope, normalizedSubject)
	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(currentCount), retryAfter, nil
}

// MemoryRateLimiter is an in-process token bucket per subject. Idle buckets
// are dropped after ten minutes.
type MemoryRateLimiter struct {
	limit   int
	window  time.Duration
	buckets *gocache.Cache
	mu      sync.Mutex
	now     func() time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		buckets: gocache.New(10*time.Minute, 5*time.Minute),
		now:     time.Now,
	}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, subject string) (bool, time.Duration, error) {
	if m.limit <= 0 || m.window <= 0 {
		return true, 0, nil
	}
	limiter := m.bucket(strings.TrimSpace(subject))
	now := m.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, m.window, nil
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return false, roundUpSecond(delay), nil
	}
	return true, 0, nil
}

func (m *MemoryRateLimiter) bucket(subject string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.buckets.Get(subject); ok {
		m.buckets.Set(subject, v, gocache.DefaultExpiration)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Every(m.window/time.Duration(m.limit)), m.limit)
	m.buckets.Set(subject, limiter, gocache.DefaultExpiration)
	return limiter
}

func roundUpSecond(d time.Duration) time.Duration {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
