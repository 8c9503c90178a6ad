package realtime

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter applies a sliding-window counter per key. Keys encode the
// action and the tracked dimension, e.g. "bid:bidder:<id>" or
// "conn:ip:<addr>".
type RateLimiter interface {
	// Allow records one attempt and reports whether it is inside the
	// limit. A rejected attempt is not recorded, so it does not extend
	// the window for the attempts that preceded it.
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// RedisRateLimiter keeps each window in a sorted set scored by
// nanosecond timestamps, shared across instances.
type RedisRateLimiter struct {
	client *redis.Client
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, window: window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	redisKey := "ratelimit:" + key
	now := time.Now()
	cutoff := now.Add(-l.window).UnixNano()

	if err := l.client.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return false, err
	}
	count, err := l.client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count >= int64(limit) {
		return false, nil
	}
	stamp := now.UnixNano()
	if err := l.client.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(stamp),
		Member: strconv.FormatInt(stamp, 10),
	}).Err(); err != nil {
		return false, err
	}
	if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// MemoryRateLimiter is the single-process fallback used when Redis is
// unavailable, and in tests.
type MemoryRateLimiter struct {
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

func NewMemoryRateLimiter(window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		window:   window,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.attempts[key][:0]
	for _, stamp := range l.attempts[key] {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	if len(kept) >= limit {
		l.attempts[key] = kept
		return false, nil
	}
	l.attempts[key] = append(kept, now)
	return true, nil
}
