package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()

	newLimiter := func(window time.Duration) (*MemoryRateLimiter, *time.Time) {
		limiter := NewMemoryRateLimiter(window)
		clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return clock }
		return limiter, &clock
	}

	t.Run("allows up to the limit then rejects", func(t *testing.T) {
		limiter, _ := newLimiter(time.Minute)

		for i := 0; i < 30; i++ {
			allowed, err := limiter.Allow(ctx, "bid:bidder:alice", 30)
			require.NoError(t, err)
			require.True(t, allowed, "attempt %d should pass", i+1)
		}

		allowed, err := limiter.Allow(ctx, "bid:bidder:alice", 30)
		require.NoError(t, err)
		assert.False(t, allowed, "attempt 31 inside the window must be rejected")
	})

	t.Run("rejected attempts do not extend the window", func(t *testing.T) {
		limiter, clock := newLimiter(time.Minute)

		for i := 0; i < 30; i++ {
			_, err := limiter.Allow(ctx, "bid:bidder:alice", 30)
			require.NoError(t, err)
		}

		// Hammer the limiter while blocked; none of these may count.
		for i := 0; i < 100; i++ {
			allowed, err := limiter.Allow(ctx, "bid:bidder:alice", 30)
			require.NoError(t, err)
			require.False(t, allowed)
		}

		// Just past the window from the original burst, capacity is back.
		*clock = clock.Add(time.Minute + time.Second)
		allowed, err := limiter.Allow(ctx, "bid:bidder:alice", 30)
		require.NoError(t, err)
		assert.True(t, allowed, "window must be measured from recorded attempts only")
	})

	t.Run("keys are independent", func(t *testing.T) {
		limiter, _ := newLimiter(time.Minute)

		for i := 0; i < 10; i++ {
			_, err := limiter.Allow(ctx, "conn:ip:203.0.113.10", 10)
			require.NoError(t, err)
		}
		blocked, err := limiter.Allow(ctx, "conn:ip:203.0.113.10", 10)
		require.NoError(t, err)
		require.False(t, blocked)

		allowed, err := limiter.Allow(ctx, "conn:ip:198.51.100.7", 10)
		require.NoError(t, err)
		assert.True(t, allowed, "a different key has its own window")
	})

	t.Run("old attempts expire gradually", func(t *testing.T) {
		limiter, clock := newLimiter(time.Minute)

		for i := 0; i < 5; i++ {
			_, err := limiter.Allow(ctx, "k", 5)
			require.NoError(t, err)
			*clock = clock.Add(10 * time.Second)
		}
		// 50s elapsed; the first attempt falls out in 10 more seconds.
		allowed, err := limiter.Allow(ctx, "k", 5)
		require.NoError(t, err)
		require.False(t, allowed)

		*clock = clock.Add(11 * time.Second)
		allowed, err = limiter.Allow(ctx, "k", 5)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("at the limit rejects without recording", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		limiter := NewRedisRateLimiter(client, time.Minute)

		mock.Regexp().ExpectZRemRangeByScore("ratelimit:bid:bidder:alice", "0", `\d+`).SetVal(0)
		mock.ExpectZCard("ratelimit:bid:bidder:alice").SetVal(30)
		// No ZAdd expected: a rejected attempt leaves the window untouched.

		allowed, err := limiter.Allow(ctx, "bid:bidder:alice", 30)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("under the limit records the attempt", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		limiter := NewRedisRateLimiter(client, time.Minute)

		mock.Regexp().ExpectZRemRangeByScore("ratelimit:conn:ip:203.0.113.10", "0", `\d+`).SetVal(2)
		mock.ExpectZCard("ratelimit:conn:ip:203.0.113.10").SetVal(3)
		// The member is the current nanosecond timestamp; match anything.
		mock.CustomMatch(func(expected, actual []interface{}) error { return nil }).
			ExpectZAdd("ratelimit:conn:ip:203.0.113.10", &redis.Z{}).SetVal(1)
		mock.ExpectExpire("ratelimit:conn:ip:203.0.113.10", time.Minute).SetVal(true)

		allowed, err := limiter.Allow(ctx, "conn:ip:203.0.113.10", 10)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure surfaces as an error", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		limiter := NewRedisRateLimiter(client, time.Minute)

		mock.Regexp().ExpectZRemRangeByScore("ratelimit:k", "0", `\d+`).SetErr(assert.AnError)

		_, err := limiter.Allow(ctx, "k", 10)
		assert.Error(t, err)
	})
}
