package queue

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/config"
)

func poolConfig() *config.QueueConfig {
	return &config.QueueConfig{
		Workers:           2,
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffCap:        10 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		HealthMaxBacklog:  10,
		HealthMaxFailRate: 0.5,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPool_ProcessesJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var processed int64
	pool := NewPool(store, func(ctx context.Context, job *Job) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}, poolConfig())

	for _, id := range []string{"job1", "job2", "job3"} {
		require.NoError(t, store.Enqueue(ctx, makeJob(id, "auction-"+id)))
	}

	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, time.Second, func() bool {
		counts, _ := store.Counts(ctx)
		return counts.Completed == 3
	})
	assert.Equal(t, int64(3), atomic.LoadInt64(&processed))

	metrics, err := pool.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, metrics.Completed)
	assert.Equal(t, float64(3), metrics.ThroughputMin)
	assert.False(t, metrics.Paused)
}

func TestPool_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var attempts int64
	pool := NewPool(store, func(ctx context.Context, job *Job) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("transient failure")
	}, poolConfig())

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))

	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool {
		job, err := store.Get(ctx, "job1")
		return err == nil && job.State == JobFailed
	})

	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts), "MaxAttempts bounds the retries")
	job, err := store.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Contains(t, job.LastError, "transient failure")
}

func TestPool_InvariantViolationFailsImmediately(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var attempts int64
	pool := NewPool(store, func(ctx context.Context, job *Job) error {
		atomic.AddInt64(&attempts, 1)
		return bidderrors.ErrInvariantViolation
	}, poolConfig())

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))

	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, time.Second, func() bool {
		job, err := store.Get(ctx, "job1")
		return err == nil && job.State == JobFailed
	})
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "invariant violations are never retried")
}

func TestPool_PauseResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	pool := NewPool(store, func(ctx context.Context, job *Job) error { return nil }, poolConfig())
	pool.Pause()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))

	time.Sleep(50 * time.Millisecond)
	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting, "paused pool must not lease")

	health, err := pool.Health(ctx)
	require.NoError(t, err)
	assert.Contains(t, health.Issues, "queue is paused")

	pool.Resume()
	waitFor(t, time.Second, func() bool {
		counts, _ := store.Counts(ctx)
		return counts.Completed == 1
	})
}

func TestPool_SerializesPerAuction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var inFlight, maxInFlight int64
	pool := NewPool(store, func(ctx context.Context, job *Job) error {
		now := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxInFlight)
			if now <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	}, poolConfig())

	// Five jobs on one auction with two workers: overlap would show up
	// as maxInFlight > 1.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Enqueue(ctx, makeJob(string(rune('a'+i)), "auctionA")))
	}

	pool.Start(ctx)
	defer pool.Stop()

	waitFor(t, 3*time.Second, func() bool {
		counts, _ := store.Counts(ctx)
		return counts.Completed == 5
	})
	assert.Equal(t, int64(1), atomic.LoadInt64(&maxInFlight), "jobs of one auction must never overlap")
}

func TestPool_Backoff(t *testing.T) {
	pool := NewPool(NewMemoryStore(), nil, &config.QueueConfig{
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  30 * time.Second,
	})

	assert.Equal(t, 500*time.Millisecond, pool.backoff(1))
	assert.Equal(t, time.Second, pool.backoff(2))
	assert.Equal(t, 2*time.Second, pool.backoff(3))
	assert.Equal(t, 4*time.Second, pool.backoff(4))
	// Deep attempt counts are capped.
	assert.Equal(t, 30*time.Second, pool.backoff(10))
}

func TestPool_HealthThresholds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cfg := poolConfig()
	cfg.HealthMaxBacklog = 2
	pool := NewPool(store, nil, cfg)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Enqueue(ctx, makeJob(id, "auction-"+id)))
	}

	health, err := pool.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	require.Len(t, health.Issues, 1)
	assert.Contains(t, health.Issues[0], "backlog")

	// Fail most of the processed jobs to trip the failure-rate check.
	for i := 0; i < 3; i++ {
		job, err := store.Lease(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Nack(ctx, job.ID, "boom", time.Now(), true))
	}

	health, err = pool.Health(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.Contains(t, strings.Join(health.Issues, "; "), "failure rate")
}
