package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashbid/backend/internal/bidderrors"
)

func makeJob(id, auctionID string) *Job {
	payload, _ := json.Marshal(BidJobPayload{BidID: "bid-" + id, AuctionID: auctionID})
	return &Job{
		ID:          id,
		AuctionID:   auctionID,
		Type:        TypePlaceBid,
		Payload:     payload,
		MaxAttempts: 3,
	}
}

func TestMemoryStore_PerAuctionSerial(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))
	require.NoError(t, store.Enqueue(ctx, makeJob("job2", "auctionA")))
	require.NoError(t, store.Enqueue(ctx, makeJob("job3", "auctionB")))

	first, err := store.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "job1", first.ID)

	// auctionA already has an active job, so job2 is skipped and the
	// lease falls through to auctionB.
	second, err := store.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "job3", second.ID)

	// Nothing else is leasable until one of them resolves.
	third, err := store.Lease(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)

	require.NoError(t, store.Ack(ctx, "job1"))
	next, err := store.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "job2", next.ID, "FIFO within the auction after the active job completes")
}

func TestMemoryStore_NackAndRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))

	job, err := store.Lease(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)

	t.Run("transient nack re-enqueues with a delay", func(t *testing.T) {
		retryAt := time.Now().Add(50 * time.Millisecond)
		require.NoError(t, store.Nack(ctx, "job1", "boom", retryAt, false))

		// Not leasable before its retry time.
		early, err := store.Lease(ctx)
		require.NoError(t, err)
		assert.Nil(t, early)

		time.Sleep(60 * time.Millisecond)
		again, err := store.Lease(ctx)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 2, again.Attempts)
		assert.Equal(t, "boom", again.LastError)
	})

	t.Run("exhausted nack fails the job", func(t *testing.T) {
		require.NoError(t, store.Nack(ctx, "job1", "still broken", time.Now(), true))

		job, err := store.Get(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, JobFailed, job.State)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("manual retry resets attempts", func(t *testing.T) {
		require.NoError(t, store.Retry(ctx, "job1"))

		job, err := store.Get(ctx, "job1")
		require.NoError(t, err)
		assert.Equal(t, JobWaiting, job.State)
		assert.Zero(t, job.Attempts)
		assert.Empty(t, job.LastError)
	})

	t.Run("retry of a non-failed job is rejected", func(t *testing.T) {
		err := store.Retry(ctx, "job1")
		assert.Error(t, err)
	})
}

func TestMemoryStore_RemoveAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))
	require.NoError(t, store.Enqueue(ctx, makeJob("job2", "auctionB")))

	t.Run("active jobs cannot be removed", func(t *testing.T) {
		job, err := store.Lease(ctx)
		require.NoError(t, err)
		require.Equal(t, "job1", job.ID)

		err = store.Remove(ctx, "job1")
		assert.Error(t, err)
	})

	t.Run("waiting jobs can be removed", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, "job2"))
		_, err := store.Get(ctx, "job2")
		assert.ErrorIs(t, err, bidderrors.ErrJobNotFound)
	})

	t.Run("cleanup drops old terminal jobs only", func(t *testing.T) {
		require.NoError(t, store.Ack(ctx, "job1"))

		// Too young to be collected.
		removed, err := store.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)

		removed, err = store.Cleanup(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})

	t.Run("unknown job id", func(t *testing.T) {
		_, err := store.Get(ctx, "ghost")
		assert.ErrorIs(t, err, bidderrors.ErrJobNotFound)
		assert.ErrorIs(t, store.Remove(ctx, "ghost"), bidderrors.ErrJobNotFound)
		assert.ErrorIs(t, store.Retry(ctx, "ghost"), bidderrors.ErrJobNotFound)
	})
}

func TestMemoryStore_Counts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Enqueue(ctx, makeJob("job1", "auctionA")))
	require.NoError(t, store.Enqueue(ctx, makeJob("job2", "auctionB")))
	require.NoError(t, store.Enqueue(ctx, makeJob("job3", "auctionC")))

	job, err := store.Lease(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Ack(ctx, job.ID))

	job, err = store.Lease(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Nack(ctx, job.ID, "boom", time.Now(), true))

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
	assert.Zero(t, counts.Active)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 1, counts.Failed)
}

func TestMemoryStore_OrderCompaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("job%d", i)
		require.NoError(t, store.Enqueue(ctx, makeJob(id, "auction-"+id)))
		leased, err := store.Lease(ctx)
		require.NoError(t, err)
		require.NotNil(t, leased)
		require.NoError(t, store.Ack(ctx, leased.ID))
	}

	store.mu.Lock()
	scanLen := len(store.order)
	store.mu.Unlock()
	assert.Less(t, scanLen, 10, "completed jobs must not accumulate in the lease scan")

	// A job retried after its FAILED entry was compacted away must
	// become leasable again.
	require.NoError(t, store.Enqueue(ctx, makeJob("jobX", "auctionX")))
	leased, err := store.Lease(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Nack(ctx, leased.ID, "settlement rejected", time.Now(), true))
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("filler%d", i)
		require.NoError(t, store.Enqueue(ctx, makeJob(id, "auction-"+id)))
		filler, err := store.Lease(ctx)
		require.NoError(t, err)
		require.NotNil(t, filler)
		require.NoError(t, store.Ack(ctx, filler.ID))
	}

	require.NoError(t, store.Retry(ctx, "jobX"))
	again, err := store.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "jobX", again.ID)
}
