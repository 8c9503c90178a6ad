package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

func newTestAuction(status models.AuctionStatus) *models.Auction {
	now := time.Now()
	return &models.Auction{
		ID:                "auction1",
		Title:             "Genesis Plot #42",
		ItemRef:           "plot-42",
		Status:            status,
		WhitelistOpenAt:   now.Add(-time.Hour),
		WhitelistCloseAt:  now.Add(-30 * time.Minute),
		StartAt:           now.Add(-10 * time.Minute),
		EndAt:             now.Add(time.Hour),
		FloorPrice:        1000,
		MinBidIncrement:   100,
		BuyNowPrice:       10000,
		WhitelistCapacity: 3,
		WhitelistFee:      50,
	}
}

func TestMemoryAuctionStore_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("forward transitions succeed", func(t *testing.T) {
		store := NewMemoryAuctionStore()
		require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionDraft)))

		steps := []struct{ from, to models.AuctionStatus }{
			{models.AuctionDraft, models.AuctionWhitelistOpen},
			{models.AuctionWhitelistOpen, models.AuctionWhitelistClosed},
			{models.AuctionWhitelistClosed, models.AuctionActive},
			{models.AuctionActive, models.AuctionEnded},
		}
		for _, step := range steps {
			require.NoError(t, store.TransitionStatus(ctx, "auction1", step.from, step.to))
		}

		auction, err := store.GetAuction(ctx, "auction1")
		require.NoError(t, err)
		assert.Equal(t, models.AuctionEnded, auction.Status)
	})

	t.Run("skipping a phase is rejected", func(t *testing.T) {
		store := NewMemoryAuctionStore()
		require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionDraft)))

		err := store.TransitionStatus(ctx, "auction1", models.AuctionDraft, models.AuctionActive)
		assert.ErrorIs(t, err, bidderrors.ErrInvalidTransition)
	})

	t.Run("stale from state is rejected", func(t *testing.T) {
		store := NewMemoryAuctionStore()
		require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionWhitelistOpen)))

		err := store.TransitionStatus(ctx, "auction1", models.AuctionDraft, models.AuctionWhitelistOpen)
		assert.ErrorIs(t, err, bidderrors.ErrInvalidTransition)
	})

	t.Run("no regression path", func(t *testing.T) {
		assert.False(t, models.AuctionEnded.CanTransitionTo(models.AuctionActive))
		assert.False(t, models.AuctionActive.CanTransitionTo(models.AuctionWhitelistClosed))
	})
}

func TestMemoryAuctionStore_Whitelist(t *testing.T) {
	ctx := context.Background()

	t.Run("join and duplicate join", func(t *testing.T) {
		store := NewMemoryAuctionStore()
		require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionWhitelistOpen)))

		entry, err := store.JoinWhitelist(ctx, "auction1", "bidder1", 50)
		require.NoError(t, err)
		assert.Equal(t, int64(50), entry.PaidFee)

		_, err = store.JoinWhitelist(ctx, "auction1", "bidder1", 50)
		assert.ErrorIs(t, err, bidderrors.ErrAlreadyJoined)

		ok, err := store.IsWhitelisted(ctx, "auction1", "bidder1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("capacity is enforced", func(t *testing.T) {
		store := NewMemoryAuctionStore()
		require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionWhitelistOpen)))

		for i := 0; i < 3; i++ {
			_, err := store.JoinWhitelist(ctx, "auction1", fmt.Sprintf("bidder%d", i), 50)
			require.NoError(t, err)
		}

		_, err := store.JoinWhitelist(ctx, "auction1", "late", 50)
		assert.ErrorIs(t, err, bidderrors.ErrWhitelistFull)

		count, err := store.WhitelistCount(ctx, "auction1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("join outside the whitelist window", func(t *testing.T) {
		store := NewMemoryAuctionStore()
		require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionActive)))

		_, err := store.JoinWhitelist(ctx, "auction1", "bidder1", 50)
		assert.ErrorIs(t, err, bidderrors.ErrWhitelistClosed)
	})
}

func TestMemoryAuctionStore_SetHighestBid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuctionStore()
	require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionActive)))

	t.Run("install with matching prior", func(t *testing.T) {
		require.NoError(t, store.SetHighestBid(ctx, "auction1", "bid1", 1500, "bidder1", 0))

		auction, err := store.GetAuction(ctx, "auction1")
		require.NoError(t, err)
		require.NotNil(t, auction.Highest)
		assert.Equal(t, int64(1500), auction.Highest.Amount)
		assert.Equal(t, "bidder1", auction.Highest.BidderID)
	})

	t.Run("stale expected prior is rejected", func(t *testing.T) {
		err := store.SetHighestBid(ctx, "auction1", "bid2", 1600, "bidder2", 0)
		assert.ErrorIs(t, err, bidderrors.ErrStaleWrite)

		// The losing write must not have touched the pointer.
		auction, err := store.GetAuction(ctx, "auction1")
		require.NoError(t, err)
		assert.Equal(t, "bid1", auction.Highest.BidID)
	})

	t.Run("retry with fresh prior succeeds", func(t *testing.T) {
		require.NoError(t, store.SetHighestBid(ctx, "auction1", "bid2", 1600, "bidder2", 1500))

		auction, err := store.GetAuction(ctx, "auction1")
		require.NoError(t, err)
		assert.Equal(t, "bid2", auction.Highest.BidID)
	})
}

func TestMemoryAuctionStore_MarkEndingSoonFired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuctionStore()
	require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionActive)))

	fired, err := store.MarkEndingSoonFired(ctx, "auction1", 5)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = store.MarkEndingSoonFired(ctx, "auction1", 5)
	require.NoError(t, err)
	assert.False(t, fired, "same offset must fire at most once")

	fired, err = store.MarkEndingSoonFired(ctx, "auction1", 1)
	require.NoError(t, err)
	assert.True(t, fired, "distinct offsets fire independently")
}

func TestMemoryAuctionStore_GetAuctionReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuctionStore()
	require.NoError(t, store.CreateAuction(ctx, newTestAuction(models.AuctionActive)))

	auction, err := store.GetAuction(ctx, "auction1")
	require.NoError(t, err)
	auction.Status = models.AuctionEnded
	auction.FloorPrice = 1

	reread, err := store.GetAuction(ctx, "auction1")
	require.NoError(t, err)
	assert.Equal(t, models.AuctionActive, reread.Status)
	assert.Equal(t, int64(1000), reread.FloorPrice)
}
