package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

func TestAuctionService_SetHighestBid(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuctionService(db)
	ctx := context.Background()

	t.Run("compare and set succeeds", func(t *testing.T) {
		mock.ExpectExec("UPDATE auctions SET highest_bid_id = \\$1, highest_bidder_id = \\$2, highest_amount = \\$3").
			WithArgs("bid1", "bidder1", int64(1500), sqlmock.AnyArg(), "auction1", int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.SetHighestBid(ctx, "auction1", "bid1", 1500, "bidder1", 0)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale prior yields ErrStaleWrite", func(t *testing.T) {
		mock.ExpectExec("UPDATE auctions SET highest_bid_id = \\$1, highest_bidder_id = \\$2, highest_amount = \\$3").
			WithArgs("bid2", "bidder2", int64(1600), sqlmock.AnyArg(), "auction1", int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.SetHighestBid(ctx, "auction1", "bid2", 1600, "bidder2", 0)
		assert.ErrorIs(t, err, bidderrors.ErrStaleWrite)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuctionService_TransitionStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuctionService(db)
	ctx := context.Background()

	t.Run("conditional update applies", func(t *testing.T) {
		mock.ExpectExec("UPDATE auctions SET status = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND status = \\$4").
			WithArgs(models.AuctionActive, sqlmock.AnyArg(), "auction1", models.AuctionWhitelistClosed).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.TransitionStatus(ctx, "auction1", models.AuctionWhitelistClosed, models.AuctionActive)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race yields ErrInvalidTransition", func(t *testing.T) {
		mock.ExpectExec("UPDATE auctions SET status = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND status = \\$4").
			WithArgs(models.AuctionEnded, sqlmock.AnyArg(), "auction1", models.AuctionActive).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.TransitionStatus(ctx, "auction1", models.AuctionActive, models.AuctionEnded)
		assert.ErrorIs(t, err, bidderrors.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("illegal step rejected without a query", func(t *testing.T) {
		err := service.TransitionStatus(ctx, "auction1", models.AuctionDraft, models.AuctionEnded)
		assert.ErrorIs(t, err, bidderrors.ErrInvalidTransition)
	})
}

func TestAuctionService_MarkEndingSoonFired(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuctionService(db)
	ctx := context.Background()

	t.Run("first fire appends the offset", func(t *testing.T) {
		mock.ExpectExec("UPDATE auctions SET fired_offsets = array_append").
			WithArgs(5, sqlmock.AnyArg(), "auction1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		fired, err := service.MarkEndingSoonFired(ctx, "auction1", 5)
		assert.NoError(t, err)
		assert.True(t, fired)
	})

	t.Run("repeat fire is a no-op", func(t *testing.T) {
		mock.ExpectExec("UPDATE auctions SET fired_offsets = array_append").
			WithArgs(5, sqlmock.AnyArg(), "auction1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		fired, err := service.MarkEndingSoonFired(ctx, "auction1", 5)
		assert.NoError(t, err)
		assert.False(t, fired)
	})
}

func TestAuctionService_GetAuction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuctionService(db)

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM auctions WHERE id = \\$1").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.GetAuction(context.Background(), "missing")
		assert.ErrorIs(t, err, bidderrors.ErrAuctionNotFound)
	})

	t.Run("scans the highest bid pointer", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "title", "item_ref", "status", "whitelist_open_at", "whitelist_close_at",
			"start_at", "end_at", "floor_price", "min_bid_increment", "buy_now_price",
			"whitelist_capacity", "whitelist_fee", "highest_bid_id", "highest_bidder_id",
			"highest_amount", "winner_id", "final_price", "fired_offsets", "version",
			"created_at", "updated_at",
		}).AddRow(
			"auction1", "Genesis Plot #42", "plot-42", "ACTIVE", now, now,
			now, now, 1000, 100, 0,
			10, 50, "bid1", "bidder1",
			1500, nil, nil, []byte("{30,5}"), 3,
			now, now,
		)
		mock.ExpectQuery("SELECT (.+) FROM auctions WHERE id = \\$1").
			WithArgs("auction1").
			WillReturnRows(rows)

		auction, err := service.GetAuction(context.Background(), "auction1")
		assert.NoError(t, err)
		assert.Equal(t, models.AuctionActive, auction.Status)
		assert.NotNil(t, auction.Highest)
		assert.Equal(t, int64(1500), auction.Highest.Amount)
		assert.True(t, auction.HasFired(30))
		assert.False(t, auction.HasFired(15))
	})
}
