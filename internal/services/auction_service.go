package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

// AuctionService is the Postgres-backed AuctionStore. Conditional
// UPDATE ... WHERE guards stand in for the optimistic checks; a zero
// RowsAffected means the expected prior state no longer matches.
type AuctionService struct {
	db *sql.DB
}

func NewAuctionService(db *sql.DB) *AuctionService {
	return &AuctionService{db: db}
}

const auctionColumns = `id, title, item_ref, status, whitelist_open_at, whitelist_close_at,
	start_at, end_at, floor_price, min_bid_increment, buy_now_price, whitelist_capacity,
	whitelist_fee, highest_bid_id, highest_bidder_id, highest_amount, winner_id, final_price,
	fired_offsets, version, created_at, updated_at`

func scanAuction(row interface{ Scan(...any) error }) (*models.Auction, error) {
	var a models.Auction
	var bidID, bidderID, winnerID sql.NullString
	var amount, finalPrice sql.NullInt64
	var fired pq.Int64Array
	err := row.Scan(&a.ID, &a.Title, &a.ItemRef, &a.Status, &a.WhitelistOpenAt, &a.WhitelistCloseAt,
		&a.StartAt, &a.EndAt, &a.FloorPrice, &a.MinBidIncrement, &a.BuyNowPrice, &a.WhitelistCapacity,
		&a.WhitelistFee, &bidID, &bidderID, &amount, &winnerID, &finalPrice,
		&fired, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if bidID.Valid {
		a.Highest = &models.HighestBid{BidID: bidID.String, BidderID: bidderID.String, Amount: amount.Int64}
	}
	a.WinnerID = winnerID.String
	a.FinalPrice = finalPrice.Int64
	for _, offset := range fired {
		a.FiredOffsets = append(a.FiredOffsets, int(offset))
	}
	return &a, nil
}

func (s *AuctionService) CreateAuction(ctx context.Context, auction *models.Auction) error {
	now := time.Now()
	auction.CreatedAt, auction.UpdatedAt = now, now
	if auction.Status == "" {
		auction.Status = models.AuctionDraft
	}
	auction.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions (id, title, item_ref, status, whitelist_open_at, whitelist_close_at,
			start_at, end_at, floor_price, min_bid_increment, buy_now_price, whitelist_capacity,
			whitelist_fee, fired_offsets, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		auction.ID, auction.Title, auction.ItemRef, auction.Status, auction.WhitelistOpenAt,
		auction.WhitelistCloseAt, auction.StartAt, auction.EndAt, auction.FloorPrice,
		auction.MinBidIncrement, auction.BuyNowPrice, auction.WhitelistCapacity,
		auction.WhitelistFee, pq.Array([]int64{}), auction.Version, auction.CreatedAt, auction.UpdatedAt)
	return err
}

func (s *AuctionService) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	auction, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", id, bidderrors.ErrAuctionNotFound)
	}
	return auction, err
}

func (s *AuctionService) ListActiveAuctions(ctx context.Context) ([]*models.Auction, error) {
	return s.list(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE status = $1 ORDER BY end_at`, string(models.AuctionActive))
}

func (s *AuctionService) ListUnfinished(ctx context.Context) ([]*models.Auction, error) {
	return s.list(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE status <> $1 ORDER BY end_at`, string(models.AuctionEnded))
}

func (s *AuctionService) list(ctx context.Context, query string, args ...any) ([]*models.Auction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*models.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

func (s *AuctionService) JoinWhitelist(ctx context.Context, auctionID, bidderID string, fee int64) (*models.WhitelistEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status models.AuctionStatus
	var capacity int
	err = tx.QueryRowContext(ctx, `SELECT status, whitelist_capacity FROM auctions WHERE id = $1 FOR UPDATE`, auctionID).
		Scan(&status, &capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrAuctionNotFound)
	}
	if err != nil {
		return nil, err
	}
	if status != models.AuctionWhitelistOpen {
		return nil, fmt.Errorf("auction %s status %s: %w", auctionID, status, bidderrors.ErrWhitelistClosed)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM whitelist_entries WHERE auction_id = $1`, auctionID).Scan(&count); err != nil {
		return nil, err
	}
	if count >= capacity {
		return nil, fmt.Errorf("auction %s: %w", auctionID, bidderrors.ErrWhitelistFull)
	}

	entry := &models.WhitelistEntry{AuctionID: auctionID, BidderID: bidderID, PaidFee: fee, JoinedAt: time.Now()}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO whitelist_entries (auction_id, bidder_id, paid_fee, joined_at)
		VALUES ($1, $2, $3, $4)`, auctionID, bidderID, fee, entry.JoinedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("bidder %s on auction %s: %w", bidderID, auctionID, bidderrors.ErrAlreadyJoined)
		}
		return nil, err
	}

	return entry, tx.Commit()
}

func (s *AuctionService) IsWhitelisted(ctx context.Context, auctionID, bidderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM whitelist_entries WHERE auction_id = $1 AND bidder_id = $2)`,
		auctionID, bidderID).Scan(&exists)
	return exists, err
}

func (s *AuctionService) WhitelistCount(ctx context.Context, auctionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whitelist_entries WHERE auction_id = $1`, auctionID).Scan(&count)
	return count, err
}

func (s *AuctionService) TransitionStatus(ctx context.Context, auctionID string, from, to models.AuctionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, bidderrors.ErrInvalidTransition)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		to, time.Now(), auctionID, from)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("auction %s is no longer %s: %w", auctionID, from, bidderrors.ErrInvalidTransition)
	}
	return nil
}

func (s *AuctionService) RecordBid(ctx context.Context, bid *models.Bid) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, type, status, placed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.Type, bid.Status, bid.PlacedAt, bid.UpdatedAt)
	return err
}

func (s *AuctionService) GetBid(ctx context.Context, bidID string) (*models.Bid, error) {
	var bid models.Bid
	err := s.db.QueryRowContext(ctx, `
		SELECT id, auction_id, bidder_id, amount, type, status, placed_at, updated_at
		FROM bids WHERE id = $1`, bidID).
		Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.Type, &bid.Status, &bid.PlacedAt, &bid.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (s *AuctionService) ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auction_id, bidder_id, amount, type, status, placed_at, updated_at
		FROM bids WHERE auction_id = $1 ORDER BY placed_at`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		var bid models.Bid
		if err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.Type, &bid.Status, &bid.PlacedAt, &bid.UpdatedAt); err != nil {
			return nil, err
		}
		bids = append(bids, &bid)
	}
	return bids, rows.Err()
}

func (s *AuctionService) UpdateBidStatus(ctx context.Context, bidID string, status models.BidStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bids SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), bidID)
	return err
}

// SetHighestBid is the compare-and-set at the heart of bid acceptance:
// the write only lands while the stored leading amount still equals
// expectedPrior, so a concurrent accept forces the caller to re-read.
func (s *AuctionService) SetHighestBid(ctx context.Context, auctionID, bidID string, amount int64, bidderID string, expectedPrior int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET highest_bid_id = $1, highest_bidder_id = $2, highest_amount = $3,
			version = version + 1, updated_at = $4
		WHERE id = $5 AND COALESCE(highest_amount, 0) = $6`,
		bidID, bidderID, amount, time.Now(), auctionID, expectedPrior)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("auction %s expected prior %d: %w", auctionID, expectedPrior, bidderrors.ErrStaleWrite)
	}
	return nil
}

func (s *AuctionService) MarkEndingSoonFired(ctx context.Context, auctionID string, offsetMinutes int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET fired_offsets = array_append(fired_offsets, $1), updated_at = $2
		WHERE id = $3 AND NOT ($1 = ANY(fired_offsets))`,
		offsetMinutes, time.Now(), auctionID)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (s *AuctionService) SetWinner(ctx context.Context, auctionID, winnerID string, finalPrice int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET winner_id = $1, final_price = $2, updated_at = $3 WHERE id = $4`,
		winnerID, finalPrice, time.Now(), auctionID)
	return err
}
