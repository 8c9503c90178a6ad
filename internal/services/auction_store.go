package services

import (
	"context"

	"github.com/hashbid/backend/internal/models"
)

// AuctionStore owns auction, bid and whitelist records, including the
// denormalized current-highest-bid pointer. SetHighestBid is the
// optimistic-concurrency guard that keeps bid acceptance linearizable
// per auction without a global lock.
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction *models.Auction) error
	GetAuction(ctx context.Context, id string) (*models.Auction, error)
	ListActiveAuctions(ctx context.Context) ([]*models.Auction, error)
	// ListUnfinished returns every auction not yet ENDED, for the
	// lifecycle scheduler.
	ListUnfinished(ctx context.Context) ([]*models.Auction, error)

	// JoinWhitelist admits a bidder while the whitelist is open and under
	// capacity. One entry per (auction, bidder).
	JoinWhitelist(ctx context.Context, auctionID, bidderID string, fee int64) (*models.WhitelistEntry, error)
	IsWhitelisted(ctx context.Context, auctionID, bidderID string) (bool, error)
	WhitelistCount(ctx context.Context, auctionID string) (int, error)

	// TransitionStatus moves the auction from -> to; fails with
	// bidderrors.ErrInvalidTransition when the stored status is not `from`.
	TransitionStatus(ctx context.Context, auctionID string, from, to models.AuctionStatus) error

	RecordBid(ctx context.Context, bid *models.Bid) error
	GetBid(ctx context.Context, bidID string) (*models.Bid, error)
	ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error)
	UpdateBidStatus(ctx context.Context, bidID string, status models.BidStatus) error

	// SetHighestBid installs a new leading bid if and only if the stored
	// leading amount still equals expectedPrior (0 = no prior bid). Fails
	// with bidderrors.ErrStaleWrite otherwise.
	SetHighestBid(ctx context.Context, auctionID, bidID string, amount int64, bidderID string, expectedPrior int64) error

	// MarkEndingSoonFired records that the given offset was announced.
	// Returns false when it had already fired.
	MarkEndingSoonFired(ctx context.Context, auctionID string, offsetMinutes int) (bool, error)

	SetWinner(ctx context.Context, auctionID, winnerID string, finalPrice int64) error
}
