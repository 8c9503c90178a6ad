package services

import (
	"context"

	"github.com/hashbid/backend/internal/models"
)

// Ledger applies atomic hold/release/settle operations on a bidder's
// HASH balances. Every mutation appends a ledger entry tagged with the
// auction it was made against, so holds can be reconciled per auction.
type Ledger interface {
	// Hold earmarks amount against a bid: available -= amount, held += amount.
	// Fails with bidderrors.ErrInsufficientBalance when available < amount.
	Hold(ctx context.Context, bidderID, auctionID string, amount int64) error
	// Release returns a hold: held -= amount, available += amount. Fails with
	// bidderrors.ErrInvariantViolation if it would drive held negative; that
	// signals a bug upstream, never a user-facing condition.
	Release(ctx context.Context, bidderID, auctionID string, amount int64) error
	// Settle converts a hold into a permanent debit on auction win.
	Settle(ctx context.Context, bidderID, auctionID string, amount int64) error
	// Deposit credits available balance from an external top-up.
	Deposit(ctx context.Context, bidderID string, amount int64) error
	// Account returns the bidder's current balances.
	Account(ctx context.Context, bidderID string) (*models.LedgerAccount, error)
	// HeldFor returns the net amount currently held for the bidder against
	// one auction (holds minus releases minus settlements).
	HeldFor(ctx context.Context, bidderID, auctionID string) (int64, error)
}
