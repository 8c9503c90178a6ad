package models

import (
	"time"
)

// Ledger entry types. HOLD moves available into held, RELEASE moves it
// back, SETTLE converts held into a permanent debit, DEPOSIT credits
// available from an external top-up.
const (
	EntryHold    = "HOLD"
	EntryRelease = "RELEASE"
	EntrySettle  = "SETTLE"
	EntryDeposit = "DEPOSIT"
)

type LedgerEntry struct {
	ID        int       `json:"id" db:"id"`
	BidderID  string    `json:"bidder_id" db:"bidder_id"`
	AuctionID string    `json:"auction_id,omitempty" db:"auction_id"`
	Amount    int64     `json:"amount" db:"amount"` // in HASH minor units
	EntryType string    `json:"entry_type" db:"entry_type"`
	Available int64     `json:"available" db:"available"` // balance after apply
	Held      int64     `json:"held" db:"held"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LedgerAccount holds a bidder's HASH balances. Both columns are always
// non-negative; held equals the sum of the bidder's currently accepted
// bid amounts across auctions.
type LedgerAccount struct {
	BidderID  string    `json:"bidder_id" db:"bidder_id"`
	Available int64     `json:"available" db:"available"`
	Held      int64     `json:"held" db:"held"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
