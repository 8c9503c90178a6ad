package models

import (
	"time"
)

type BidType string

const (
	BidTypeRegular BidType = "REGULAR"
	BidTypeBuyNow  BidType = "BUY_NOW"
)

type BidStatus string

const (
	BidPending  BidStatus = "PENDING"
	BidAccepted BidStatus = "ACCEPTED"
	BidOutbid   BidStatus = "OUTBID"
	BidRejected BidStatus = "REJECTED"
	BidRefunded BidStatus = "REFUNDED"
	BidWon      BidStatus = "WON"
)

// Terminal reports whether the bid can no longer change state.
func (s BidStatus) Terminal() bool {
	return s == BidRejected || s == BidRefunded || s == BidWon
}

// Bid is one claim to the highest position in an auction. For a given
// auction at most one bid is ACCEPTED or WON at any time.
type Bid struct {
	ID        string    `json:"id" db:"id"`
	AuctionID string    `json:"auction_id" db:"auction_id"`
	BidderID  string    `json:"bidder_id" db:"bidder_id"`
	Amount    int64     `json:"amount" db:"amount"` // in HASH minor units
	Type      BidType   `json:"type" db:"type"`
	Status    BidStatus `json:"status" db:"status"`
	PlacedAt  time.Time `json:"placed_at" db:"placed_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
