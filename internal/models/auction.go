package models

import (
	"time"
)

type AuctionStatus string

const (
	AuctionDraft           AuctionStatus = "DRAFT"
	AuctionWhitelistOpen   AuctionStatus = "WHITELIST_OPEN"
	AuctionWhitelistClosed AuctionStatus = "WHITELIST_CLOSED"
	AuctionActive          AuctionStatus = "ACTIVE"
	AuctionEnded           AuctionStatus = "ENDED"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Transitions are strictly forward; there is no regression path.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionDraft:
		return next == AuctionWhitelistOpen
	case AuctionWhitelistOpen:
		return next == AuctionWhitelistClosed
	case AuctionWhitelistClosed:
		return next == AuctionActive
	case AuctionActive:
		return next == AuctionEnded
	default:
		return false
	}
}

// HighestBid is the denormalized pointer to the current leading bid.
// Amount is monotonically non-decreasing while the auction is ACTIVE.
type HighestBid struct {
	BidID    string `json:"bid_id" db:"highest_bid_id"`
	BidderID string `json:"bidder_id" db:"highest_bidder_id"`
	Amount   int64  `json:"amount" db:"highest_amount"` // in HASH minor units
}

// Auction represents a time-boxed, whitelist-gated competition for one item.
type Auction struct {
	ID                string        `json:"id" db:"id"`
	Title             string        `json:"title" db:"title"`
	ItemRef           string        `json:"item_ref" db:"item_ref"`
	Status            AuctionStatus `json:"status" db:"status"`
	WhitelistOpenAt   time.Time     `json:"whitelist_open_at" db:"whitelist_open_at"`
	WhitelistCloseAt  time.Time     `json:"whitelist_close_at" db:"whitelist_close_at"`
	StartAt           time.Time     `json:"start_at" db:"start_at"`
	EndAt             time.Time     `json:"end_at" db:"end_at"`
	FloorPrice        int64         `json:"floor_price" db:"floor_price"`
	MinBidIncrement   int64         `json:"min_bid_increment" db:"min_bid_increment"`
	BuyNowPrice       int64         `json:"buy_now_price,omitempty" db:"buy_now_price"` // 0 = buy-now disabled
	WhitelistCapacity int           `json:"whitelist_capacity" db:"whitelist_capacity"`
	WhitelistFee      int64         `json:"whitelist_fee" db:"whitelist_fee"`
	Highest           *HighestBid   `json:"highest_bid,omitempty"`
	WinnerID          string        `json:"winner_id,omitempty" db:"winner_id"`
	FinalPrice        int64         `json:"final_price,omitempty" db:"final_price"`
	// FiredOffsets records which ending-soon offsets (in minutes before EndAt)
	// have already been broadcast, so each fires at most once.
	FiredOffsets []int     `json:"-" db:"fired_offsets"`
	Version      int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// MinAcceptableBid returns the lowest amount a new bid must reach:
// the floor when there is no leading bid, otherwise leading amount + increment.
func (a *Auction) MinAcceptableBid() int64 {
	if a.Highest == nil {
		return a.FloorPrice
	}
	return a.Highest.Amount + a.MinBidIncrement
}

// HasFired reports whether the given ending-soon offset was already announced.
func (a *Auction) HasFired(offsetMinutes int) bool {
	for _, fired := range a.FiredOffsets {
		if fired == offsetMinutes {
			return true
		}
	}
	return false
}

// WhitelistEntry records a bidder's paid admission to one auction.
type WhitelistEntry struct {
	AuctionID string    `json:"auction_id" db:"auction_id"`
	BidderID  string    `json:"bidder_id" db:"bidder_id"`
	PaidFee   int64     `json:"paid_fee" db:"paid_fee"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}
