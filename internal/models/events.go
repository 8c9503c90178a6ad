package models

import (
	"time"
)

// Realtime event names pushed to subscribers. Inbound event names live
// with the realtime router; these are the outbound vocabulary.
const (
	EventConnectionConfirmed = "connection_confirmed"
	EventAuctionStatus       = "auction_status"
	EventNewBid              = "new_bid"
	EventBidPlaced           = "bid_placed"
	EventBidError            = "bid_error"
	EventBidOutbid           = "bid_outbid"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventAuctionEndingSoon   = "auction_ending_soon"
	EventAuctionEnded        = "auction_ended"
	EventError               = "error"
)

type NewBidEvent struct {
	Bid       *Bid      `json:"bid"`
	Timestamp time.Time `json:"timestamp"`
}

type BidPlacedEvent struct {
	JobID     string  `json:"job_id"`
	AuctionID string  `json:"auction_id"`
	Amount    int64   `json:"amount"`
	Type      BidType `json:"type"`
	Status    string  `json:"status"`
}

type BidErrorEvent struct {
	AuctionID string `json:"auction_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type BidOutbidEvent struct {
	AuctionID string `json:"auction_id"`
	BidID     string `json:"bid_id"`
	Amount    int64  `json:"amount"`     // the superseded amount, now released
	NewAmount int64  `json:"new_amount"` // the amount that superseded it
}

type EndingSoonEvent struct {
	AuctionID   string `json:"auction_id"`
	MinutesLeft int    `json:"minutes_left"`
}

type AuctionEndedEvent struct {
	AuctionID  string `json:"auction_id"`
	WinnerID   string `json:"winner_id,omitempty"`
	FinalPrice int64  `json:"final_price,omitempty"`
}

type PresenceEvent struct {
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
}
