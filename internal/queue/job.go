package queue

import (
	"encoding/json"
	"time"
)

type JobState string

const (
	JobWaiting   JobState = "WAITING"
	JobActive    JobState = "ACTIVE"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
)

// Job types carried on the queue.
const (
	TypePlaceBid  = "PLACE_BID"
	TypeLifecycle = "LIFECYCLE"
)

// Job is one unit of asynchronous work, keyed to an auction so the pool
// can keep processing FIFO per auction while auctions run concurrently.
type Job struct {
	ID          string          `json:"id" db:"id"`
	AuctionID   string          `json:"auction_id" db:"auction_id"`
	Type        string          `json:"type" db:"type"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	State       JobState        `json:"state" db:"state"`
	Attempts    int             `json:"attempts" db:"attempts"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	LastError   string          `json:"last_error,omitempty" db:"last_error"`
	NextRunAt   time.Time       `json:"next_run_at" db:"next_run_at"`
	EnqueuedAt  time.Time       `json:"enqueued_at" db:"enqueued_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the job reached a final state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BidJobPayload is the payload of a TypePlaceBid job.
type BidJobPayload struct {
	BidID     string `json:"bid_id"`
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
	Amount    int64  `json:"amount"`
	BidType   string `json:"bid_type"`
}
