package queue

import (
	"context"
	"time"
)

// Counts is a snapshot of jobs per state.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Store is the durable job queue contract. Any persistent queue
// satisfies it, including a database table with polling; nothing here
// assumes a specific broker.
//
// Lease must only hand out a WAITING job whose auction has no ACTIVE job,
// which is what makes processing serial per auction.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error
	// Lease atomically claims the next due job and marks it ACTIVE.
	// Returns nil when nothing is due.
	Lease(ctx context.Context) (*Job, error)
	// Ack marks an ACTIVE job COMPLETED.
	Ack(ctx context.Context, jobID string) error
	// Nack records a failure. When exhausted is false the job returns to
	// WAITING with the given retry time; otherwise it is marked FAILED.
	Nack(ctx context.Context, jobID, lastError string, retryAt time.Time, exhausted bool) error
	Get(ctx context.Context, jobID string) (*Job, error)
	// Remove deletes a job in any state except ACTIVE.
	Remove(ctx context.Context, jobID string) error
	// Retry re-enqueues a FAILED job with attempt bookkeeping reset.
	Retry(ctx context.Context, jobID string) error
	// Cleanup deletes terminal jobs older than the threshold and returns
	// how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Counts(ctx context.Context) (Counts, error)
}
