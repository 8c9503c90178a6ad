package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashbid/backend/internal/bidderrors"
)

// MemoryStore is the in-process Store used by single-node deployments
// and tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	// order preserves FIFO within an auction
	order []string
	// stale counts order entries whose job is terminal or deleted
	stale int
	// activeByAuction guards the per-auction serial property
	activeByAuction map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:            make(map[string]*Job),
		activeByAuction: make(map[string]string),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	job.State = JobWaiting
	job.EnqueuedAt = now
	job.UpdatedAt = now
	if job.NextRunAt.IsZero() {
		job.NextRunAt = now
	}
	copied := *job
	s.jobs[job.ID] = &copied
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) Lease(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range s.order {
		job, ok := s.jobs[id]
		if !ok || job.State != JobWaiting || job.NextRunAt.After(now) {
			continue
		}
		if _, busy := s.activeByAuction[job.AuctionID]; busy {
			continue
		}
		job.State = JobActive
		job.Attempts++
		job.UpdatedAt = now
		s.activeByAuction[job.AuctionID] = job.ID
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) Ack(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	now := time.Now()
	job.State = JobCompleted
	job.UpdatedAt = now
	job.CompletedAt = &now
	delete(s.activeByAuction, job.AuctionID)
	s.markStale()
	return nil
}

// markStale notes one more dead order entry and compacts the slice once
// dead entries outnumber live ones, so Lease scans stay bounded by the
// number of unfinished jobs.
func (s *MemoryStore) markStale() {
	s.stale++
	if s.stale*2 < len(s.order) {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok && !job.State.Terminal() {
			kept = append(kept, id)
		}
	}
	s.order = kept
	s.stale = 0
}

func (s *MemoryStore) Nack(ctx context.Context, jobID, lastError string, retryAt time.Time, exhausted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	now := time.Now()
	job.LastError = lastError
	job.UpdatedAt = now
	if exhausted {
		job.State = JobFailed
		job.CompletedAt = &now
		s.markStale()
	} else {
		job.State = JobWaiting
		job.NextRunAt = retryAt
	}
	delete(s.activeByAuction, job.AuctionID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	if job.State == JobActive {
		return fmt.Errorf("job %s is active and must run to completion", jobID)
	}
	delete(s.jobs, jobID)
	s.markStale()
	return nil
}

func (s *MemoryStore) Retry(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	if job.State != JobFailed {
		return fmt.Errorf("job %s is %s, only FAILED jobs can be retried", jobID, job.State)
	}
	job.State = JobWaiting
	job.Attempts = 0
	job.LastError = ""
	job.NextRunAt = time.Now()
	job.UpdatedAt = time.Now()
	job.CompletedAt = nil
	// The FAILED entry may have been compacted away.
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, job := range s.jobs {
		if job.State.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			s.markStale()
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts Counts
	for _, job := range s.jobs {
		switch job.State {
		case JobWaiting:
			counts.Waiting++
		case JobActive:
			counts.Active++
		case JobCompleted:
			counts.Completed++
		case JobFailed:
			counts.Failed++
		}
	}
	return counts, nil
}
