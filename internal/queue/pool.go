package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/config"
)

// Handler processes one leased job. A nil return acks the job; an error
// nacks it with backoff until attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Metrics is the administrative snapshot of the queue.
type Metrics struct {
	Counts
	Paused        bool    `json:"paused"`
	ThroughputMin float64 `json:"throughput_per_min"`
}

// Health derives a verdict from backlog size and failure rate.
type Health struct {
	Healthy bool     `json:"is_healthy"`
	Issues  []string `json:"issues"`
}

// Pool runs a fixed set of workers over a Store. Jobs are leased one at
// a time per auction (the store enforces that), so bids within an
// auction apply in FIFO order while auctions progress concurrently.
type Pool struct {
	store   Store
	handler Handler
	cfg     *config.QueueConfig

	mu          sync.Mutex
	paused      bool
	completions []time.Time // completion timestamps inside the throughput window
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewPool(store Store, handler Handler, cfg *config.QueueConfig) *Pool {
	return &Pool{store: store, handler: handler, cfg: cfg}
}

// Start launches the workers. It is a no-op when already running.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	log.Printf("[QUEUE] started %d workers", p.cfg.Workers)
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	log.Println("[QUEUE] workers stopped")
}

// Pause stops dispatching new jobs; already-active jobs finish.
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	log.Println("[QUEUE] paused")
}

// Resume restarts dispatching.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	log.Println("[QUEUE] resumed")
}

func (p *Pool) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p.isPaused() {
			continue
		}

		job, err := p.store.Lease(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[QUEUE] worker %d lease error: %v", id, err)
			}
			continue
		}
		if job == nil {
			continue
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *Job) {
	err := p.handler(ctx, job)
	if err == nil {
		if ackErr := p.store.Ack(ctx, job.ID); ackErr != nil {
			log.Printf("[QUEUE] ack %s failed: %v", job.ID, ackErr)
			return
		}
		p.recordCompletion()
		return
	}

	// Invariant violations indicate a bug; retrying blindly could corrupt
	// auction outcome, so the job fails immediately and loudly.
	exhausted := job.Attempts >= job.MaxAttempts || errors.Is(err, bidderrors.ErrInvariantViolation)
	if errors.Is(err, bidderrors.ErrInvariantViolation) {
		log.Printf("[QUEUE] INVARIANT VIOLATION in job %s (auction %s): %v", job.ID, job.AuctionID, err)
	}

	retryAt := time.Now().Add(p.backoff(job.Attempts))
	if nackErr := p.store.Nack(ctx, job.ID, err.Error(), retryAt, exhausted); nackErr != nil {
		log.Printf("[QUEUE] nack %s failed: %v", job.ID, nackErr)
		return
	}
	if exhausted {
		log.Printf("[QUEUE] job %s failed permanently after %d attempts: %v", job.ID, job.Attempts, err)
	} else {
		log.Printf("[QUEUE] job %s attempt %d/%d failed, retrying at %s: %v",
			job.ID, job.Attempts, job.MaxAttempts, retryAt.Format(time.RFC3339), err)
	}
}

// backoff returns the bounded exponential delay before the next attempt.
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.BackoffCap {
			return p.cfg.BackoffCap
		}
	}
	if delay > p.cfg.BackoffCap {
		return p.cfg.BackoffCap
	}
	return delay
}

func (p *Pool) recordCompletion() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.completions = append(p.completions, now)
	p.completions = trimWindow(p.completions, now.Add(-time.Minute))
}

func trimWindow(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	return stamps[idx:]
}

// Metrics reports queue counts and recent throughput.
func (p *Pool) Metrics(ctx context.Context) (*Metrics, error) {
	counts, err := p.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.completions = trimWindow(p.completions, time.Now().Add(-time.Minute))
	throughput := float64(len(p.completions))
	paused := p.paused
	p.mu.Unlock()

	return &Metrics{Counts: counts, Paused: paused, ThroughputMin: throughput}, nil
}

// Health flags the queue unhealthy on deep backlog or a high failure
// rate and names each issue in plain language.
func (p *Pool) Health(ctx context.Context) (*Health, error) {
	counts, err := p.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	health := &Health{Healthy: true}
	if counts.Waiting > p.cfg.HealthMaxBacklog {
		health.Healthy = false
		health.Issues = append(health.Issues,
			fmt.Sprintf("backlog of %d waiting jobs exceeds threshold %d", counts.Waiting, p.cfg.HealthMaxBacklog))
	}
	processed := counts.Completed + counts.Failed
	if processed > 0 {
		failRate := float64(counts.Failed) / float64(processed)
		if failRate > p.cfg.HealthMaxFailRate {
			health.Healthy = false
			health.Issues = append(health.Issues,
				fmt.Sprintf("failure rate %.1f%% exceeds threshold %.1f%%", failRate*100, p.cfg.HealthMaxFailRate*100))
		}
	}
	if p.isPaused() {
		health.Issues = append(health.Issues, "queue is paused")
	}
	return health, nil
}

// GetJob, RetryJob, RemoveJob and Cleanup expose store operations for the
// administrative surface.
func (p *Pool) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return p.store.Get(ctx, jobID)
}

func (p *Pool) RetryJob(ctx context.Context, jobID string) error {
	return p.store.Retry(ctx, jobID)
}

func (p *Pool) RemoveJob(ctx context.Context, jobID string) error {
	return p.store.Remove(ctx, jobID)
}

func (p *Pool) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return p.store.Cleanup(ctx, olderThan)
}
