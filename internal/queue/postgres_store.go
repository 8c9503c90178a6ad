package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashbid/backend/internal/bidderrors"
)

// PostgresStore is the durable Store: a jobs table polled with
// FOR UPDATE SKIP LOCKED. The lease query refuses a job whose auction
// already has an ACTIVE job, preserving per-auction FIFO.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Enqueue(ctx context.Context, job *Job) error {
	now := time.Now()
	job.State = JobWaiting
	job.EnqueuedAt = now
	job.UpdatedAt = now
	if job.NextRunAt.IsZero() {
		job.NextRunAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, auction_id, type, payload, state, attempts, max_attempts,
			next_run_at, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9)`,
		job.ID, job.AuctionID, job.Type, []byte(job.Payload), job.State, job.MaxAttempts,
		job.NextRunAt, job.EnqueuedAt, job.UpdatedAt)
	return err
}

// Lease claims the next due job inside a transaction. The candidate
// filter alone is not enough to keep auctions serial: it runs against
// the statement snapshot, so a concurrent leaseholder whose ACTIVE mark
// is not yet committed stays invisible. The per-auction advisory lock
// closes that window, and the re-check after the lock grant runs as a
// fresh statement that sees any leaseholder who committed meanwhile.
func (s *PostgresStore) Lease(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var jobID, auctionID string
	err = tx.QueryRowContext(ctx, `
		SELECT id, auction_id FROM jobs
		WHERE state = 'WAITING'
		  AND next_run_at <= now()
		  AND auction_id NOT IN (SELECT auction_id FROM jobs WHERE state = 'ACTIVE')
		ORDER BY enqueued_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`).Scan(&jobID, &auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var locked bool
	if err := tx.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtext($1))`, auctionID).Scan(&locked); err != nil {
		return nil, err
	}
	if !locked {
		// Another worker is leasing this auction right now; poll again.
		return nil, nil
	}

	var active bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE auction_id = $1 AND state = 'ACTIVE')`,
		auctionID).Scan(&active); err != nil {
		return nil, err
	}
	if active {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = 'ACTIVE', attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING id, auction_id, type, payload, state, attempts, max_attempts,
			last_error, next_run_at, enqueued_at, updated_at, completed_at`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) Ack(ctx context.Context, jobID string) error {
	return s.expectOneRow(ctx, jobID, `
		UPDATE jobs SET state = 'COMPLETED', updated_at = now(), completed_at = now()
		WHERE id = $1`)
}

func (s *PostgresStore) Nack(ctx context.Context, jobID, lastError string, retryAt time.Time, exhausted bool) error {
	if exhausted {
		result, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET state = 'FAILED', last_error = $1, updated_at = now(), completed_at = now()
			WHERE id = $2`, lastError, jobID)
		return oneRow(result, err, jobID)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'WAITING', last_error = $1, next_run_at = $2, updated_at = now()
		WHERE id = $3`, lastError, retryAt, jobID)
	return oneRow(result, err, jobID)
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, auction_id, type, payload, state, attempts, max_attempts,
			last_error, next_run_at, enqueued_at, updated_at, completed_at
		FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	return job, err
}

func (s *PostgresStore) Remove(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND state <> 'ACTIVE'`, jobID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Distinguish missing from active.
		if _, getErr := s.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s is active and must run to completion", jobID)
	}
	return nil
}

func (s *PostgresStore) Retry(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'WAITING', attempts = 0, last_error = '', next_run_at = now(),
			updated_at = now(), completed_at = NULL
		WHERE id = $1 AND state = 'FAILED'`, jobID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, getErr := s.Get(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s: only FAILED jobs can be retried", jobID)
	}
	return nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE state IN ('COMPLETED', 'FAILED') AND completed_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	rowsAffected, err := result.RowsAffected()
	return int(rowsAffected), err
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'WAITING'),
			COUNT(*) FILTER (WHERE state = 'ACTIVE'),
			COUNT(*) FILTER (WHERE state = 'COMPLETED'),
			COUNT(*) FILTER (WHERE state = 'FAILED')
		FROM jobs`).
		Scan(&counts.Waiting, &counts.Active, &counts.Completed, &counts.Failed)
	return counts, err
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var job Job
	var payload []byte
	var lastError sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.AuctionID, &job.Type, &payload, &job.State, &job.Attempts,
		&job.MaxAttempts, &lastError, &job.NextRunAt, &job.EnqueuedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.LastError = lastError.String
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func (s *PostgresStore) expectOneRow(ctx context.Context, jobID, query string) error {
	result, err := s.db.ExecContext(ctx, query, jobID)
	return oneRow(result, err, jobID)
}

func oneRow(result sql.Result, err error, jobID string) error {
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %s: %w", jobID, bidderrors.ErrJobNotFound)
	}
	return nil
}
