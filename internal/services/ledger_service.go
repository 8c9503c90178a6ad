package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

// HashLedgerService is the Postgres-backed Ledger. Each operation runs in
// its own transaction: the account row is locked with FOR UPDATE, the
// balance move is applied, an entry is appended, and the balance write is
// guarded by the account version.
type HashLedgerService struct {
	db *sql.DB
}

func NewHashLedgerService(db *sql.DB) *HashLedgerService {
	return &HashLedgerService{db: db}
}

func (s *HashLedgerService) Hold(ctx context.Context, bidderID, auctionID string, amount int64) error {
	return s.apply(ctx, bidderID, auctionID, amount, models.EntryHold)
}

func (s *HashLedgerService) Release(ctx context.Context, bidderID, auctionID string, amount int64) error {
	return s.apply(ctx, bidderID, auctionID, amount, models.EntryRelease)
}

func (s *HashLedgerService) Settle(ctx context.Context, bidderID, auctionID string, amount int64) error {
	return s.apply(ctx, bidderID, auctionID, amount, models.EntrySettle)
}

func (s *HashLedgerService) Deposit(ctx context.Context, bidderID string, amount int64) error {
	return s.apply(ctx, bidderID, "", amount, models.EntryDeposit)
}

func (s *HashLedgerService) apply(ctx context.Context, bidderID, auctionID string, amount int64, entryType string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: non-positive amount %d: %w", amount, bidderrors.ErrInvariantViolation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, bidderID)
	if err != nil {
		return err
	}

	available, held := account.Available, account.Held
	switch entryType {
	case models.EntryHold:
		if available < amount {
			return fmt.Errorf("ledger: hold %d for %s: %w", amount, bidderID, bidderrors.ErrInsufficientBalance)
		}
		available -= amount
		held += amount
	case models.EntryRelease:
		if held < amount {
			return fmt.Errorf("ledger: release %d exceeds held %d for %s: %w", amount, held, bidderID, bidderrors.ErrInvariantViolation)
		}
		held -= amount
		available += amount
	case models.EntrySettle:
		if held < amount {
			return fmt.Errorf("ledger: settle %d exceeds held %d for %s: %w", amount, held, bidderID, bidderrors.ErrInvariantViolation)
		}
		held -= amount
	case models.EntryDeposit:
		available += amount
	default:
		return fmt.Errorf("ledger: unknown entry type %q", entryType)
	}

	if err := s.appendEntry(ctx, tx, bidderID, auctionID, amount, entryType, available, held); err != nil {
		return err
	}

	if err := s.updateBalances(ctx, tx, bidderID, available, held, account.Version); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *HashLedgerService) Account(ctx context.Context, bidderID string) (*models.LedgerAccount, error) {
	var account models.LedgerAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT bidder_id, available, held, version, updated_at
		FROM ledger_accounts
		WHERE bidder_id = $1`, bidderID).
		Scan(&account.BidderID, &account.Available, &account.Held, &account.Version, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: account %s: %w", bidderID, bidderrors.ErrAccountNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *HashLedgerService) HeldFor(ctx context.Context, bidderID, auctionID string) (int64, error) {
	var held int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'HOLD' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE bidder_id = $1 AND auction_id = $2 AND entry_type IN ('HOLD', 'RELEASE', 'SETTLE')`,
		bidderID, auctionID).Scan(&held)
	return held, err
}

func (s *HashLedgerService) lockAccount(ctx context.Context, tx *sql.Tx, bidderID string) (*models.LedgerAccount, error) {
	var account models.LedgerAccount
	err := tx.QueryRowContext(ctx, `
		SELECT bidder_id, available, held, version, updated_at
		FROM ledger_accounts
		WHERE bidder_id = $1
		FOR UPDATE`, bidderID).
		Scan(&account.BidderID, &account.Available, &account.Held, &account.Version, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// First touch creates the account with zero balances.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_accounts (bidder_id, available, held, version, updated_at)
			VALUES ($1, 0, 0, 1, $2)`, bidderID, time.Now())
		if err != nil {
			return nil, err
		}
		return &models.LedgerAccount{BidderID: bidderID, Version: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *HashLedgerService) appendEntry(ctx context.Context, tx *sql.Tx, bidderID, auctionID string, amount int64, entryType string, available, held int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (bidder_id, auction_id, amount, entry_type, available, held, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bidderID, auctionID, amount, entryType, available, held, time.Now())
	return err
}

func (s *HashLedgerService) updateBalances(ctx context.Context, tx *sql.Tx, bidderID string, available, held int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET available = $1, held = $2, version = version + 1, updated_at = $3
		WHERE bidder_id = $4 AND version = $5`,
		available, held, time.Now(), bidderID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", bidderID)
	}
	return nil
}
