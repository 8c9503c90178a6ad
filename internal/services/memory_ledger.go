package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

// MemoryLedger is the in-process Ledger used by single-node deployments
// and tests. All mutations happen under one mutex, so each operation is
// atomic by construction.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*models.LedgerAccount
	// held per bidder per auction, for defensive reconciliation
	heldFor map[string]int64
	entries []models.LedgerEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*models.LedgerAccount),
		heldFor:  make(map[string]int64),
	}
}

func heldKey(bidderID, auctionID string) string {
	return bidderID + "|" + auctionID
}

func (l *MemoryLedger) account(bidderID string) *models.LedgerAccount {
	account, ok := l.accounts[bidderID]
	if !ok {
		account = &models.LedgerAccount{BidderID: bidderID, Version: 1, UpdatedAt: time.Now()}
		l.accounts[bidderID] = account
	}
	return account
}

func (l *MemoryLedger) record(bidderID, auctionID string, amount int64, entryType string, account *models.LedgerAccount) {
	account.Version++
	account.UpdatedAt = time.Now()
	l.entries = append(l.entries, models.LedgerEntry{
		ID:        len(l.entries) + 1,
		BidderID:  bidderID,
		AuctionID: auctionID,
		Amount:    amount,
		EntryType: entryType,
		Available: account.Available,
		Held:      account.Held,
		CreatedAt: time.Now(),
	})
}

func (l *MemoryLedger) Hold(ctx context.Context, bidderID, auctionID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.account(bidderID)
	if account.Available < amount {
		return fmt.Errorf("ledger: hold %d for %s: %w", amount, bidderID, bidderrors.ErrInsufficientBalance)
	}
	account.Available -= amount
	account.Held += amount
	l.heldFor[heldKey(bidderID, auctionID)] += amount
	l.record(bidderID, auctionID, amount, models.EntryHold, account)
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, bidderID, auctionID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.account(bidderID)
	if account.Held < amount {
		return fmt.Errorf("ledger: release %d exceeds held %d for %s: %w", amount, account.Held, bidderID, bidderrors.ErrInvariantViolation)
	}
	account.Held -= amount
	account.Available += amount
	l.heldFor[heldKey(bidderID, auctionID)] -= amount
	l.record(bidderID, auctionID, amount, models.EntryRelease, account)
	return nil
}

func (l *MemoryLedger) Settle(ctx context.Context, bidderID, auctionID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.account(bidderID)
	if account.Held < amount {
		return fmt.Errorf("ledger: settle %d exceeds held %d for %s: %w", amount, account.Held, bidderID, bidderrors.ErrInvariantViolation)
	}
	account.Held -= amount
	l.heldFor[heldKey(bidderID, auctionID)] -= amount
	l.record(bidderID, auctionID, amount, models.EntrySettle, account)
	return nil
}

func (l *MemoryLedger) Deposit(ctx context.Context, bidderID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.account(bidderID)
	account.Available += amount
	l.record(bidderID, "", amount, models.EntryDeposit, account)
	return nil
}

func (l *MemoryLedger) Account(ctx context.Context, bidderID string) (*models.LedgerAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[bidderID]
	if !ok {
		return nil, fmt.Errorf("ledger: account %s: %w", bidderID, bidderrors.ErrAccountNotFound)
	}
	copied := *account
	return &copied, nil
}

func (l *MemoryLedger) HeldFor(ctx context.Context, bidderID, auctionID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldFor[heldKey(bidderID, auctionID)], nil
}

// Entries returns a snapshot of the append-only entry log.
func (l *MemoryLedger) Entries() []models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
