package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/models"
)

func TestMemoryLedger_HoldReleaseSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("hold moves available into held", func(t *testing.T) {
		ledger := NewMemoryLedger()
		require.NoError(t, ledger.Deposit(ctx, "bidder1", 5000))

		require.NoError(t, ledger.Hold(ctx, "bidder1", "auction1", 2000))

		account, err := ledger.Account(ctx, "bidder1")
		require.NoError(t, err)
		assert.Equal(t, int64(3000), account.Available)
		assert.Equal(t, int64(2000), account.Held)

		held, err := ledger.HeldFor(ctx, "bidder1", "auction1")
		require.NoError(t, err)
		assert.Equal(t, int64(2000), held)
	})

	t.Run("hold beyond available fails", func(t *testing.T) {
		ledger := NewMemoryLedger()
		require.NoError(t, ledger.Deposit(ctx, "bidder1", 1000))

		err := ledger.Hold(ctx, "bidder1", "auction1", 1500)
		assert.ErrorIs(t, err, bidderrors.ErrInsufficientBalance)

		account, err := ledger.Account(ctx, "bidder1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), account.Available)
		assert.Zero(t, account.Held)
	})

	t.Run("release restores available", func(t *testing.T) {
		ledger := NewMemoryLedger()
		require.NoError(t, ledger.Deposit(ctx, "bidder1", 5000))
		require.NoError(t, ledger.Hold(ctx, "bidder1", "auction1", 2000))

		require.NoError(t, ledger.Release(ctx, "bidder1", "auction1", 2000))

		account, err := ledger.Account(ctx, "bidder1")
		require.NoError(t, err)
		assert.Equal(t, int64(5000), account.Available)
		assert.Zero(t, account.Held)
	})

	t.Run("release exceeding held is an invariant violation", func(t *testing.T) {
		ledger := NewMemoryLedger()
		require.NoError(t, ledger.Deposit(ctx, "bidder1", 5000))
		require.NoError(t, ledger.Hold(ctx, "bidder1", "auction1", 1000))

		err := ledger.Release(ctx, "bidder1", "auction1", 2000)
		assert.ErrorIs(t, err, bidderrors.ErrInvariantViolation)
	})

	t.Run("settle debits held without touching available", func(t *testing.T) {
		ledger := NewMemoryLedger()
		require.NoError(t, ledger.Deposit(ctx, "bidder1", 5000))
		require.NoError(t, ledger.Hold(ctx, "bidder1", "auction1", 2000))

		require.NoError(t, ledger.Settle(ctx, "bidder1", "auction1", 2000))

		account, err := ledger.Account(ctx, "bidder1")
		require.NoError(t, err)
		assert.Equal(t, int64(3000), account.Available)
		assert.Zero(t, account.Held)

		held, err := ledger.HeldFor(ctx, "bidder1", "auction1")
		require.NoError(t, err)
		assert.Zero(t, held)
	})

	t.Run("unknown account", func(t *testing.T) {
		ledger := NewMemoryLedger()
		_, err := ledger.Account(ctx, "ghost")
		assert.ErrorIs(t, err, bidderrors.ErrAccountNotFound)
	})
}

func TestMemoryLedger_EntryLog(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.Deposit(ctx, "bidder1", 5000))
	require.NoError(t, ledger.Hold(ctx, "bidder1", "auction1", 2000))
	require.NoError(t, ledger.Release(ctx, "bidder1", "auction1", 2000))

	entries := ledger.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, models.EntryDeposit, entries[0].EntryType)
	assert.Equal(t, models.EntryHold, entries[1].EntryType)
	assert.Equal(t, models.EntryRelease, entries[2].EntryType)

	// Each entry snapshots the balances after it applied.
	assert.Equal(t, int64(3000), entries[1].Available)
	assert.Equal(t, int64(2000), entries[1].Held)
	assert.Equal(t, int64(5000), entries[2].Available)
	assert.Zero(t, entries[2].Held)
}

func TestMemoryLedger_HoldsAreScopedPerAuction(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.Deposit(ctx, "bidder1", 10000))
	require.NoError(t, ledger.Hold(ctx, "bidder1", "auction1", 3000))
	require.NoError(t, ledger.Hold(ctx, "bidder1", "auction2", 4000))

	heldA, err := ledger.HeldFor(ctx, "bidder1", "auction1")
	require.NoError(t, err)
	heldB, err := ledger.HeldFor(ctx, "bidder1", "auction2")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), heldA)
	assert.Equal(t, int64(4000), heldB)

	account, err := ledger.Account(ctx, "bidder1")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), account.Held)
	assert.Equal(t, int64(3000), account.Available)
}
