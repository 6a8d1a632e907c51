package basepay

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingOrder(amount string) *Order {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	return &Order{
		Buyer:           "buyer@example.com",
		ContentRef:      7,
		SourceTag:       "video",
		ReservedAmount:  d,
		ReferenceAmount: decimal.NewFromInt(10),
		Status:          StatusPending,
	}
}

func TestMemoryLedgerCreateClaimsAmount(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	first := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, first))
	assert.Equal(t, uint64(1), first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	// Same amount, different trailing-zero spelling: still held.
	dup := pendingOrder("10.00004200")
	assert.ErrorIs(t, l.Create(ctx, dup), ErrAmountHeld)

	other := pendingOrder("10.000043")
	require.NoError(t, l.Create(ctx, other))
	assert.Equal(t, uint64(2), other.ID)
}

func TestMemoryLedgerSettle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	o := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, o))

	require.NoError(t, l.Settle(ctx, o.ID, "0xabc"))

	got, err := l.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "0xabc", got.SettlementRef)

	// Success is terminal.
	assert.ErrorIs(t, l.Settle(ctx, o.ID, "0xdef"), ErrAlreadySettled)

	// The settled amount is free for a new reservation.
	again := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, again))

	// But the settlement ref is claimed forever.
	assert.ErrorIs(t, l.Settle(ctx, again.ID, "0xabc"), ErrDuplicateSettlement)

	claimed, err := l.SettlementRefClaimed(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMemoryLedgerSettleUnknownOrder(t *testing.T) {
	l := NewMemoryLedger()
	assert.ErrorIs(t, l.Settle(context.Background(), 99, "0xabc"), ErrOrderNotFound)
}

func TestMemoryLedgerCreateSuccessClaimsRef(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	free := &Order{
		Buyer:         "buyer@example.com",
		ContentRef:    7,
		Status:        StatusSuccess,
		SettlementRef: "free_test_1700000000_123",
	}
	require.NoError(t, l.Create(ctx, free))

	dup := &Order{
		Buyer:         "other@example.com",
		Status:        StatusSuccess,
		SettlementRef: "free_test_1700000000_123",
	}
	assert.ErrorIs(t, l.Create(ctx, dup), ErrDuplicateSettlement)
}

func TestMemoryLedgerForceSuccess(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	o := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, o))

	require.NoError(t, l.ForceSuccess(ctx, o.ID))
	got, err := l.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Empty(t, got.SettlementRef)

	// Idempotent.
	require.NoError(t, l.ForceSuccess(ctx, o.ID))

	// The amount claim was released.
	again := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, again))
}

func TestMemoryLedgerDeleteReleasesClaims(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	o := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, o))
	require.NoError(t, l.Delete(ctx, o.ID))

	_, err := l.Get(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	again := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, again))

	assert.ErrorIs(t, l.Delete(ctx, 99), ErrOrderNotFound)
}

func TestMemoryLedgerSweepPending(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	now := time.Now()

	stale := pendingOrder("10.000001")
	stale.CreatedAt = now.Add(-2 * time.Hour)
	require.NoError(t, l.Create(ctx, stale))

	fresh := pendingOrder("10.000002")
	fresh.CreatedAt = now.Add(-10 * time.Minute)
	require.NoError(t, l.Create(ctx, fresh))

	settled := pendingOrder("10.000003")
	settled.CreatedAt = now.Add(-3 * time.Hour)
	require.NoError(t, l.Create(ctx, settled))
	require.NoError(t, l.Settle(ctx, settled.ID, "0xold"))

	n, err := l.SweepPending(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = l.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// Fresh pending and old success both survive.
	_, err = l.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = l.Get(ctx, settled.ID)
	assert.NoError(t, err)

	// The swept amount is allocatable again.
	again := pendingOrder("10.000001")
	require.NoError(t, l.Create(ctx, again))
}

func TestMemoryLedgerSweepBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	cutoff := time.Now().Truncate(time.Second)

	atCutoff := pendingOrder("10.000001")
	atCutoff.CreatedAt = cutoff
	require.NoError(t, l.Create(ctx, atCutoff))

	n, err := l.SweepPending(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryLedgerBuyerQueries(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	now := time.Now()

	older := pendingOrder("10.000001")
	older.CreatedAt = now.Add(-time.Minute)
	require.NoError(t, l.Create(ctx, older))
	require.NoError(t, l.Settle(ctx, older.ID, "0xaaa"))

	newer := pendingOrder("10.000002")
	newer.ContentRef = 8
	newer.CreatedAt = now
	require.NoError(t, l.Create(ctx, newer))
	require.NoError(t, l.Settle(ctx, newer.ID, "0xbbb"))

	unpaid := pendingOrder("10.000003")
	unpaid.ContentRef = 9
	require.NoError(t, l.Create(ctx, unpaid))

	owned, err := l.HasSuccess(ctx, "buyer@example.com", 7)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = l.HasSuccess(ctx, "buyer@example.com", 9)
	require.NoError(t, err)
	assert.False(t, owned, "pending orders do not grant access")

	owned, err = l.HasSuccess(ctx, "stranger@example.com", 7)
	require.NoError(t, err)
	assert.False(t, owned)

	successes, err := l.SuccessByBuyer(ctx, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, successes, 2)
	assert.Equal(t, newer.ID, successes[0].ID, "newest first")
	assert.Equal(t, older.ID, successes[1].ID)
}

func TestMemoryLedgerGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	o := pendingOrder("10.000042")
	require.NoError(t, l.Create(ctx, o))

	got, err := l.Get(ctx, o.ID)
	require.NoError(t, err)
	got.Status = StatusFailed

	fresh, err := l.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)
}
