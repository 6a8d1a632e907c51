package basepay

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x1111111111111111111111111111111111111111"

type fakeSource struct {
	transfers []Transfer
	err       error
	calls     int
}

func (f *fakeSource) RecentTransfers(context.Context) ([]Transfer, error) {
	f.calls++
	return f.transfers, f.err
}

// matcherFixture reserves one order at 10.000042 and binds a session to it.
type matcherFixture struct {
	ledger   *MemoryLedger
	sessions *SessionStore
	source   *fakeSource
	matcher  *Matcher
	order    *Order
	token    string
	now      time.Time
}

func newMatcherFixture(t *testing.T, opts ...MatcherOption) *matcherFixture {
	t.Helper()
	ctx := context.Background()

	f := &matcherFixture{
		ledger:   NewMemoryLedger(),
		sessions: NewSessionStore(time.Hour),
		source:   &fakeSource{},
		now:      time.Now().Truncate(time.Second),
	}

	a := NewAllocator(f.ledger)
	a.suffixFn = func() int64 { return 42 }

	order, err := a.Reserve(ctx, decimal.NewFromInt(10), "video", "buyer@example.com", 7, "")
	require.NoError(t, err)
	f.order = order
	f.token = f.sessions.Put(Session{
		OrderID:        order.ID,
		ContentRef:     7,
		ReservedAmount: order.ReservedAmount,
		PayTo:          testWallet,
	})

	f.matcher = NewMatcher(f.ledger, f.sessions, f.source, common.HexToAddress(testWallet), opts...)
	f.matcher.nowFunc = func() time.Time { return f.now }
	return f
}

// paid is a transfer that exactly pays the fixture's order.
func (f *matcherFixture) paid(hash string, age time.Duration) Transfer {
	return Transfer{
		Hash:      hash,
		From:      "0x2222222222222222222222222222222222222222",
		To:        testWallet,
		Value:     big.NewInt(10000042),
		Decimals:  6,
		Timestamp: f.now.Add(-age),
	}
}

func TestMatcherVerifySettlesExactMatch(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)
	f.source.transfers = []Transfer{f.paid("0xaaa", 5*time.Minute)}

	res, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err)
	assert.Equal(t, VerifySuccess, res.Status)
	assert.Equal(t, "0xaaa", res.SettlementRef)
	assert.True(t, res.Settled)

	got, err := f.ledger.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "0xaaa", got.SettlementRef)
}

func TestMatcherVerifyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)
	f.source.transfers = []Transfer{f.paid("0xaaa", 5*time.Minute)}

	first, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err)
	require.True(t, first.Settled)

	second, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err)
	assert.Equal(t, VerifySuccess, second.Status)
	assert.Equal(t, "0xaaa", second.SettlementRef)
	assert.False(t, second.Settled, "only the settling call reports Settled")

	// The settled order short-circuits before the transfer source.
	assert.Equal(t, 1, f.source.calls)
}

func TestMatcherVerifyNoMatchStaysPending(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)

	res, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err)
	assert.Equal(t, VerifyPending, res.Status)

	got, err := f.ledger.Get(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMatcherVerifyFreshnessBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("exactly at the window is accepted", func(t *testing.T) {
		f := newMatcherFixture(t)
		f.source.transfers = []Transfer{f.paid("0xaaa", 2*time.Hour)}

		res, err := f.matcher.Verify(ctx, f.token)
		require.NoError(t, err)
		assert.Equal(t, VerifySuccess, res.Status)
	})

	t.Run("one second past the window is rejected", func(t *testing.T) {
		f := newMatcherFixture(t)
		f.source.transfers = []Transfer{f.paid("0xaaa", 2*time.Hour+time.Second)}

		res, err := f.matcher.Verify(ctx, f.token)
		require.NoError(t, err)
		assert.Equal(t, VerifyPending, res.Status)
	})
}

func TestMatcherVerifyExactAmountOffByOneUnit(t *testing.T) {
	ctx := context.Background()

	for _, delta := range []int64{-1, 1} {
		f := newMatcherFixture(t)
		transfer := f.paid("0xaaa", 5*time.Minute)
		transfer.Value = big.NewInt(10000042 + delta)
		f.source.transfers = []Transfer{transfer}

		res, err := f.matcher.Verify(ctx, f.token)
		require.NoError(t, err)
		assert.Equal(t, VerifyPending, res.Status, "delta %d must not match", delta)
	}
}

func TestMatcherVerifyRecipientFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("case difference still matches", func(t *testing.T) {
		f := newMatcherFixture(t)
		transfer := f.paid("0xaaa", 5*time.Minute)
		transfer.To = "0X1111111111111111111111111111111111111111"
		f.source.transfers = []Transfer{transfer}

		res, err := f.matcher.Verify(ctx, f.token)
		require.NoError(t, err)
		assert.Equal(t, VerifySuccess, res.Status)
	})

	t.Run("other recipient is skipped", func(t *testing.T) {
		f := newMatcherFixture(t)
		transfer := f.paid("0xaaa", 5*time.Minute)
		transfer.To = "0x9999999999999999999999999999999999999999"
		f.source.transfers = []Transfer{transfer}

		res, err := f.matcher.Verify(ctx, f.token)
		require.NoError(t, err)
		assert.Equal(t, VerifyPending, res.Status)
	})
}

func TestMatcherVerifySourceErrorReportsPending(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)
	f.source.err = errors.New("indexer down")

	res, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err, "an unreachable source is not fatal")
	assert.Equal(t, VerifyPending, res.Status)
}

func TestMatcherVerifyExpiredSession(t *testing.T) {
	f := newMatcherFixture(t)

	res, err := f.matcher.Verify(context.Background(), "unknown-token")
	require.NoError(t, err)
	assert.Equal(t, VerifyExpired, res.Status)
}

func TestMatcherVerifySweptOrder(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t)
	require.NoError(t, f.ledger.Delete(ctx, f.order.ID))

	res, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err)
	assert.Equal(t, VerifyExpired, res.Status)
}

func TestMatcherVerifyDoesNotReuseClaimedRef(t *testing.T) {
	// Under the slack policy a single transfer can satisfy two pending
	// orders; the settlement ref dedup must stop the second claim.
	ctx := context.Background()
	f := newMatcherFixture(t, WithAmountPolicy(SlackPolicy{Percent: decimal.NewFromInt(2)}))

	a := NewAllocator(f.ledger)
	a.suffixFn = func() int64 { return 43 }
	other, err := a.Reserve(ctx, decimal.NewFromInt(10), "video", "other@example.com", 7, "")
	require.NoError(t, err)
	otherToken := f.sessions.Put(Session{OrderID: other.ID, ContentRef: 7, ReservedAmount: other.ReservedAmount, PayTo: testWallet})

	f.source.transfers = []Transfer{f.paid("0xaaa", 5*time.Minute)}

	res, err := f.matcher.Verify(ctx, f.token)
	require.NoError(t, err)
	require.Equal(t, VerifySuccess, res.Status)

	res, err = f.matcher.Verify(ctx, otherToken)
	require.NoError(t, err)
	assert.Equal(t, VerifyPending, res.Status, "the ref is spent")
}

func TestSlackPolicy(t *testing.T) {
	order := &Order{
		ReferenceAmount: decimal.NewFromInt(10),
		ReservedAmount:  decimal.RequireFromString("10.000042"),
	}
	policy := SlackPolicy{Percent: decimal.NewFromInt(2)}

	tests := []struct {
		name  string
		value int64
		want  bool
	}{
		{"well above reference", 10500000, true},
		{"exactly at the floor", 9800000, true},
		{"just below the floor", 9799999, false},
		{"tiny payment", 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Matches(order, Transfer{Value: big.NewInt(tt.value), Decimals: 6})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExactPolicyNilValue(t *testing.T) {
	order := &Order{ReservedAmount: decimal.RequireFromString("10.000042")}
	assert.False(t, ExactPolicy{}.Matches(order, Transfer{}))
	assert.False(t, SlackPolicy{Percent: decimal.NewFromInt(2)}.Matches(order, Transfer{}))
}
