package basepay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultFreshnessWindow is the maximum age of a transfer the matcher will
// consider. The bound is exclusive: a transfer exactly at the window is
// accepted, one second past it is not.
const DefaultFreshnessWindow = 2 * time.Hour

// AmountPolicy decides whether an observed transfer pays for an order.
// Exactly one policy is active per deployment; they are alternatives, not
// layers.
type AmountPolicy interface {
	Matches(o *Order, t Transfer) bool
}

// ExactPolicy requires the transfer's raw value, scaled by the token's
// declared precision, to equal the reserved amount exactly. This is the
// primary policy: the reservation amount was constructed to be unique, so
// the amount itself identifies the order.
type ExactPolicy struct{}

func (ExactPolicy) Matches(o *Order, t Transfer) bool {
	if t.Value == nil {
		return false
	}
	return ToSmallestUnit(o.ReservedAmount, t.Decimals).Cmp(t.Value) == 0
}

// SlackPolicy is the legacy fuzzy mode: any transfer worth at least
// referenceAmount * (1 - Percent/100) matches. It trades exactness for
// tolerance of gas and rounding noise when unique-amount reservation is
// unavailable.
type SlackPolicy struct {
	Percent decimal.Decimal
}

func (p SlackPolicy) Matches(o *Order, t Transfer) bool {
	if t.Value == nil {
		return false
	}
	min := o.ReferenceAmount.
		Mul(decimal.NewFromInt(100).Sub(p.Percent)).
		Div(decimal.NewFromInt(100))
	return FromSmallestUnit(t.Value, t.Decimals).GreaterThanOrEqual(min)
}

// VerifyStatus is the outcome of one reconcile round.
type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyPending VerifyStatus = "pending"
	VerifyExpired VerifyStatus = "expired"
)

// VerifyResult reports what one Matcher.Verify call observed. Settled is
// true only for the call that performed the pending->success transition;
// later calls still report VerifySuccess but leave it false.
type VerifyResult struct {
	Status        VerifyStatus
	Order         *Order
	SettlementRef string
	Settled       bool
}

// Matcher reconciles observed chain transfers against pending
// reservations. It is a pure reconcile-once operation: polling cadence and
// termination are the caller's concern.
type Matcher struct {
	ledger   Ledger
	sessions *SessionStore
	source   TransferSource
	policy   AmountPolicy
	payTo    common.Address
	window   time.Duration
	nowFunc  func() time.Time
	log      *zap.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithFreshnessWindow overrides the transfer age bound.
func WithFreshnessWindow(window time.Duration) MatcherOption {
	return func(m *Matcher) {
		m.window = window
	}
}

// WithAmountPolicy selects the verification policy. Defaults to ExactPolicy.
func WithAmountPolicy(p AmountPolicy) MatcherOption {
	return func(m *Matcher) {
		m.policy = p
	}
}

// WithMatcherLogger sets the matcher's logger.
func WithMatcherLogger(log *zap.Logger) MatcherOption {
	return func(m *Matcher) {
		m.log = log
	}
}

// NewMatcher creates a matcher for the given receiving address.
func NewMatcher(ledger Ledger, sessions *SessionStore, source TransferSource, payTo common.Address, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		ledger:   ledger,
		sessions: sessions,
		source:   source,
		policy:   ExactPolicy{},
		payTo:    payTo,
		window:   DefaultFreshnessWindow,
		nowFunc:  time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Verify attempts to move the order bound to the session token from
// pending to success. An unreachable transfer source is not an error: the
// order stays pending and the caller may poll again.
//
// Verify is idempotent: calling it for an already settled order reports
// success without touching the ledger.
func (m *Matcher) Verify(ctx context.Context, token string) (VerifyResult, error) {
	sess, err := m.sessions.Get(token)
	if err != nil {
		return VerifyResult{Status: VerifyExpired}, nil
	}

	order, err := m.ledger.Get(ctx, sess.OrderID)
	if err == ErrOrderNotFound {
		// Swept while the session was still alive; the reservation is gone.
		return VerifyResult{Status: VerifyExpired}, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}
	if order.Status == StatusSuccess {
		return VerifyResult{Status: VerifySuccess, Order: order, SettlementRef: order.SettlementRef}, nil
	}

	transfers, err := m.source.RecentTransfers(ctx)
	if err != nil {
		m.log.Warn("transfer source unavailable, reporting pending",
			zap.Uint64("orderId", order.ID), zap.Error(err))
		return VerifyResult{Status: VerifyPending, Order: order}, nil
	}

	now := m.nowFunc()
	for _, t := range transfers {
		if now.Sub(t.Timestamp) > m.window {
			continue
		}
		if !m.sentToWallet(t) {
			continue
		}
		if !m.policy.Matches(order, t) {
			continue
		}
		if claimed, err := m.ledger.SettlementRefClaimed(ctx, t.Hash); err != nil || claimed {
			continue
		}

		switch err := m.ledger.Settle(ctx, order.ID, t.Hash); err {
		case nil:
			order.Status = StatusSuccess
			order.SettlementRef = t.Hash
			m.log.Info("payment matched",
				zap.Uint64("orderId", order.ID),
				zap.String("settlementRef", t.Hash))
			return VerifyResult{Status: VerifySuccess, Order: order, SettlementRef: t.Hash, Settled: true}, nil
		case ErrDuplicateSettlement:
			// Lost the reference to a concurrent settlement; keep scanning.
			continue
		case ErrAlreadySettled:
			settled, err := m.ledger.Get(ctx, order.ID)
			if err != nil {
				return VerifyResult{Status: VerifyExpired}, nil
			}
			return VerifyResult{Status: VerifySuccess, Order: settled, SettlementRef: settled.SettlementRef}, nil
		case ErrOrderNotFound:
			return VerifyResult{Status: VerifyExpired}, nil
		default:
			return VerifyResult{}, err
		}
	}

	return VerifyResult{Status: VerifyPending, Order: order}, nil
}

// sentToWallet checks the recipient case-insensitively against the
// configured receiving address. The indexer query is already scoped to the
// address, but indexers also return outbound rows for it.
func (m *Matcher) sentToWallet(t Transfer) bool {
	if !common.IsHexAddress(t.To) {
		return false
	}
	return common.HexToAddress(t.To) == m.payTo
}
