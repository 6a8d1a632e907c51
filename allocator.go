package basepay

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultReservationTTL is how long a pending order holds its amount
	// before the sweeper reclaims it.
	DefaultReservationTTL = time.Hour

	// maxReserveAttempts bounds the allocator's retry loop. Exhausting it
	// means the ~9,999-value suffix space is under unusually high
	// concurrent load.
	maxReserveAttempts = 50
)

// Allocator mints collision-free reservation amounts and records them as
// pending ledger entries.
type Allocator struct {
	ledger   Ledger
	ttl      time.Duration
	suffixFn func() int64
	nowFunc  func() time.Time
	log      *zap.Logger
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithReservationTTL overrides the pending-order TTL used by the sweep.
func WithReservationTTL(ttl time.Duration) AllocatorOption {
	return func(a *Allocator) {
		a.ttl = ttl
	}
}

// WithAllocatorLogger sets the allocator's logger.
func WithAllocatorLogger(log *zap.Logger) AllocatorOption {
	return func(a *Allocator) {
		a.log = log
	}
}

// NewAllocator creates an allocator backed by the given ledger.
func NewAllocator(ledger Ledger, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		ledger: ledger,
		ttl:    DefaultReservationTTL,
		suffixFn: func() int64 {
			return rand.Int64N(SuffixSpan) + 1 // [1, SuffixSpan]
		},
		nowFunc: time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reserve creates a new pending order whose reserved amount is not held by
// any other pending order. The check and the claim are one atomic ledger
// operation; the allocator only retries on conflict.
//
// Expired pending orders are swept first so their amounts return to the
// allocatable pool before candidates are drawn.
func (a *Allocator) Reserve(ctx context.Context, reference decimal.Decimal, sourceTag, buyer string, contentRef uint64, originIP string) (*Order, error) {
	swept, err := a.ledger.SweepPending(ctx, a.nowFunc().Add(-a.ttl))
	if err != nil {
		return nil, err
	}
	if swept > 0 {
		a.log.Info("swept stale reservations", zap.Int("count", swept))
	}

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		o := &Order{
			Buyer:           buyer,
			ContentRef:      contentRef,
			SourceTag:       sourceTag,
			ReservedAmount:  ReservedAmount(reference, a.suffixFn()),
			ReferenceAmount: reference,
			Status:          StatusPending,
			CreatedAt:       a.nowFunc(),
			OriginIP:        originIP,
		}

		err := a.ledger.Create(ctx, o)
		switch {
		case err == nil:
			return o, nil
		case err == ErrAmountHeld:
			continue
		default:
			return nil, err
		}
	}

	a.log.Warn("reservation space exhausted",
		zap.String("reference", reference.String()),
		zap.Int("attempts", maxReserveAttempts))
	return nil, ErrReservationExhausted
}
