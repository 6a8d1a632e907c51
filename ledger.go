package basepay

import (
	"context"
	"time"
)

// Ledger is the durable store of purchase intents and their outcomes.
//
// Implementations must uphold two invariants as single atomic operations,
// never as application-level check-then-write sequences:
//
//   - Exclusivity: at any instant at most one pending order holds a given
//     reserved amount (keyed on AmountKey). Create enforces this.
//   - Settlement uniqueness: once a settlement reference is attached to a
//     successful order, no other order may ever claim it. Settle and
//     Create enforce this.
//
// Success is terminal: after the pending->success transition the order's
// reserved amount and settlement reference are immutable.
type Ledger interface {
	// Create inserts a new order and assigns its ID. For pending orders
	// it atomically checks and claims the reserved amount, returning
	// ErrAmountHeld on a conflict. For orders created directly as
	// success (free-test grants), it atomically claims the settlement
	// reference, returning ErrDuplicateSettlement on a conflict.
	Create(ctx context.Context, o *Order) error

	// Get returns a copy of the order, or ErrOrderNotFound.
	Get(ctx context.Context, id uint64) (*Order, error)

	// Settle transitions the order from pending to success and attaches
	// the settlement reference. It is conditional on the current status:
	// ErrAlreadySettled if the order is not pending, ErrOrderNotFound if
	// it is gone, ErrDuplicateSettlement if the reference is already
	// claimed by a successful order.
	Settle(ctx context.Context, id uint64, settlementRef string) error

	// ForceSuccess is the administrative override: it marks the order
	// success without a settlement reference. Calling it on an already
	// successful order is a no-op.
	ForceSuccess(ctx context.Context, id uint64) error

	// Delete removes the order regardless of status, releasing any
	// pending amount claim. ErrOrderNotFound if it does not exist.
	Delete(ctx context.Context, id uint64) error

	// HasSuccess reports whether a successful order exists for the
	// (buyer, contentRef) pair.
	HasSuccess(ctx context.Context, buyer string, contentRef uint64) (bool, error)

	// SuccessByBuyer returns the buyer's successful orders, newest first.
	SuccessByBuyer(ctx context.Context, buyer string) ([]*Order, error)

	// SettlementRefClaimed reports whether the reference already belongs
	// to a successful order.
	SettlementRefClaimed(ctx context.Context, ref string) (bool, error)

	// SweepPending deletes every pending order created before the cutoff,
	// releasing the reserved amounts. Success and failed orders are never
	// touched. Returns the number of orders removed.
	SweepPending(ctx context.Context, cutoff time.Time) (int, error)

	// List returns all orders, newest first.
	List(ctx context.Context) ([]*Order, error)
}
