package basepay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for single-instance deployments and
// tests. All index maintenance happens under one mutex, which is what makes
// the check-and-claim operations atomic.
type MemoryLedger struct {
	mu              sync.Mutex
	orders          map[uint64]*Order
	pendingByAmount map[string]uint64 // AmountKey -> order id
	settledRefs     map[string]uint64 // settlement ref -> order id
	nextID          uint64
	nowFunc         func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders:          make(map[uint64]*Order),
		pendingByAmount: make(map[string]uint64),
		settledRefs:     make(map[string]uint64),
		nowFunc:         time.Now,
	}
}

func (l *MemoryLedger) Create(_ context.Context, o *Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch o.Status {
	case StatusPending:
		key := AmountKey(o.ReservedAmount)
		if _, held := l.pendingByAmount[key]; held {
			return ErrAmountHeld
		}
		l.nextID++
		o.ID = l.nextID
		if o.CreatedAt.IsZero() {
			o.CreatedAt = l.nowFunc()
		}
		l.pendingByAmount[key] = o.ID
	case StatusSuccess:
		if o.SettlementRef != "" {
			if _, claimed := l.settledRefs[o.SettlementRef]; claimed {
				return ErrDuplicateSettlement
			}
		}
		l.nextID++
		o.ID = l.nextID
		if o.CreatedAt.IsZero() {
			o.CreatedAt = l.nowFunc()
		}
		if o.SettlementRef != "" {
			l.settledRefs[o.SettlementRef] = o.ID
		}
	default:
		l.nextID++
		o.ID = l.nextID
		if o.CreatedAt.IsZero() {
			o.CreatedAt = l.nowFunc()
		}
	}

	cp := *o
	l.orders[o.ID] = &cp
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, id uint64) (*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *MemoryLedger) Settle(_ context.Context, id uint64, settlementRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return ErrAlreadySettled
	}
	if _, claimed := l.settledRefs[settlementRef]; claimed {
		return ErrDuplicateSettlement
	}

	delete(l.pendingByAmount, AmountKey(o.ReservedAmount))
	o.Status = StatusSuccess
	o.SettlementRef = settlementRef
	l.settledRefs[settlementRef] = id
	return nil
}

func (l *MemoryLedger) ForceSuccess(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == StatusSuccess {
		return nil
	}
	if o.Status == StatusPending {
		delete(l.pendingByAmount, AmountKey(o.ReservedAmount))
	}
	o.Status = StatusSuccess
	return nil
}

func (l *MemoryLedger) Delete(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == StatusPending {
		delete(l.pendingByAmount, AmountKey(o.ReservedAmount))
	}
	if o.SettlementRef != "" {
		delete(l.settledRefs, o.SettlementRef)
	}
	delete(l.orders, id)
	return nil
}

func (l *MemoryLedger) HasSuccess(_ context.Context, buyer string, contentRef uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range l.orders {
		if o.Status == StatusSuccess && o.Buyer == buyer && o.ContentRef == contentRef {
			return true, nil
		}
	}
	return false, nil
}

func (l *MemoryLedger) SuccessByBuyer(_ context.Context, buyer string) ([]*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Order
	for _, o := range l.orders {
		if o.Status == StatusSuccess && o.Buyer == buyer {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (l *MemoryLedger) SettlementRefClaimed(_ context.Context, ref string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, claimed := l.settledRefs[ref]
	return claimed, nil
}

func (l *MemoryLedger) SweepPending(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, o := range l.orders {
		if o.Status != StatusPending {
			continue
		}
		if !o.CreatedAt.Before(cutoff) {
			continue
		}
		delete(l.pendingByAmount, AmountKey(o.ReservedAmount))
		delete(l.orders, id)
		n++
	}
	return n, nil
}

func (l *MemoryLedger) List(_ context.Context) ([]*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Order, 0, len(l.orders))
	for _, o := range l.orders {
		cp := *o
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(orders []*Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

// Ensure MemoryLedger implements Ledger
var _ Ledger = (*MemoryLedger)(nil)
