// Package pebbledb provides a durable, single-process Ledger backed by
// Pebble. Pebble has no transactions, so the store serializes writers with
// a mutex and commits each logical operation as one synced batch; that is
// what makes check-and-claim atomic here.
package pebbledb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	basepay "github.com/crypto-plugins/basepay"
)

// Key layout:
//
//	o/<id:8>        -> JSON order record
//	a/<amount key>  -> id, pending-amount exclusivity index
//	t/<ref>         -> id, settlement-reference uniqueness index
//	seq             -> last assigned order id
var (
	orderPrefix  = []byte("o/")
	amountPrefix = []byte("a/")
	refPrefix    = []byte("t/")
	seqKey       = []byte("seq")
)

// Ledger is a pebble-backed basepay.Ledger.
type Ledger struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) the ledger at dir.
func Open(dir string) (*Ledger, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Create(_ context.Context, o *basepay.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch o.Status {
	case basepay.StatusPending:
		if _, ok, err := l.lookupIndex(amountKey(o.ReservedAmount)); err != nil {
			return err
		} else if ok {
			return basepay.ErrAmountHeld
		}
	case basepay.StatusSuccess:
		if o.SettlementRef != "" {
			if _, ok, err := l.lookupIndex(refKey(o.SettlementRef)); err != nil {
				return err
			} else if ok {
				return basepay.ErrDuplicateSettlement
			}
		}
	}

	id, err := l.nextID()
	if err != nil {
		return err
	}
	o.ID = id
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	b := l.db.NewBatch()
	defer b.Close()

	if err := b.Set(seqKey, encodeID(id), nil); err != nil {
		return err
	}
	if err := putOrder(b, o); err != nil {
		return err
	}
	if o.Status == basepay.StatusPending {
		if err := b.Set(amountKey(o.ReservedAmount), encodeID(id), nil); err != nil {
			return err
		}
	}
	if o.Status == basepay.StatusSuccess && o.SettlementRef != "" {
		if err := b.Set(refKey(o.SettlementRef), encodeID(id), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (l *Ledger) Get(_ context.Context, id uint64) (*basepay.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(id)
}

func (l *Ledger) Settle(_ context.Context, id uint64, settlementRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.getLocked(id)
	if err != nil {
		return err
	}
	if o.Status != basepay.StatusPending {
		return basepay.ErrAlreadySettled
	}
	if _, ok, err := l.lookupIndex(refKey(settlementRef)); err != nil {
		return err
	} else if ok {
		return basepay.ErrDuplicateSettlement
	}

	o.Status = basepay.StatusSuccess
	o.SettlementRef = settlementRef

	b := l.db.NewBatch()
	defer b.Close()

	if err := putOrder(b, o); err != nil {
		return err
	}
	if err := b.Delete(amountKey(o.ReservedAmount), nil); err != nil {
		return err
	}
	if err := b.Set(refKey(settlementRef), encodeID(id), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (l *Ledger) ForceSuccess(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.getLocked(id)
	if err != nil {
		return err
	}
	if o.Status == basepay.StatusSuccess {
		return nil
	}
	wasPending := o.Status == basepay.StatusPending
	o.Status = basepay.StatusSuccess

	b := l.db.NewBatch()
	defer b.Close()

	if err := putOrder(b, o); err != nil {
		return err
	}
	if wasPending {
		if err := b.Delete(amountKey(o.ReservedAmount), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (l *Ledger) Delete(_ context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.getLocked(id)
	if err != nil {
		return err
	}

	b := l.db.NewBatch()
	defer b.Close()

	if err := b.Delete(orderKey(id), nil); err != nil {
		return err
	}
	if o.Status == basepay.StatusPending {
		if err := b.Delete(amountKey(o.ReservedAmount), nil); err != nil {
			return err
		}
	}
	if o.SettlementRef != "" {
		if err := b.Delete(refKey(o.SettlementRef), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (l *Ledger) HasSuccess(_ context.Context, buyer string, contentRef uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	err := l.scanOrders(func(o *basepay.Order) bool {
		if o.Status == basepay.StatusSuccess && o.Buyer == buyer && o.ContentRef == contentRef {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func (l *Ledger) SuccessByBuyer(_ context.Context, buyer string) ([]*basepay.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*basepay.Order
	err := l.scanOrders(func(o *basepay.Order) bool {
		if o.Status == basepay.StatusSuccess && o.Buyer == buyer {
			out = append(out, o)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (l *Ledger) SettlementRefClaimed(_ context.Context, ref string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok, err := l.lookupIndex(refKey(ref))
	return ok, err
}

func (l *Ledger) SweepPending(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stale []*basepay.Order
	err := l.scanOrders(func(o *basepay.Order) bool {
		if o.Status == basepay.StatusPending && o.CreatedAt.Before(cutoff) {
			stale = append(stale, o)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	b := l.db.NewBatch()
	defer b.Close()

	for _, o := range stale {
		if err := b.Delete(orderKey(o.ID), nil); err != nil {
			return 0, err
		}
		if err := b.Delete(amountKey(o.ReservedAmount), nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (l *Ledger) List(_ context.Context) ([]*basepay.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*basepay.Order
	err := l.scanOrders(func(o *basepay.Order) bool {
		out = append(out, o)
		return true
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// -------------------- internals --------------------

func (l *Ledger) getLocked(id uint64) (*basepay.Order, error) {
	val, closer, err := l.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return nil, basepay.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var o basepay.Order
	if err := json.Unmarshal(val, &o); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", id, err)
	}
	return &o, nil
}

// lookupIndex returns the order id an index key points at, if any.
func (l *Ledger) lookupIndex(key []byte) (uint64, bool, error) {
	val, closer, err := l.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val), true, nil
}

func (l *Ledger) nextID() (uint64, error) {
	id, ok, err := func() (uint64, bool, error) {
		val, closer, err := l.db.Get(seqKey)
		if err == pebble.ErrNotFound {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		defer closer.Close()
		return binary.BigEndian.Uint64(val), true, nil
	}()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return id + 1, nil
}

// scanOrders walks every order record; fn returns false to stop early.
func (l *Ledger) scanOrders(fn func(*basepay.Order) bool) error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: orderPrefix,
		UpperBound: prefixUpperBound(orderPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o basepay.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("decode order record: %w", err)
		}
		if !fn(&o) {
			break
		}
	}
	return iter.Error()
}

func putOrder(b *pebble.Batch, o *basepay.Order) error {
	val, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", o.ID, err)
	}
	return b.Set(orderKey(o.ID), val, nil)
}

func orderKey(id uint64) []byte {
	return append(append([]byte{}, orderPrefix...), encodeID(id)...)
}

func amountKey(d decimal.Decimal) []byte {
	return append(append([]byte{}, amountPrefix...), []byte(basepay.AmountKey(d))...)
}

func refKey(ref string) []byte {
	return append(append([]byte{}, refPrefix...), []byte(ref)...)
}

func encodeID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}

func sortNewestFirst(orders []*basepay.Order) {
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0 && orders[j].CreatedAt.After(orders[j-1].CreatedAt); j-- {
			orders[j], orders[j-1] = orders[j-1], orders[j]
		}
	}
}

// Ensure Ledger implements basepay.Ledger
var _ basepay.Ledger = (*Ledger)(nil)
