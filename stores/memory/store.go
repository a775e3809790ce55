// Package memory provides a map-backed order store for tests, demos and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stcchain/evmpay"
)

// Store is an in-memory evmpay.OrderStore. Orders are copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	orders map[uint64]*evmpay.Order
	nextID uint64
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		orders: make(map[uint64]*evmpay.Order),
		nextID: 1,
		now:    time.Now,
	}
}

// Create adds a new unpaid order and returns it with its assigned id.
func (s *Store) Create(_ context.Context, orderKey string, total decimal.Decimal, currency string) (*evmpay.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	order := &evmpay.Order{
		ID:        s.nextID,
		OrderKey:  orderKey,
		Total:     total,
		Currency:  currency,
		Status:    evmpay.OrderStatusUnpaid,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.orders[order.ID] = order
	s.nextID++
	return cloneOrder(order), nil
}

// Put stores order as-is, replacing any order with the same id.
func (s *Store) Put(order *evmpay.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	if order.ID >= s.nextID {
		s.nextID = order.ID + 1
	}
}

// Find returns a copy of the order.
func (s *Store) Find(_ context.Context, id uint64) (*evmpay.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, evmpay.ErrOrderNotFound)
	}
	return cloneOrder(order), nil
}

// NeedsPayment reports whether the order is not yet paid.
func (s *Store) NeedsPayment(order *evmpay.Order) bool {
	return order.NeedsPayment()
}

// MarkPending moves an unpaid order to pending with the given note.
func (s *Store) MarkPending(_ context.Context, id uint64, note string) (*evmpay.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, evmpay.ErrOrderNotFound)
	}
	if order.Status == evmpay.OrderStatusPaid {
		return nil, fmt.Errorf("order %d: %w", id, evmpay.ErrAlreadySettled)
	}

	now := s.now()
	order.Status = evmpay.OrderStatusPending
	order.Notes = append(order.Notes, evmpay.OrderNote{Text: note, CreatedAt: now})
	order.Version++
	order.UpdatedAt = now
	return cloneOrder(order), nil
}

// MarkPaid transitions the order to paid if it is unchanged since it was
// read (same version) and not already paid.
func (s *Store) MarkPaid(_ context.Context, order *evmpay.Order, txHash string, note string) (*evmpay.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.ID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", order.ID, evmpay.ErrOrderNotFound)
	}
	if stored.Status == evmpay.OrderStatusPaid {
		return nil, fmt.Errorf("order %d: %w", order.ID, evmpay.ErrAlreadySettled)
	}
	if stored.Version != order.Version {
		return nil, fmt.Errorf("order %d: %w", order.ID, evmpay.ErrOrderChanged)
	}

	now := s.now()
	stored.Status = evmpay.OrderStatusPaid
	stored.TxHash = txHash
	stored.PaidAt = &now
	stored.Notes = append(stored.Notes, evmpay.OrderNote{Text: note, CreatedAt: now})
	stored.Version++
	stored.UpdatedAt = now
	return cloneOrder(stored), nil
}

// Len returns the number of stored orders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func cloneOrder(o *evmpay.Order) *evmpay.Order {
	c := *o
	if o.Notes != nil {
		c.Notes = append([]evmpay.OrderNote(nil), o.Notes...)
	}
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		c.PaidAt = &paidAt
	}
	return &c
}

var (
	_ evmpay.OrderStore    = (*Store)(nil)
	_ evmpay.PendingMarker = (*Store)(nil)
)
