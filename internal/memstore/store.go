// Package memstore is an in-process orders.Store. Transactions are serialized by a
// store-wide lock and applied to a private copy, so a failed body leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

type state struct {
	products     map[string]orders.ProductStock
	reservations []orders.Reservation
	orders       map[string]orders.Order
	items        map[string][]orders.OrderItem
	history      map[string][]orders.StatusHistory
	payments     map[string]orders.Payment
	shipments    map[string]orders.Shipment
	carts        map[string]orders.Cart
	requests     map[string]orders.AfterSalesRequest
}

func newState() *state {
	return &state{
		products:  map[string]orders.ProductStock{},
		orders:    map[string]orders.Order{},
		items:     map[string][]orders.OrderItem{},
		history:   map[string][]orders.StatusHistory{},
		payments:  map[string]orders.Payment{},
		shipments: map[string]orders.Shipment{},
		carts:     map[string]orders.Cart{},
		requests:  map[string]orders.AfterSalesRequest{},
	}
}

func (s *state) clone() *state {
	c := &state{
		products:     maps.Clone(s.products),
		reservations: slices.Clone(s.reservations),
		orders:       maps.Clone(s.orders),
		items:        make(map[string][]orders.OrderItem, len(s.items)),
		history:      make(map[string][]orders.StatusHistory, len(s.history)),
		payments:     maps.Clone(s.payments),
		shipments:    maps.Clone(s.shipments),
		carts:        make(map[string]orders.Cart, len(s.carts)),
		requests:     maps.Clone(s.requests),
	}
	for k, v := range s.items {
		c.items[k] = slices.Clone(v)
	}
	for k, v := range s.history {
		c.history[k] = slices.Clone(v)
	}
	for k, v := range s.carts {
		v.Lines = slices.Clone(v.Lines)
		c.carts[k] = v
	}
	return c
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// PutProduct seeds or overwrites a ledger row.
func (s *Store) PutProduct(productID string, stock, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[productID] = orders.ProductStock{
		ProductID: productID, Stock: stock, Reserved: reserved, UpdatedAt: time.Now().UTC(),
	}
}

func (s *Store) PutCart(c orders.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Lines = slices.Clone(c.Lines)
	s.st.carts[c.CustomerID] = c
}

// Reservations returns every reservation row, for invariant checks.
func (s *Store) Reservations() []orders.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.reservations)
}

func (s *Store) Products() []orders.ProductStock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.ProductStock, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b orders.ProductStock) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) Payment(orderID string) (orders.Payment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.payments[orderID]
	return p, ok
}

func (s *Store) Shipment(orderID string) (orders.Shipment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.st.shipments[orderID]
	return sh, ok
}

func (s *Store) AfterSalesRequest(orderID string, kind orders.RequestKind) (orders.AfterSalesRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.requests[requestKey(orderID, kind)]
	return r, ok
}

func (s *Store) CartSnapshot(ctx context.Context, customerID string) (orders.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.st.carts[customerID]
	if !ok {
		return orders.Cart{CustomerID: customerID}, nil
	}
	c.Lines = slices.Clone(c.Lines)
	return c, nil
}

func (s *Store) CountOrdersSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.st.orders {
		if o.CustomerID == customerID && !o.OrderDate.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.st.orders[orderID]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return o, nil
}

func (s *Store) OrderItems(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.items[orderID]), nil
}

func (s *Store) OrderHistory(ctx context.Context, orderID string) ([]orders.StatusHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.history[orderID]), nil
}

func (s *Store) ProductStock(ctx context.Context, productID string) (orders.ProductStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[productID]
	if !ok {
		return orders.ProductStock{}, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return p, nil
}

func requestKey(orderID string, kind orders.RequestKind) string {
	return string(kind) + ":" + orderID
}
