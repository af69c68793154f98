package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

// tx mutates a private copy of the state; RunInTx publishes it on success.
type tx struct{ st *state }

func (t *tx) LockProductStock(ctx context.Context, productID string) (orders.ProductStock, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return orders.ProductStock{}, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return p, nil
}

func (t *tx) UpdateProductStock(ctx context.Context, p orders.ProductStock) error {
	if _, ok := t.st.products[p.ProductID]; !ok {
		return fmt.Errorf("%w: product %s", orders.ErrNotFound, p.ProductID)
	}
	if p.Stock < 0 || p.Reserved < 0 || p.Available() < 0 {
		return fmt.Errorf("%w: product %s stock=%d reserved=%d", orders.ErrInsufficientStock, p.ProductID, p.Stock, p.Reserved)
	}
	p.UpdatedAt = time.Now().UTC()
	t.st.products[p.ProductID] = p
	return nil
}

func (t *tx) InsertReservation(ctx context.Context, r orders.Reservation) error {
	t.st.reservations = append(t.st.reservations, r)
	return nil
}

func (t *tx) ReservationsForOrder(ctx context.Context, orderID string) ([]orders.Reservation, error) {
	var out []orders.Reservation
	for _, r := range t.st.reservations {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) DeleteReservations(ctx context.Context, orderID string) error {
	kept := t.st.reservations[:0]
	for _, r := range t.st.reservations {
		if r.OrderID != orderID {
			kept = append(kept, r)
		}
	}
	t.st.reservations = kept
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o orders.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderIDConflict, o.ID)
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) InsertOrderItem(ctx context.Context, it orders.OrderItem) error {
	if _, ok := t.st.orders[it.OrderID]; !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, it.OrderID)
	}
	t.st.items[it.OrderID] = append(t.st.items[it.OrderID], it)
	return nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, orderID string) (orders.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	return o, nil
}

func (t *tx) UpdateOrder(ctx context.Context, o orders.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, o.ID)
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) AppendStatusHistory(ctx context.Context, h orders.StatusHistory) error {
	t.st.history[h.OrderID] = append(t.st.history[h.OrderID], h)
	return nil
}

func (t *tx) LatestStatusAt(ctx context.Context, orderID string, status orders.Status) (time.Time, bool, error) {
	var (
		at    time.Time
		found bool
	)
	for _, h := range t.st.history[orderID] {
		if h.Status == status && (!found || !h.CreatedAt.Before(at)) {
			at, found = h.CreatedAt, true
		}
	}
	return at, found, nil
}

func (t *tx) PaymentExists(ctx context.Context, orderID string) (bool, error) {
	_, ok := t.st.payments[orderID]
	return ok, nil
}

func (t *tx) InsertPayment(ctx context.Context, p orders.Payment) error {
	if _, ok := t.st.payments[p.OrderID]; ok {
		return fmt.Errorf("%w: order %s", orders.ErrDuplicatePayment, p.OrderID)
	}
	t.st.payments[p.OrderID] = p
	return nil
}

func (t *tx) InsertShipment(ctx context.Context, s orders.Shipment) error {
	t.st.shipments[s.OrderID] = s
	return nil
}

func (t *tx) LockCart(ctx context.Context, customerID string) (orders.Cart, error) {
	c, ok := t.st.carts[customerID]
	if !ok {
		return orders.Cart{CustomerID: customerID}, nil
	}
	c.Lines = slices.Clone(c.Lines)
	return c, nil
}

func (t *tx) ClearCart(ctx context.Context, customerID string) error {
	t.st.carts[customerID] = orders.Cart{CustomerID: customerID, Discount: decimal.Zero}
	return nil
}

func (t *tx) GetAfterSalesRequest(ctx context.Context, orderID string, kind orders.RequestKind) (orders.AfterSalesRequest, error) {
	r, ok := t.st.requests[requestKey(orderID, kind)]
	if !ok {
		return orders.AfterSalesRequest{}, fmt.Errorf("%w: %s request for order %s", orders.ErrNotFound, kind, orderID)
	}
	return r, nil
}

func (t *tx) InsertAfterSalesRequest(ctx context.Context, r orders.AfterSalesRequest) error {
	key := requestKey(r.OrderID, r.Kind)
	if _, ok := t.st.requests[key]; ok {
		return fmt.Errorf("%w: %s request for order %s", orders.ErrDuplicateRequest, r.Kind, r.OrderID)
	}
	t.st.requests[key] = r
	return nil
}

func (t *tx) UpdateAfterSalesRequest(ctx context.Context, r orders.AfterSalesRequest) error {
	key := requestKey(r.OrderID, r.Kind)
	if _, ok := t.st.requests[key]; !ok {
		return fmt.Errorf("%w: %s request for order %s", orders.ErrNotFound, r.Kind, r.OrderID)
	}
	t.st.requests[key] = r
	return nil
}
