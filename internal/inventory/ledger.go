package inventory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

// Ledger is the reservation manager over per-product stock rows. Every method runs
// inside the caller's transaction; the product row lock is the unit of mutual exclusion.
type Ledger struct {
	logger *zap.Logger
	clock  func() time.Time
}

func NewLedger(logger *zap.Logger, clock func() time.Time) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{logger: logger, clock: clock}
}

// Reserve locks the product row, checks availability and records a reservation.
// Insufficient availability fails with orders.ErrInsufficientStock and writes nothing.
func (l *Ledger) Reserve(ctx context.Context, tx orders.Tx, productID string, qty int, orderID string) (orders.Movement, error) {
	if qty <= 0 {
		return orders.Movement{}, fmt.Errorf("%w: qty %d for product %s", orders.ErrInvalidInput, qty, productID)
	}

	p, err := tx.LockProductStock(ctx, productID)
	if err != nil {
		return orders.Movement{}, err
	}
	available := p.Available()
	if available < qty {
		return orders.Movement{}, fmt.Errorf("%w: product %s has %d available, order %s needs %d",
			orders.ErrInsufficientStock, productID, available, orderID, qty)
	}

	mv := orders.Movement{
		Kind:         orders.MovementReserve,
		ProductID:    productID,
		OrderID:      orderID,
		Qty:          qty,
		OldAvailable: available,
		NewAvailable: available - qty,
		OldReserved:  p.Reserved,
		NewReserved:  p.Reserved + qty,
		OldStock:     p.Stock,
		NewStock:     p.Stock,
		OccurredAt:   l.clock().UTC(),
	}

	p.Reserved = mv.NewReserved
	if err := tx.UpdateProductStock(ctx, p); err != nil {
		return orders.Movement{}, err
	}
	if err := tx.InsertReservation(ctx, orders.Reservation{
		ProductID: productID, OrderID: orderID, Qty: qty, CreatedAt: mv.OccurredAt,
	}); err != nil {
		return orders.Movement{}, err
	}
	return mv, nil
}

// Deduct turns every reservation of the order into a permanent stock decrement and
// deletes the reservation rows. It is not idempotent; the state machine runs it once,
// on pending -> processing.
func (l *Ledger) Deduct(ctx context.Context, tx orders.Tx, orderID string) ([]orders.Movement, error) {
	return l.settle(ctx, tx, orderID, orders.MovementDeduct)
}

// Release deletes every reservation of the order and gives the quantity back to
// available stock. Stock itself is untouched.
func (l *Ledger) Release(ctx context.Context, tx orders.Tx, orderID string) ([]orders.Movement, error) {
	return l.settle(ctx, tx, orderID, orders.MovementRelease)
}

func (l *Ledger) settle(ctx context.Context, tx orders.Tx, orderID string, kind orders.MovementKind) ([]orders.Movement, error) {
	rs, err := tx.ReservationsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// multiple rows per product are tolerated and summed
	qty := map[string]int{}
	for _, r := range rs {
		qty[r.ProductID] += r.Qty
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	slices.Sort(ids) // fixed lock order across transactions

	now := l.clock().UTC()
	mvs := make([]orders.Movement, 0, len(ids))
	for _, id := range ids {
		p, err := tx.LockProductStock(ctx, id)
		if err != nil {
			return nil, err
		}
		q := qty[id]
		if p.Reserved < q {
			return nil, fmt.Errorf("ledger out of sync: product %s reserved=%d, order %s holds %d", id, p.Reserved, orderID, q)
		}

		mv := orders.Movement{
			Kind:         kind,
			ProductID:    id,
			OrderID:      orderID,
			Qty:          q,
			OldAvailable: p.Available(),
			OldReserved:  p.Reserved,
			OldStock:     p.Stock,
			OccurredAt:   now,
		}
		p.Reserved -= q
		if kind == orders.MovementDeduct {
			p.Stock -= q
		}
		mv.NewAvailable, mv.NewReserved, mv.NewStock = p.Available(), p.Reserved, p.Stock

		if err := tx.UpdateProductStock(ctx, p); err != nil {
			return nil, err
		}
		mvs = append(mvs, mv)
	}

	if err := tx.DeleteReservations(ctx, orderID); err != nil {
		return nil, err
	}
	return mvs, nil
}

// LogMovements writes one audit line per committed movement.
func (l *Ledger) LogMovements(mvs []orders.Movement) {
	for _, mv := range mvs {
		l.logger.Info("inventory movement",
			zap.String("kind", string(mv.Kind)),
			zap.String("product_id", mv.ProductID),
			zap.String("order_id", mv.OrderID),
			zap.Int("qty", mv.Qty),
			zap.Int("old_available", mv.OldAvailable),
			zap.Int("new_available", mv.NewAvailable),
			zap.Int("old_reserved", mv.OldReserved),
			zap.Int("new_reserved", mv.NewReserved),
		)
	}
}
