package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

type tx struct{ tx pgx.Tx }

// LockProductStock holds the row lock until commit/rollback; concurrent reservations
// on the same product queue here.
func (t *tx) LockProductStock(ctx context.Context, productID string) (orders.ProductStock, error) {
	var p orders.ProductStock
	err := t.tx.QueryRow(ctx, `
		SELECT id, stock_quantity, reserved_quantity, updated_at
		FROM products WHERE id=$1 FOR UPDATE`, productID,
	).Scan(&p.ProductID, &p.Stock, &p.Reserved, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ProductStock{}, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return p, err
}

func (t *tx) UpdateProductStock(ctx context.Context, p orders.ProductStock) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock_quantity=$2, reserved_quantity=$3, updated_at=NOW()
		WHERE id=$1`, p.ProductID, p.Stock, p.Reserved)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %s", orders.ErrNotFound, p.ProductID)
	}
	return nil
}

func (t *tx) InsertReservation(ctx context.Context, r orders.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations(order_id, product_id, quantity, created_at)
		VALUES ($1,$2,$3,$4)`, r.OrderID, r.ProductID, r.Qty, r.CreatedAt)
	return err
}

func (t *tx) ReservationsForOrder(ctx context.Context, orderID string) ([]orders.Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT product_id, order_id, quantity, created_at
		FROM reservations WHERE order_id=$1 ORDER BY product_id, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Reservation
	for rows.Next() {
		var r orders.Reservation
		if err := rows.Scan(&r.ProductID, &r.OrderID, &r.Qty, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) DeleteReservations(ctx context.Context, orderID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE order_id=$1`, orderID)
	return err
}

func (t *tx) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, status, total_amount, discount_amount, coupon_code,
		                   notes, cancel_requested, order_date, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.CustomerID, string(o.Status), o.TotalAmount, o.DiscountAmount, nullIfEmpty(o.CouponCode),
		o.Notes, o.CancelRequested, o.OrderDate, o.UpdatedAt)
	if c, ok := uniqueViolation(err); ok && c == "orders_pkey" {
		return fmt.Errorf("%w: %s", orders.ErrOrderIDConflict, o.ID)
	}
	return err
}

func (t *tx) InsertOrderItem(ctx context.Context, it orders.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items(order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1,$2,$3,$4,$5)`, it.OrderID, it.ProductID, it.Qty, it.UnitPrice, it.Subtotal)
	return err
}

func (t *tx) GetOrderForUpdate(ctx context.Context, orderID string) (orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, selectOrder+` WHERE id=$1 FOR UPDATE`, orderID), orderID)
}

func (t *tx) UpdateOrder(ctx context.Context, o orders.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, cancel_requested=$3, updated_at=$4 WHERE id=$1`,
		o.ID, string(o.Status), o.CancelRequested, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %s", orders.ErrNotFound, o.ID)
	}
	return nil
}

func (t *tx) AppendStatusHistory(ctx context.Context, h orders.StatusHistory) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, status, notes, actor_id, status_date)
		VALUES ($1,$2,$3,$4,$5)`, h.OrderID, string(h.Status), h.Notes, h.ActorID, h.CreatedAt)
	return err
}

func (t *tx) LatestStatusAt(ctx context.Context, orderID string, status orders.Status) (time.Time, bool, error) {
	var at *time.Time
	err := t.tx.QueryRow(ctx, `
		SELECT MAX(status_date) FROM order_status_history WHERE order_id=$1 AND status=$2`,
		orderID, string(status)).Scan(&at)
	if err != nil {
		return time.Time{}, false, err
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

func (t *tx) PaymentExists(ctx context.Context, orderID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE order_id=$1)`, orderID).Scan(&ok)
	return ok, err
}

func (t *tx) InsertPayment(ctx context.Context, p orders.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, method, reference_number, account_name, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.OrderID, p.Method, p.ReferenceNumber, p.AccountName, p.Address, p.CreatedAt)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: order %s", orders.ErrDuplicatePayment, p.OrderID)
	}
	return err
}

func (t *tx) InsertShipment(ctx context.Context, s orders.Shipment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO shipments(order_id, carrier, price, reference, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id) DO UPDATE
		SET carrier=EXCLUDED.carrier, price=EXCLUDED.price, reference=EXCLUDED.reference`,
		s.OrderID, s.Carrier, s.Price, s.Reference, s.CreatedAt)
	return err
}

// LockCart makes sure the carts row exists, then locks it. Items are read after the
// lock is granted so a checkout queued behind another sees the cleared cart.
func (t *tx) LockCart(ctx context.Context, customerID string) (orders.Cart, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO carts(customer_id) VALUES ($1) ON CONFLICT (customer_id) DO NOTHING`, customerID); err != nil {
		return orders.Cart{}, err
	}
	return loadCart(ctx, t.tx, customerID, " FOR UPDATE")
}

func (t *tx) ClearCart(ctx context.Context, customerID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE customer_id=$1`, customerID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE carts SET coupon_code=NULL, discount_amount=0, updated_at=NOW()
		WHERE customer_id=$1`, customerID)
	return err
}

const selectRequest = `
	SELECT id, kind, order_id, customer_id, reason, contact_number, status,
	       resolved_by, admin_notes, created_at, resolved_at
	FROM after_sales_requests`

func (t *tx) GetAfterSalesRequest(ctx context.Context, orderID string, kind orders.RequestKind) (orders.AfterSalesRequest, error) {
	var (
		r            orders.AfterSalesRequest
		kindS, statS string
	)
	err := t.tx.QueryRow(ctx, selectRequest+` WHERE order_id=$1 AND kind=$2 FOR UPDATE`, orderID, string(kind)).
		Scan(&r.ID, &kindS, &r.OrderID, &r.CustomerID, &r.Reason, &r.ContactNumber, &statS,
			&r.ResolvedBy, &r.AdminNotes, &r.CreatedAt, &r.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.AfterSalesRequest{}, fmt.Errorf("%w: %s request for order %s", orders.ErrNotFound, kind, orderID)
	}
	if err != nil {
		return orders.AfterSalesRequest{}, err
	}
	r.Kind, r.Status = orders.RequestKind(kindS), orders.RequestStatus(statS)
	return r, nil
}

func (t *tx) InsertAfterSalesRequest(ctx context.Context, r orders.AfterSalesRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO after_sales_requests(id, kind, order_id, customer_id, reason, contact_number,
		                                 status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, string(r.Kind), r.OrderID, r.CustomerID, r.Reason, r.ContactNumber, string(r.Status), r.CreatedAt)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%w: %s request for order %s", orders.ErrDuplicateRequest, r.Kind, r.OrderID)
	}
	return err
}

func (t *tx) UpdateAfterSalesRequest(ctx context.Context, r orders.AfterSalesRequest) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE after_sales_requests
		SET status=$2, resolved_by=$3, admin_notes=$4, resolved_at=$5
		WHERE id=$1`, r.ID, string(r.Status), r.ResolvedBy, r.AdminNotes, r.ResolvedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s request for order %s", orders.ErrNotFound, r.Kind, r.OrderID)
	}
	return nil
}
