package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

const pgUniqueViolation = "23505"

// Store is the pgx-backed orders.Store. The pool is owned by the caller.
type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
}

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{DB: db, LockTimeout: lockTimeout}
}

// RunInTx runs fn in one read-committed transaction. Any error from fn rolls back
// and is returned unchanged.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	ptx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = ptx.Rollback(ctx) }()

	if s.LockTimeout > 0 {
		if _, err := ptx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.LockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(ctx, &tx{tx: ptx}); err != nil {
		return err
	}
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CartSnapshot(ctx context.Context, customerID string) (orders.Cart, error) {
	return loadCart(ctx, s.DB, customerID, "")
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadCart reads the cart header and its lines. lock is appended to the header query.
func loadCart(ctx context.Context, q querier, customerID, lock string) (orders.Cart, error) {
	cart := orders.Cart{CustomerID: customerID}

	var coupon *string
	err := q.QueryRow(ctx,
		`SELECT coupon_code, discount_amount FROM carts WHERE customer_id=$1`+lock, customerID,
	).Scan(&coupon, &cart.Discount)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return orders.Cart{}, err
	}
	if coupon != nil {
		cart.CouponCode = *coupon
	}

	// price is taken from the product at snapshot time; the order keeps this value
	rows, err := q.Query(ctx, `
		SELECT ci.product_id, ci.quantity, p.price
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.customer_id=$1
		ORDER BY ci.product_id`, customerID)
	if err != nil {
		return orders.Cart{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l orders.CartLine
		if err := rows.Scan(&l.ProductID, &l.Qty, &l.UnitPrice); err != nil {
			return orders.Cart{}, err
		}
		cart.Lines = append(cart.Lines, l)
	}
	return cart, rows.Err()
}

func (s *Store) CountOrdersSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE customer_id=$1 AND order_date >= $2`, customerID, since,
	).Scan(&n)
	return n, err
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, selectOrder+` WHERE id=$1`, orderID), orderID)
}

func (s *Store) OrderItems(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Qty, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) OrderHistory(ctx context.Context, orderID string) ([]orders.StatusHistory, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, status, notes, actor_id, status_date
		FROM order_status_history WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.StatusHistory
	for rows.Next() {
		var h orders.StatusHistory
		var st string
		if err := rows.Scan(&h.OrderID, &st, &h.Notes, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = orders.Status(st)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ProductStock(ctx context.Context, productID string) (orders.ProductStock, error) {
	var p orders.ProductStock
	err := s.DB.QueryRow(ctx, `
		SELECT id, stock_quantity, reserved_quantity, updated_at FROM products WHERE id=$1`, productID,
	).Scan(&p.ProductID, &p.Stock, &p.Reserved, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ProductStock{}, fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
	}
	return p, err
}

const selectOrder = `
	SELECT id, customer_id, status, total_amount, discount_amount, coupon_code, notes,
	       cancel_requested, order_date, updated_at
	FROM orders`

func scanOrder(row pgx.Row, orderID string) (orders.Order, error) {
	var (
		o      orders.Order
		status string
		coupon *string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &status, &o.TotalAmount, &o.DiscountAmount, &coupon,
		&o.Notes, &o.CancelRequested, &o.OrderDate, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
	}
	if err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	if coupon != nil {
		o.CouponCode = *coupon
	}
	return o, nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
