package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id                TEXT PRIMARY KEY,
		sku               TEXT UNIQUE,
		name              TEXT NOT NULL DEFAULT '',
		price             NUMERIC(12,2) NOT NULL DEFAULT 0,
		stock_quantity    INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		reserved_quantity INTEGER NOT NULL DEFAULT 0 CHECK (reserved_quantity >= 0),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT products_available_nonneg CHECK (stock_quantity - reserved_quantity >= 0)
	)`,

	`CREATE TABLE IF NOT EXISTS carts (
		customer_id     TEXT PRIMARY KEY,
		coupon_code     TEXT,
		discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		customer_id TEXT NOT NULL,
		product_id  TEXT NOT NULL REFERENCES products(id),
		quantity    INTEGER NOT NULL CHECK (quantity > 0),
		PRIMARY KEY (customer_id, product_id)
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		customer_id      TEXT NOT NULL,
		status           TEXT NOT NULL,
		total_amount     NUMERIC(12,2) NOT NULL,
		discount_amount  NUMERIC(12,2) NOT NULL DEFAULT 0,
		coupon_code      TEXT,
		notes            TEXT NOT NULL DEFAULT '',
		cancel_requested BOOLEAN NOT NULL DEFAULT false,
		order_date       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_date ON orders(customer_id, order_date)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		subtotal   NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id         BIGSERIAL PRIMARY KEY,
		order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_product ON reservations(product_id)`,

	`CREATE TABLE IF NOT EXISTS order_status_history (
		id          BIGSERIAL PRIMARY KEY,
		order_id    TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		status      TEXT NOT NULL,
		notes       TEXT NOT NULL DEFAULT '',
		actor_id    TEXT NOT NULL DEFAULT '',
		status_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_order_status ON order_status_history(order_id, status, status_date)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id               TEXT PRIMARY KEY,
		order_id         TEXT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
		method           TEXT NOT NULL,
		reference_number TEXT NOT NULL DEFAULT '',
		account_name     TEXT NOT NULL DEFAULT '',
		address          TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS shipments (
		order_id   TEXT PRIMARY KEY REFERENCES orders(id) ON DELETE CASCADE,
		carrier    TEXT NOT NULL DEFAULT '',
		price      NUMERIC(12,2) NOT NULL DEFAULT 0,
		reference  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS after_sales_requests (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL,
		order_id       TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		customer_id    TEXT NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		contact_number TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		resolved_by    TEXT NOT NULL DEFAULT '',
		admin_notes    TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		resolved_at    TIMESTAMPTZ,
		UNIQUE (order_id, kind)
	)`,
}

// Migrate applies the schema idempotently.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
