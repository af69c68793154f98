package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

// DefaultDailyLimit is the per-customer order ceiling per UTC day.
const DefaultDailyLimit = 100

// Quota decides whether a customer may place another order now.
type Quota interface {
	Check(ctx context.Context, customerID string, now time.Time) error
}

// StoreQuota counts today's orders in the store. Limit <= 0 disables the check.
type StoreQuota struct {
	Reader orders.Reader
	Limit  int
}

func (q StoreQuota) Check(ctx context.Context, customerID string, now time.Time) error {
	if q.Limit <= 0 {
		return nil
	}
	n, err := q.Reader.CountOrdersSince(ctx, customerID, startOfDay(now))
	if err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	if n >= q.Limit {
		return fmt.Errorf("%w: customer %s placed %d orders today (limit %d)", orders.ErrRateLimited, customerID, n, q.Limit)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
