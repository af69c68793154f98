// Package checkout turns a customer's cart into a pending order in one transaction:
// order row, items, stock reservations, initial history and payment, then cart clear.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/inventory"
	"github.com/ariefcatur/go-order-pipeline/internal/notify"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

const (
	orderIDPrefix = "ORD-"
	// maxIDAttempts bounds retries on order id collision.
	maxIDAttempts = 3
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-pipeline/internal/checkout")

// PaymentValidator checks method-specific payment fields before any write.
type PaymentValidator interface {
	Validate(ctx context.Context, p orders.PaymentInfo) error
}

// Deps bundles the collaborators of the workflow. Store and Ledger are required.
type Deps struct {
	Store       orders.Store
	Ledger      *inventory.Ledger
	History     inventory.History
	Notify      notify.Sink
	Quota       Quota
	Payments    PaymentValidator
	TxTimeout   time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      *zap.Logger
}

type Workflow struct {
	store     orders.Store
	ledger    *inventory.Ledger
	history   inventory.History
	notify    notify.Sink
	quota     Quota
	payments  PaymentValidator
	txTimeout time.Duration
	clock     func() time.Time
	newID     func() string
	logger    *zap.Logger
}

func NewWorkflow(deps Deps) (*Workflow, error) {
	if deps.Store == nil {
		return nil, errors.New("checkout: store is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("checkout: ledger is required")
	}
	w := &Workflow{
		store:     deps.Store,
		ledger:    deps.Ledger,
		history:   deps.History,
		notify:    deps.Notify,
		quota:     deps.Quota,
		payments:  deps.Payments,
		txTimeout: deps.TxTimeout,
		clock:     deps.Clock,
		newID:     deps.IDGenerator,
		logger:    deps.Logger,
	}
	if w.history == nil {
		w.history = inventory.NopHistory{}
	}
	if w.notify == nil {
		w.notify = notify.NopSink{}
	}
	if w.quota == nil {
		w.quota = StoreQuota{Reader: deps.Store, Limit: DefaultDailyLimit}
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.newID == nil {
		w.newID = NewOrderID
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// NewOrderID returns "ORD-" + a ULID: millisecond timestamp plus 80 random bits.
func NewOrderID() string {
	return orderIDPrefix + ulid.Make().String()
}

type Result struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Total     decimal.Decimal `json:"total_amount"`
	Discount  decimal.Decimal `json:"discount_amount"`
}

// CreateOrder checks out the customer's cart. Either the order, its items, reservations,
// payment and first history row all exist afterwards, or nothing does. Errors from the
// transaction are returned unchanged.
func (w *Workflow) CreateOrder(ctx context.Context, customerID string, pay orders.PaymentInfo) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.CreateOrder")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Result{}, fmt.Errorf("%w: customer id is required", orders.ErrInvalidInput)
	}
	if strings.TrimSpace(pay.Method) == "" {
		return Result{}, fmt.Errorf("%w: payment method is required", orders.ErrInvalidInput)
	}
	if w.payments != nil {
		if err := w.payments.Validate(ctx, pay); err != nil {
			return Result{}, err
		}
	}

	// cheap pre-check; the transaction re-reads the cart under lock
	cart, err := w.store.CartSnapshot(ctx, customerID)
	if err != nil {
		return Result{}, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		return Result{}, fmt.Errorf("%w: customer %s", orders.ErrEmptyCart, customerID)
	}
	if err := w.quota.Check(ctx, customerID, w.clock()); err != nil {
		return Result{}, err
	}

	if w.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.txTimeout)
		defer cancel()
	}

	var mvs []orders.Movement
	for attempt := 1; ; attempt++ {
		res, mvs, err = w.createInTx(ctx, customerID, pay)
		if err == nil || !errors.Is(err, orders.ErrOrderIDConflict) || attempt == maxIDAttempts {
			break
		}
		w.logger.Warn("order id collision, retrying", zap.String("customer_id", customerID), zap.Int("attempt", attempt))
	}
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("order.id", res.OrderID), attribute.Int("order.lines", len(mvs)))

	w.ledger.LogMovements(mvs)
	w.logger.Info("order created",
		zap.String("order_id", res.OrderID),
		zap.String("customer_id", customerID),
		zap.String("total", res.Total.StringFixed(2)))
	w.history.Record(ctx, mvs)
	w.notify.StatusChanged(context.WithoutCancel(ctx), orders.StatusEvent{
		OrderID:    res.OrderID,
		CustomerID: customerID,
		To:         orders.StatusPending,
		Notes:      pay.Notes,
		OccurredAt: w.clock().UTC(),
	})
	return res, nil
}

func (w *Workflow) createInTx(ctx context.Context, customerID string, pay orders.PaymentInfo) (Result, []orders.Movement, error) {
	var (
		res Result
		mvs []orders.Movement
	)
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		mvs = mvs[:0]
		cart, err := tx.LockCart(ctx, customerID)
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		if len(cart.Lines) == 0 {
			return fmt.Errorf("%w: customer %s", orders.ErrEmptyCart, customerID)
		}

		now := w.clock().UTC()
		order := orders.Order{
			ID:             w.newID(),
			CustomerID:     customerID,
			Status:         orders.StatusPending,
			TotalAmount:    cart.Total(),
			DiscountAmount: cart.Discount,
			CouponCode:     cart.CouponCode,
			Notes:          pay.Notes,
			OrderDate:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		// lock product rows in a fixed order so concurrent checkouts cannot deadlock
		lines := slices.Clone(cart.Lines)
		slices.SortStableFunc(lines, func(a, b orders.CartLine) int { return strings.Compare(a.ProductID, b.ProductID) })
		for _, l := range lines {
			if err := tx.InsertOrderItem(ctx, orders.OrderItem{
				OrderID:   order.ID,
				ProductID: l.ProductID,
				Qty:       l.Qty,
				UnitPrice: l.UnitPrice,
				Subtotal:  l.Subtotal(),
			}); err != nil {
				return err
			}
			mv, err := w.ledger.Reserve(ctx, tx, l.ProductID, l.Qty, order.ID)
			if err != nil {
				return err
			}
			mvs = append(mvs, mv)
		}

		if err := tx.AppendStatusHistory(ctx, orders.StatusHistory{
			OrderID: order.ID, Status: orders.StatusPending, Notes: "order placed", ActorID: customerID, CreatedAt: now,
		}); err != nil {
			return err
		}

		exists, err := tx.PaymentExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: order %s", orders.ErrDuplicatePayment, order.ID)
		}
		payment := orders.Payment{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			Method:          strings.TrimSpace(pay.Method),
			ReferenceNumber: pay.ReferenceNumber,
			AccountName:     pay.AccountName,
			Address:         pay.Address,
			CreatedAt:       now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		if err := tx.ClearCart(ctx, customerID); err != nil {
			return err
		}

		res = Result{OrderID: order.ID, PaymentID: payment.ID, Total: order.TotalAmount, Discount: order.DiscountAmount}
		return nil
	})
	if err != nil {
		return Result{}, nil, err
	}
	return res, mvs, nil
}
