// Package lifecycle owns order status transitions and customer cancel requests.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/inventory"
	"github.com/ariefcatur/go-order-pipeline/internal/notify"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-pipeline/internal/lifecycle")

// ShippingInfo is recorded on processing -> shipping.
type ShippingInfo struct {
	Carrier   string          `json:"carrier"`
	Price     decimal.Decimal `json:"price"`
	Reference string          `json:"reference"`
}

// Change describes one requested transition.
type Change struct {
	OrderID  string
	Target   orders.Status
	Notes    string
	ActorID  string
	Shipping *ShippingInfo
}

// Effect is what a committed transition must announce. It is produced inside the
// transaction and handed to Emit only after commit.
type Effect struct {
	Order     orders.Order
	From      orders.Status
	Movements []orders.Movement
	Notes     string
	ActorID   string
}

type Deps struct {
	Store     orders.Store
	Ledger    *inventory.Ledger
	History   inventory.History
	Notify    notify.Sink
	TxTimeout time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

type StateMachine struct {
	store     orders.Store
	ledger    *inventory.Ledger
	history   inventory.History
	notify    notify.Sink
	txTimeout time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

func NewStateMachine(deps Deps) (*StateMachine, error) {
	if deps.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("lifecycle: ledger is required")
	}
	m := &StateMachine{
		store:     deps.Store,
		ledger:    deps.Ledger,
		history:   deps.History,
		notify:    deps.Notify,
		txTimeout: deps.TxTimeout,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if m.history == nil {
		m.history = inventory.NopHistory{}
	}
	if m.notify == nil {
		m.notify = notify.NopSink{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

// Now is the clock the machine stamps history rows with.
func (m *StateMachine) Now() time.Time { return m.clock().UTC() }

// ChangeStatus is the admin transition. Edges into refunded and returned are only
// reachable through an approved after-sales request and are rejected here.
func (m *StateMachine) ChangeStatus(ctx context.Context, c Change) (order orders.Order, err error) {
	ctx, span := m.startSpan(ctx, "lifecycle.ChangeStatus", c.OrderID)
	defer endSpan(span, &err)
	span.SetAttributes(attribute.String("order.target_status", string(c.Target)))

	if !c.Target.Valid() {
		return orders.Order{}, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidInput, c.Target)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var eff Effect
	err = m.store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if c.Target == orders.StatusRefunded || c.Target == orders.StatusReturned {
			o, err := tx.GetOrderForUpdate(ctx, c.OrderID)
			if err != nil {
				return err
			}
			if err := checkEdge(o, c.Target); err != nil {
				return err
			}
			return fmt.Errorf("%w: order %s: %s -> %s requires an approved after-sales request",
				orders.ErrInvalidTransition, o.ID, o.Status, c.Target)
		}
		var err error
		eff, err = m.TransitionInTx(ctx, tx, c)
		return err
	})
	if err != nil {
		return orders.Order{}, err
	}
	m.Emit(ctx, eff)
	return eff.Order, nil
}

// ApproveCancel consumes the pending -> cancelled edge for an order whose customer
// flagged a cancel request.
func (m *StateMachine) ApproveCancel(ctx context.Context, orderID, notes, actorID string) (orders.Order, error) {
	return m.ChangeStatus(ctx, Change{OrderID: orderID, Target: orders.StatusCancelled, Notes: notes, ActorID: actorID})
}

// TransitionInTx validates and applies c inside tx: the edge side effect, the status
// write and the history row. Callers must pass the returned Effect to Emit after
// commit. It does not gate the after-sales edges; callers reaching refunded or
// returned must have checked the request themselves.
func (m *StateMachine) TransitionInTx(ctx context.Context, tx orders.Tx, c Change) (Effect, error) {
	o, err := tx.GetOrderForUpdate(ctx, c.OrderID)
	if err != nil {
		return Effect{}, err
	}
	if err := checkEdge(o, c.Target); err != nil {
		return Effect{}, err
	}

	from := o.Status
	var mvs []orders.Movement
	switch {
	case from == orders.StatusPending && c.Target == orders.StatusProcessing:
		mvs, err = m.ledger.Deduct(ctx, tx, o.ID)
	case from == orders.StatusPending && c.Target == orders.StatusCancelled:
		if !o.CancelRequested {
			return Effect{}, fmt.Errorf("%w: order %s", orders.ErrNoCancelRequest, o.ID)
		}
		mvs, err = m.ledger.Release(ctx, tx, o.ID)
	case from == orders.StatusProcessing && c.Target == orders.StatusShipping && c.Shipping != nil:
		err = m.recordShipment(ctx, tx, o.ID, *c.Shipping)
	}
	if err != nil {
		return Effect{}, err
	}

	now := m.Now()
	o.Status = c.Target
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return Effect{}, err
	}
	if err := tx.AppendStatusHistory(ctx, orders.StatusHistory{
		OrderID: o.ID, Status: c.Target, Notes: c.Notes, ActorID: c.ActorID, CreatedAt: now,
	}); err != nil {
		return Effect{}, err
	}
	return Effect{Order: o, From: from, Movements: mvs, Notes: c.Notes, ActorID: c.ActorID}, nil
}

// Emit announces a committed transition. It never fails.
func (m *StateMachine) Emit(ctx context.Context, eff Effect) {
	if eff.Order.ID == "" {
		return
	}
	m.ledger.LogMovements(eff.Movements)
	m.logger.Info("order status changed",
		zap.String("order_id", eff.Order.ID),
		zap.String("from", string(eff.From)),
		zap.String("to", string(eff.Order.Status)),
		zap.String("actor_id", eff.ActorID))
	ctx = context.WithoutCancel(ctx)
	m.history.Record(ctx, eff.Movements)
	m.notify.StatusChanged(ctx, orders.StatusEvent{
		OrderID:    eff.Order.ID,
		CustomerID: eff.Order.CustomerID,
		From:       eff.From,
		To:         eff.Order.Status,
		ActorID:    eff.ActorID,
		Notes:      eff.Notes,
		OccurredAt: eff.Order.UpdatedAt,
	})
}

// RequestCancel flags the customer's intent to cancel. It does not change status.
func (m *StateMachine) RequestCancel(ctx context.Context, orderID, customerID, notes string) (err error) {
	ctx, span := m.startSpan(ctx, "lifecycle.RequestCancel", orderID)
	defer endSpan(span, &err)

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	err = m.store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.CustomerID != customerID {
			return fmt.Errorf("%w: order %s does not belong to customer %s", orders.ErrUnauthorized, orderID, customerID)
		}
		if !o.Status.Cancellable() {
			return fmt.Errorf("%w: order %s is %s", orders.ErrTerminalState, orderID, o.Status)
		}
		if o.CancelRequested {
			return fmt.Errorf("%w: order %s", orders.ErrDuplicateCancelRequest, orderID)
		}

		now := m.Now()
		o.CancelRequested = true
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		return tx.AppendStatusHistory(ctx, orders.StatusHistory{
			OrderID: orderID, Status: orders.StatusCancelRequested, Notes: notes, ActorID: customerID, CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	m.logger.Info("cancel requested", zap.String("order_id", orderID), zap.String("customer_id", customerID))
	return nil
}

func (m *StateMachine) recordShipment(ctx context.Context, tx orders.Tx, orderID string, s ShippingInfo) error {
	if s.Price.IsNegative() {
		return fmt.Errorf("%w: negative shipping price for order %s", orders.ErrInvalidInput, orderID)
	}
	return tx.InsertShipment(ctx, orders.Shipment{
		OrderID:   orderID,
		Carrier:   strings.TrimSpace(s.Carrier),
		Price:     s.Price,
		Reference: strings.TrimSpace(s.Reference),
		CreatedAt: m.Now(),
	})
}

// withTimeout bounds ctx by the configured transaction timeout.
func (m *StateMachine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.txTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.txTimeout)
}

func (m *StateMachine) startSpan(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("order.id", orderID))
	return ctx, span
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// checkEdge rejects same-status and off-graph transitions, naming both statuses.
func checkEdge(o orders.Order, target orders.Status) error {
	if o.Status == target {
		return fmt.Errorf("%w: order %s is already %s", orders.ErrAlreadyInStatus, o.ID, target)
	}
	if !orders.CanTransition(o.Status, target) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s", orders.ErrInvalidTransition, o.ID, o.Status, target)
	}
	return nil
}
