// Package aftersales handles refund and return requests: time-bounded eligibility
// after the anchoring status change, and admin approval or denial.
package aftersales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/lifecycle"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

const (
	DefaultRefundWindow = 14 * 24 * time.Hour
	DefaultReturnWindow = 3 * 24 * time.Hour
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-pipeline/internal/aftersales")

// policy binds a request kind to the status it starts from and the status approval reaches.
type policy struct {
	from   orders.Status
	to     orders.Status
	window time.Duration
}

type Deps struct {
	Store        orders.Store
	Machine      *lifecycle.StateMachine
	RefundWindow time.Duration
	ReturnWindow time.Duration
	TxTimeout    time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

type Window struct {
	store     orders.Store
	machine   *lifecycle.StateMachine
	policies  map[orders.RequestKind]policy
	txTimeout time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

func NewWindow(deps Deps) (*Window, error) {
	if deps.Store == nil {
		return nil, errors.New("aftersales: store is required")
	}
	if deps.Machine == nil {
		return nil, errors.New("aftersales: state machine is required")
	}
	refund, ret := deps.RefundWindow, deps.ReturnWindow
	if refund <= 0 {
		refund = DefaultRefundWindow
	}
	if ret <= 0 {
		ret = DefaultReturnWindow
	}
	w := &Window{
		store:   deps.Store,
		machine: deps.Machine,
		policies: map[orders.RequestKind]policy{
			orders.KindRefund: {from: orders.StatusCancelled, to: orders.StatusRefunded, window: refund},
			orders.KindReturn: {from: orders.StatusDelivered, to: orders.StatusReturned, window: ret},
		},
		txTimeout: deps.TxTimeout,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

func (w *Window) RequestRefund(ctx context.Context, orderID, customerID, reason, contact string) (orders.AfterSalesRequest, error) {
	return w.Request(ctx, orders.KindRefund, orderID, customerID, reason, contact)
}

func (w *Window) RequestReturn(ctx context.Context, orderID, customerID, reason, contact string) (orders.AfterSalesRequest, error) {
	return w.Request(ctx, orders.KindReturn, orderID, customerID, reason, contact)
}

func (w *Window) ApproveRefund(ctx context.Context, orderID, notes, actorID string) (orders.Order, error) {
	return w.Approve(ctx, orders.KindRefund, orderID, notes, actorID)
}

func (w *Window) ApproveReturn(ctx context.Context, orderID, notes, actorID string) (orders.Order, error) {
	return w.Approve(ctx, orders.KindReturn, orderID, notes, actorID)
}

func (w *Window) DenyRefund(ctx context.Context, orderID, notes, actorID string) (orders.AfterSalesRequest, error) {
	return w.Deny(ctx, orders.KindRefund, orderID, notes, actorID)
}

func (w *Window) DenyReturn(ctx context.Context, orderID, notes, actorID string) (orders.AfterSalesRequest, error) {
	return w.Deny(ctx, orders.KindReturn, orderID, notes, actorID)
}

// Request files a pending request of kind. The window is measured from the most recent
// history entry for the anchoring status; now - anchor must not exceed it.
func (w *Window) Request(ctx context.Context, kind orders.RequestKind, orderID, customerID, reason, contact string) (req orders.AfterSalesRequest, err error) {
	p, err := w.policy(kind)
	if err != nil {
		return orders.AfterSalesRequest{}, err
	}
	ctx, span := tracer.Start(ctx, "aftersales.Request")
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("request.kind", string(kind)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	err = w.store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: order %s is not available to customer %s", orders.ErrUnauthorized, orderID, customerID)
		}
		if err != nil {
			return err
		}
		if o.CustomerID != customerID {
			return fmt.Errorf("%w: order %s is not available to customer %s", orders.ErrUnauthorized, orderID, customerID)
		}
		if o.Status != p.from {
			return fmt.Errorf("%w: order %s is %s, %s needs %s", orders.ErrInvalidTransition, orderID, o.Status, kind, p.from)
		}

		_, err = tx.GetAfterSalesRequest(ctx, orderID, kind)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s request for order %s", orders.ErrDuplicateRequest, kind, orderID)
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}

		now := w.clock().UTC()
		anchor, ok, err := tx.LatestStatusAt(ctx, orderID, p.from)
		if err != nil {
			return err
		}
		if !ok {
			anchor = o.UpdatedAt
		}
		if now.Sub(anchor) > p.window {
			return fmt.Errorf("%w: order %s became %s at %s, %s window is %s",
				orders.ErrWindowExpired, orderID, p.from, anchor.Format(time.RFC3339), kind, p.window)
		}

		req = orders.AfterSalesRequest{
			ID:            uuid.NewString(),
			Kind:          kind,
			OrderID:       orderID,
			CustomerID:    customerID,
			Reason:        strings.TrimSpace(reason),
			ContactNumber: strings.TrimSpace(contact),
			Status:        orders.RequestPending,
			CreatedAt:     now,
		}
		return tx.InsertAfterSalesRequest(ctx, req)
	})
	if err != nil {
		return orders.AfterSalesRequest{}, err
	}
	w.logger.Info("after-sales request filed",
		zap.String("kind", string(kind)), zap.String("order_id", orderID), zap.String("customer_id", customerID))
	return req, nil
}

// Approve resolves the pending request and moves the order to the kind's terminal
// status in the same transaction. The order status is re-checked at approval time.
func (w *Window) Approve(ctx context.Context, kind orders.RequestKind, orderID, notes, actorID string) (orders.Order, error) {
	p, err := w.policy(kind)
	if err != nil {
		return orders.Order{}, err
	}
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	var eff lifecycle.Effect
	err = w.store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		req, err := w.pendingRequest(ctx, tx, kind, orderID)
		if err != nil {
			return err
		}
		if o.Status != p.from {
			return fmt.Errorf("%w: order %s is %s, %s approval needs %s", orders.ErrInvalidTransition, orderID, o.Status, kind, p.from)
		}

		if err := w.resolve(ctx, tx, req, orders.RequestApproved, notes, actorID); err != nil {
			return err
		}
		eff, err = w.machine.TransitionInTx(ctx, tx, lifecycle.Change{
			OrderID: orderID, Target: p.to, Notes: notes, ActorID: actorID,
		})
		return err
	})
	if err != nil {
		return orders.Order{}, err
	}
	w.machine.Emit(ctx, eff)
	return eff.Order, nil
}

// Deny seals the pending request. The order is untouched.
func (w *Window) Deny(ctx context.Context, kind orders.RequestKind, orderID, notes, actorID string) (orders.AfterSalesRequest, error) {
	if _, err := w.policy(kind); err != nil {
		return orders.AfterSalesRequest{}, err
	}
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	var out orders.AfterSalesRequest
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if _, err := tx.GetOrderForUpdate(ctx, orderID); err != nil {
			return err
		}
		req, err := w.pendingRequest(ctx, tx, kind, orderID)
		if err != nil {
			return err
		}
		if err := w.resolve(ctx, tx, req, orders.RequestDenied, notes, actorID); err != nil {
			return err
		}
		out, err = tx.GetAfterSalesRequest(ctx, orderID, kind)
		return err
	})
	if err != nil {
		return orders.AfterSalesRequest{}, err
	}
	w.logger.Info("after-sales request denied",
		zap.String("kind", string(kind)), zap.String("order_id", orderID), zap.String("actor_id", actorID))
	return out, nil
}

func (w *Window) pendingRequest(ctx context.Context, tx orders.Tx, kind orders.RequestKind, orderID string) (orders.AfterSalesRequest, error) {
	req, err := tx.GetAfterSalesRequest(ctx, orderID, kind)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.AfterSalesRequest{}, fmt.Errorf("%w: no %s request for order %s", orders.ErrNoPendingRequest, kind, orderID)
	}
	if err != nil {
		return orders.AfterSalesRequest{}, err
	}
	if req.Status != orders.RequestPending {
		return orders.AfterSalesRequest{}, fmt.Errorf("%w: %s request for order %s is %s", orders.ErrNoPendingRequest, kind, orderID, req.Status)
	}
	return req, nil
}

func (w *Window) resolve(ctx context.Context, tx orders.Tx, req orders.AfterSalesRequest, st orders.RequestStatus, notes, actorID string) error {
	now := w.clock().UTC()
	req.Status = st
	req.ResolvedBy = actorID
	req.AdminNotes = notes
	req.ResolvedAt = &now
	return tx.UpdateAfterSalesRequest(ctx, req)
}

func (w *Window) policy(kind orders.RequestKind) (policy, error) {
	p, ok := w.policies[kind]
	if !ok {
		return policy{}, fmt.Errorf("%w: unknown request kind %q", orders.ErrInvalidInput, kind)
	}
	return p, nil
}

func (w *Window) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.txTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.txTimeout)
}
