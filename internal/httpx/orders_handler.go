package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-pipeline/internal/aftersales"
	"github.com/ariefcatur/go-order-pipeline/internal/checkout"
	"github.com/ariefcatur/go-order-pipeline/internal/lifecycle"
	"github.com/ariefcatur/go-order-pipeline/internal/notify"
	"github.com/ariefcatur/go-order-pipeline/internal/observability"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
)

const (
	headerCustomerID     = "X-Customer-Id"
	headerActorID        = "X-Actor-Id"
	headerIdempotencyKey = "Idempotency-Key"
)

// IdempotencyGuard short-circuits replayed checkouts. redisx.Idempotency implements it.
type IdempotencyGuard interface {
	Begin(ctx context.Context, customerID, key string) (string, error)
	Complete(ctx context.Context, customerID, key, orderID string) error
	Abort(ctx context.Context, customerID, key string) error
}

// StatusCache is the read-through cache behind GET /orders/{id}/status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (notify.CachedStatus, bool)
	Put(ctx context.Context, cs notify.CachedStatus)
}

// OrdersHandler exposes the order operations. Idempotency and Cache are optional.
type OrdersHandler struct {
	Checkout    *checkout.Workflow
	Machine     *lifecycle.StateMachine
	AfterSales  *aftersales.Window
	Reader      orders.Reader
	Idempotency IdempotencyGuard
	Cache       StatusCache
}

type CreateOrderResp struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id,omitempty"`
	Total      string `json:"total_amount,omitempty"`
	Idempotent bool   `json:"idempotent"`
}

type OrderResp struct {
	Order   orders.Order           `json:"order"`
	Items   []orders.OrderItem     `json:"items"`
	History []orders.StatusHistory `json:"history"`
}

type ChangeStatusReq struct {
	Status   orders.Status           `json:"status"`
	Notes    string                  `json:"notes"`
	Shipping *lifecycle.ShippingInfo `json:"shipping,omitempty"`
}

type NotesReq struct {
	Notes string `json:"notes"`
}

type AfterSalesReq struct {
	Reason        string `json:"reason"`
	ContactNumber string `json:"contact_number"`
}

type StockResp struct {
	ProductID string    `json:"product_id"`
	Stock     int       `json:"stock_quantity"`
	Reserved  int       `json:"reserved_quantity"`
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/status", h.changeStatus)
	r.Post("/orders/{id}/cancel-request", h.requestCancel)
	r.Post("/orders/{id}/cancel/approve", h.approveCancel)
	r.Post("/orders/{id}/refund", h.requestAfterSales(orders.KindRefund))
	r.Post("/orders/{id}/refund/approve", h.approveAfterSales(orders.KindRefund))
	r.Post("/orders/{id}/refund/deny", h.denyAfterSales(orders.KindRefund))
	r.Post("/orders/{id}/return", h.requestAfterSales(orders.KindReturn))
	r.Post("/orders/{id}/return/approve", h.approveAfterSales(orders.KindReturn))
	r.Post("/orders/{id}/return/deny", h.denyAfterSales(orders.KindReturn))
	r.Get("/products/{id}/stock", h.getStock)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireHeader(w, r, headerCustomerID)
	if !ok {
		return
	}
	var req orders.PaymentInfo
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	logger := observability.FromContext(ctx)
	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if idemKey != "" && h.Idempotency != nil {
		existing, err := h.Idempotency.Begin(ctx, customerID, idemKey)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		case err != nil:
			// Redis down: the database still guards correctness, carry on without the shortcut
			logger.Warn("idempotency begin", zap.Error(err))
			idemKey = ""
		case existing != "":
			writeJSON(w, http.StatusOK, CreateOrderResp{OrderID: existing, Idempotent: true})
			return
		}
	} else {
		idemKey = ""
	}

	res, err := h.Checkout.CreateOrder(ctx, customerID, req)
	if err != nil {
		if idemKey != "" {
			if aerr := h.Idempotency.Abort(context.WithoutCancel(ctx), customerID, idemKey); aerr != nil {
				logger.Warn("idempotency abort", zap.Error(aerr))
			}
		}
		writeError(w, r, err)
		return
	}
	if idemKey != "" {
		if cerr := h.Idempotency.Complete(context.WithoutCancel(ctx), customerID, idemKey, res.OrderID); cerr != nil {
			logger.Warn("idempotency complete", zap.String("order_id", res.OrderID), zap.Error(cerr))
		}
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:   res.OrderID,
		PaymentID: res.PaymentID,
		Total:     res.Total.StringFixed(2),
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	o, err := h.Reader.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.Reader.OrderItems(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hist, err := h.Reader.OrderHistory(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderResp{Order: o, Items: items, History: hist})
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if h.Cache != nil {
		if cs, ok := h.Cache.Get(ctx, id); ok {
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}
	o, err := h.Reader.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cs := notify.CachedStatus{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if h.Cache != nil {
		h.Cache.Put(ctx, cs)
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireHeader(w, r, headerActorID)
	if !ok {
		return
	}
	var req ChangeStatusReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Machine.ChangeStatus(r.Context(), lifecycle.Change{
		OrderID:  chi.URLParam(r, "id"),
		Target:   req.Status,
		Notes:    req.Notes,
		ActorID:  actorID,
		Shipping: req.Shipping,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) requestCancel(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireHeader(w, r, headerCustomerID)
	if !ok {
		return
	}
	var req NotesReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Machine.RequestCancel(r.Context(), id, customerID, req.Notes); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("cancel request for order %s recorded", id),
	})
}

func (h *OrdersHandler) approveCancel(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireHeader(w, r, headerActorID)
	if !ok {
		return
	}
	var req NotesReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Machine.ApproveCancel(r.Context(), chi.URLParam(r, "id"), req.Notes, actorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) requestAfterSales(kind orders.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := requireHeader(w, r, headerCustomerID)
		if !ok {
			return
		}
		var req AfterSalesReq
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := h.AfterSales.Request(r.Context(), kind, chi.URLParam(r, "id"), customerID, req.Reason, req.ContactNumber)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func (h *OrdersHandler) approveAfterSales(kind orders.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := requireHeader(w, r, headerActorID)
		if !ok {
			return
		}
		var req NotesReq
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		o, err := h.AfterSales.Approve(r.Context(), kind, chi.URLParam(r, "id"), req.Notes, actorID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func (h *OrdersHandler) denyAfterSales(kind orders.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := requireHeader(w, r, headerActorID)
		if !ok {
			return
		}
		var req NotesReq
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := h.AfterSales.Deny(r.Context(), kind, chi.URLParam(r, "id"), req.Notes, actorID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *OrdersHandler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Reader.ProductStock(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StockResp{
		ProductID: p.ProductID,
		Stock:     p.Stock,
		Reserved:  p.Reserved,
		Available: p.Available(),
		UpdatedAt: p.UpdatedAt,
	})
}

func requireHeader(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + name + " header"})
		return "", false
	}
	return v, true
}
