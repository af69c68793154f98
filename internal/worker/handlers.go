// Package worker consumes the order pipeline's side-channel topics.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/notify"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/redisx"
)

// Handlers turns envelopes into cache refreshes and audit lines. Dedup is optional;
// without it redeliveries are processed again, which both handlers tolerate.
type Handlers struct {
	Cache   notify.Sink
	Dedup   redis.Cmdable
	Service string
	Logger  *zap.Logger
}

// Status refreshes the status cache from OrderStatusChanged envelopes.
func (h *Handlers) Status(ctx context.Context, m kafka.Message) error {
	env, skip, err := h.open(ctx, m, orders.EventOrderStatusChanged)
	if err != nil || skip {
		return err
	}
	ev, err := kafkax.UnwrapPayload[orders.StatusEvent](env.Payload)
	if err != nil {
		h.logger().Warn("status event malformed", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if h.Cache != nil {
		h.Cache.StatusChanged(ctx, ev)
	}
	h.logger().Info("order status event",
		zap.String("order_id", ev.OrderID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.Time("occurred_at", ev.OccurredAt))
	h.mark(ctx, env.EventID)
	return nil
}

// History writes one audit line per InventoryMovement envelope.
func (h *Handlers) History(ctx context.Context, m kafka.Message) error {
	env, skip, err := h.open(ctx, m, orders.EventInventoryMovement)
	if err != nil || skip {
		return err
	}
	mv, err := kafkax.UnwrapPayload[orders.Movement](env.Payload)
	if err != nil {
		h.logger().Warn("movement event malformed", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	h.logger().Info("inventory history",
		zap.String("kind", string(mv.Kind)),
		zap.String("product_id", mv.ProductID),
		zap.String("order_id", mv.OrderID),
		zap.Int("qty", mv.Qty),
		zap.Int("old_available", mv.OldAvailable),
		zap.Int("new_available", mv.NewAvailable),
		zap.Int("old_reserved", mv.OldReserved),
		zap.Int("new_reserved", mv.NewReserved),
		zap.Int("old_stock", mv.OldStock),
		zap.Int("new_stock", mv.NewStock),
		zap.Time("occurred_at", mv.OccurredAt))
	h.mark(ctx, env.EventID)
	return nil
}

// open decodes the envelope. Poison messages are logged and skipped so they do not
// block the partition; only dedup store failures are retried.
func (h *Handlers) open(ctx context.Context, m kafka.Message, want string) (orders.Envelope, bool, error) {
	if t := kafkax.Header(m, "x-event-type"); t != "" && t != want {
		return orders.Envelope{}, true, nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		h.logger().Warn("envelope malformed", zap.Int64("offset", m.Offset), zap.Error(err))
		return orders.Envelope{}, true, nil
	}
	if env.EventType != want {
		return orders.Envelope{}, true, nil
	}
	if h.Dedup == nil || env.EventID == "" {
		return env, false, nil
	}
	seen, err := redisx.Exists(ctx, h.Dedup, h.dedupKey(env.EventID))
	if err != nil {
		return orders.Envelope{}, false, fmt.Errorf("dedup lookup: %w", err)
	}
	return env, seen, nil
}

func (h *Handlers) mark(ctx context.Context, eventID string) {
	if h.Dedup == nil || eventID == "" {
		return
	}
	if _, err := redisx.MarkOnce(ctx, h.Dedup, h.dedupKey(eventID), redisx.TTLDedup); err != nil {
		h.logger().Warn("dedup mark", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (h *Handlers) dedupKey(eventID string) string {
	return fmt.Sprintf(redisx.KeyDedup, h.Service, eventID)
}

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
