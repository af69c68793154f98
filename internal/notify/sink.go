// Package notify delivers committed order status changes to the outside world.
// Nothing here can fail an order operation: errors are logged and dropped.
package notify

import (
	"context"

	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

type Sink interface {
	StatusChanged(ctx context.Context, ev orders.StatusEvent)
}

type NopSink struct{}

func (NopSink) StatusChanged(context.Context, orders.StatusEvent) {}

// KafkaSink publishes OrderStatusChanged envelopes keyed by order id.
type KafkaSink struct {
	Producer    *kafkax.Producer
	ServiceName string
	Logger      *zap.Logger
}

func (s *KafkaSink) StatusChanged(ctx context.Context, ev orders.StatusEvent) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := orders.NewEnvelope(orders.EventOrderStatusChanged, s.ServiceName, ev.OrderID, ev.OccurredAt, ev)
	if err != nil {
		logger.Warn("status event encode", zap.String("order_id", ev.OrderID), zap.Error(err))
		return
	}
	if !s.Producer.Publish(orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env), kafkax.EventHeaders(orders.EventOrderStatusChanged)...) {
		logger.Warn("status event dropped", zap.String("order_id", ev.OrderID), zap.String("status", string(ev.To)))
	}
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) StatusChanged(ctx context.Context, ev orders.StatusEvent) {
	for _, s := range m {
		s.StatusChanged(ctx, ev)
	}
}
