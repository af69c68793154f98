package inventory

import (
	"context"

	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

// History receives committed ledger movements. It is a best-effort side channel:
// implementations must not block and their failures never reach the caller.
type History interface {
	Record(ctx context.Context, mvs []orders.Movement)
}

// NopHistory discards movements.
type NopHistory struct{}

func (NopHistory) Record(context.Context, []orders.Movement) {}

// KafkaHistory publishes each movement as an InventoryMovement envelope.
type KafkaHistory struct {
	Producer    *kafkax.Producer
	ServiceName string
	Logger      *zap.Logger
}

func (h *KafkaHistory) Record(ctx context.Context, mvs []orders.Movement) {
	for _, mv := range mvs {
		ev, err := orders.NewEnvelope(orders.EventInventoryMovement, h.ServiceName, mv.OrderID, mv.OccurredAt, mv)
		if err != nil {
			h.logger().Warn("inventory history encode", zap.String("order_id", mv.OrderID), zap.Error(err))
			continue
		}
		if !h.Producer.Publish(orders.PartitionKey(mv.OrderID), kafkax.MustMarshal(ev), kafkax.EventHeaders(orders.EventInventoryMovement)...) {
			h.logger().Warn("inventory history dropped",
				zap.String("order_id", mv.OrderID), zap.String("product_id", mv.ProductID), zap.String("kind", string(mv.Kind)))
		}
	}
}

func (h *KafkaHistory) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
