package worker

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	kafkax "github.com/ariefcatur/go-order-pipeline/internal/kafka"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

type recordSink struct{ events []orders.StatusEvent }

func (s *recordSink) StatusChanged(_ context.Context, ev orders.StatusEvent) {
	s.events = append(s.events, ev)
}

func message(t *testing.T, eventType string, payload any) kafka.Message {
	t.Helper()
	env, err := orders.NewEnvelope(eventType, "order-api", "ORD-1", time.Now(), payload)
	require.NoError(t, err)
	return kafka.Message{Value: kafkax.MustMarshal(env), Headers: kafkax.EventHeaders(eventType)}
}

func TestStatusHandlerRefreshesCache(t *testing.T) {
	sink := &recordSink{}
	h := &Handlers{Cache: sink}

	err := h.Status(context.Background(), message(t, orders.EventOrderStatusChanged, orders.StatusEvent{
		OrderID: "ORD-1", From: orders.StatusShipping, To: orders.StatusDelivered,
	}))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, orders.StatusDelivered, sink.events[0].To)
}

func TestHandlersSkipForeignAndMalformed(t *testing.T) {
	sink := &recordSink{}
	h := &Handlers{Cache: sink}
	ctx := context.Background()

	require.NoError(t, h.Status(ctx, message(t, orders.EventInventoryMovement, orders.Movement{})))
	require.NoError(t, h.Status(ctx, kafka.Message{Value: []byte("not json")}))
	require.NoError(t, h.History(ctx, message(t, orders.EventOrderStatusChanged, orders.StatusEvent{})))
	assert.Empty(t, sink.events)
}

func TestHistoryHandlerLogsMovement(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := &Handlers{Logger: zap.New(core)}

	err := h.History(context.Background(), message(t, orders.EventInventoryMovement, orders.Movement{
		Kind: orders.MovementReserve, ProductID: "P1", OrderID: "ORD-1", Qty: 2,
		OldAvailable: 5, NewAvailable: 3, OldReserved: 0, NewReserved: 2,
	}))
	require.NoError(t, err)

	entries := logs.FilterMessage("inventory history").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "reserve", fields["kind"])
	assert.Equal(t, "P1", fields["product_id"])
	assert.Equal(t, int64(3), fields["new_available"])
}
