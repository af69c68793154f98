package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventInventoryMovement  = "InventoryMovement"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// StatusEvent is emitted after a transition commits. Initial creation is reported as
// an event with an empty From.
type StatusEvent struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
	ActorID    string    `json:"actor_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type MovementKind string

const (
	MovementReserve MovementKind = "reserve"
	MovementDeduct  MovementKind = "deduct"
	MovementRelease MovementKind = "release"
)

// Movement is one ledger change, reported to the inventory history side channel.
type Movement struct {
	Kind         MovementKind `json:"kind"`
	ProductID    string       `json:"product_id"`
	OrderID      string       `json:"order_id"`
	Qty          int          `json:"qty"`
	OldAvailable int          `json:"old_available"`
	NewAvailable int          `json:"new_available"`
	OldReserved  int          `json:"old_reserved"`
	NewReserved  int          `json:"new_reserved"`
	OldStock     int          `json:"old_stock"`
	NewStock     int          `json:"new_stock"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// NewEnvelope wraps payload in a v1 envelope keyed by the order id.
func NewEnvelope(eventType, producer, orderID string, occurredAt time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    occurredAt.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}
