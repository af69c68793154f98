package orders

import (
	"context"
	"time"
)

// Tx is the transaction scope every write in the order pipeline runs against.
// Implementations must roll back all writes when the RunInTx body returns an error.
type Tx interface {
	// LockProductStock reads the ledger row and holds an exclusive lock on it
	// until the transaction ends. Returns ErrNotFound for unknown products.
	LockProductStock(ctx context.Context, productID string) (ProductStock, error)
	UpdateProductStock(ctx context.Context, p ProductStock) error

	InsertReservation(ctx context.Context, r Reservation) error
	ReservationsForOrder(ctx context.Context, orderID string) ([]Reservation, error)
	DeleteReservations(ctx context.Context, orderID string) error

	// InsertOrder returns ErrOrderIDConflict when the id is already taken.
	InsertOrder(ctx context.Context, o Order) error
	InsertOrderItem(ctx context.Context, it OrderItem) error
	// GetOrderForUpdate locks the order row for the rest of the transaction.
	GetOrderForUpdate(ctx context.Context, orderID string) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	AppendStatusHistory(ctx context.Context, h StatusHistory) error
	// LatestStatusAt returns when the order most recently entered status.
	LatestStatusAt(ctx context.Context, orderID string, status Status) (time.Time, bool, error)

	PaymentExists(ctx context.Context, orderID string) (bool, error)
	InsertPayment(ctx context.Context, p Payment) error
	InsertShipment(ctx context.Context, s Shipment) error

	// LockCart reads the customer's cart and holds it until the transaction ends, so
	// concurrent checkouts of one cart serialize and the later one sees it cleared.
	LockCart(ctx context.Context, customerID string) (Cart, error)
	ClearCart(ctx context.Context, customerID string) error

	// GetAfterSalesRequest returns ErrNotFound when no request of kind exists for the order.
	GetAfterSalesRequest(ctx context.Context, orderID string, kind RequestKind) (AfterSalesRequest, error)
	// InsertAfterSalesRequest returns ErrDuplicateRequest on (order, kind) collision.
	InsertAfterSalesRequest(ctx context.Context, r AfterSalesRequest) error
	UpdateAfterSalesRequest(ctx context.Context, r AfterSalesRequest) error
}

// Reader is the non-transactional accessor for read-only helpers outside a workflow.
type Reader interface {
	CartSnapshot(ctx context.Context, customerID string) (Cart, error)
	CountOrdersSince(ctx context.Context, customerID string, since time.Time) (int, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	OrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	OrderHistory(ctx context.Context, orderID string) ([]StatusHistory, error)
	ProductStock(ctx context.Context, productID string) (ProductStock, error)
}

// Store owns the connection resources; it is constructed once and passed to the workflow layer.
type Store interface {
	Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
