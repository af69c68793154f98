package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStock is the ledger row for one product. Available = Stock - Reserved.
type ProductStock struct {
	ProductID string    `json:"product_id"`
	Stock     int       `json:"stock_quantity"`
	Reserved  int       `json:"reserved_quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p ProductStock) Available() int { return p.Stock - p.Reserved }

type Reservation struct {
	ProductID string
	OrderID   string
	Qty       int
	CreatedAt time.Time
}

type Order struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Status          Status          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Notes           string          `json:"notes"`
	CancelRequested bool            `json:"cancel_requested"`
	OrderDate       time.Time       `json:"order_date"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Qty       int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// StatusHistory is append-only; one row per transition plus the initial pending row.
type StatusHistory struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"status_date"`
}

type Payment struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"order_id"`
	Method          string    `json:"method"`
	ReferenceNumber string    `json:"reference_number"`
	AccountName     string    `json:"account_name"`
	Address         string    `json:"address"`
	CreatedAt       time.Time `json:"created_at"`
}

// PaymentInfo is what the customer submits at checkout.
type PaymentInfo struct {
	Method          string `json:"payment_method"`
	Address         string `json:"address"`
	Notes           string `json:"notes"`
	ReferenceNumber string `json:"reference_number"`
	AccountName     string `json:"account_name"`
}

type Shipment struct {
	OrderID   string          `json:"order_id"`
	Carrier   string          `json:"carrier"`
	Price     decimal.Decimal `json:"price"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

type RequestKind string

const (
	KindRefund RequestKind = "refund"
	KindReturn RequestKind = "return"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// AfterSalesRequest is a refund or return request. Sealed once resolved.
type AfterSalesRequest struct {
	ID            string        `json:"id"`
	Kind          RequestKind   `json:"kind"`
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	Reason        string        `json:"reason"`
	ContactNumber string        `json:"contact_number"`
	Status        RequestStatus `json:"status"`
	ResolvedBy    string        `json:"resolved_by"`
	AdminNotes    string        `json:"admin_notes"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}

type CartLine struct {
	ProductID string
	Qty       int
	UnitPrice decimal.Decimal
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Cart is a priced snapshot of a customer's cart. Discount is already validated upstream.
type Cart struct {
	CustomerID string
	Lines      []CartLine
	Discount   decimal.Decimal
	CouponCode string
}

func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// Total never goes below zero.
func (c Cart) Total() decimal.Decimal {
	t := c.Subtotal().Sub(c.Discount)
	if t.IsNegative() {
		return decimal.Zero
	}
	return t
}
