package checkout_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-pipeline/internal/checkout"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/testkit"
)

var pay = orders.PaymentInfo{Method: "bank_transfer", Address: "Jl. Merdeka 1", ReferenceNumber: "TRX-1", AccountName: "Budi"}

func TestCreateOrderReservesAndClearsCart(t *testing.T) {
	p := testkit.NewPipeline(t)
	p.Store.PutProduct("P1", 5, 0)
	p.Store.PutProduct("P2", 1, 0)
	p.Store.PutCart(orders.Cart{
		CustomerID: "C1",
		Lines:      []orders.CartLine{testkit.Line("P2", 1, 25), testkit.Line("P1", 3, 10)},
		Discount:   decimal.NewFromInt(5),
		CouponCode: "HEMAT5",
	})

	res, err := p.Checkout.CreateOrder(context.Background(), "C1", pay)
	require.NoError(t, err)
	assert.Regexp(t, `^ORD-[0-9A-Z]{26}$`, res.OrderID)
	assert.NotEmpty(t, res.PaymentID)
	assert.True(t, decimal.NewFromInt(50).Equal(res.Total), res.Total.String())

	assert.Equal(t, 3, p.Stock(t, "P1").Reserved)
	assert.Equal(t, 1, p.Stock(t, "P2").Reserved)
	assert.Equal(t, 5, p.Stock(t, "P1").Stock)
	p.RequireLedgerConsistent(t)

	cart, err := p.Store.CartSnapshot(context.Background(), "C1")
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	o := p.Order(t, res.OrderID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "HEMAT5", o.CouponCode)
	assert.True(t, decimal.NewFromInt(5).Equal(o.DiscountAmount))
	assert.Equal(t, testkit.Epoch, o.OrderDate)

	items, err := p.Store.OrderItems(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "P1", items[0].ProductID)
	assert.True(t, decimal.NewFromInt(30).Equal(items[0].Subtotal))

	assert.Equal(t, []orders.Status{orders.StatusPending}, p.Statuses(t, res.OrderID))

	payment, ok := p.Store.Payment(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, res.PaymentID, payment.ID)
	assert.Equal(t, "bank_transfer", payment.Method)
	assert.Equal(t, "TRX-1", payment.ReferenceNumber)

	events := p.Sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, orders.StatusPending, events[0].To)
	assert.Empty(t, events[0].From)
	assert.Len(t, p.History.Movements(), 2)
}

func TestCreateOrderInsufficientStockRollsBack(t *testing.T) {
	p := testkit.NewPipeline(t)
	p.Store.PutProduct("P1", 5, 0)
	p.Store.PutProduct("P2", 0, 0)
	p.PutCart("C1", testkit.Line("P1", 3, 10), testkit.Line("P2", 1, 25))

	_, err := p.Checkout.CreateOrder(context.Background(), "C1", pay)
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "P2")

	assert.Equal(t, 0, p.Stock(t, "P1").Reserved)
	assert.Empty(t, p.Store.Reservations())
	n, err := p.Store.CountOrdersSince(context.Background(), "C1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)

	cart, err := p.Store.CartSnapshot(context.Background(), "C1")
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2, "cart survives a failed checkout")
	assert.Empty(t, p.Sink.Events())
	assert.Empty(t, p.History.Movements())
}

func TestCreateOrderValidation(t *testing.T) {
	p := testkit.NewPipeline(t)
	ctx := context.Background()

	_, err := p.Checkout.CreateOrder(ctx, "C1", pay)
	require.ErrorIs(t, err, orders.ErrEmptyCart)

	_, err = p.Checkout.CreateOrder(ctx, " ", pay)
	require.ErrorIs(t, err, orders.ErrInvalidInput)

	p.Store.PutProduct("P1", 5, 0)
	p.PutCart("C1", testkit.Line("P1", 1, 10))
	_, err = p.Checkout.CreateOrder(ctx, "C1", orders.PaymentInfo{})
	require.ErrorIs(t, err, orders.ErrInvalidInput)

	p.PutCart("C1", testkit.Line("P1", 0, 10))
	_, err = p.Checkout.CreateOrder(ctx, "C1", pay)
	require.ErrorIs(t, err, orders.ErrInvalidInput)
	assert.Equal(t, 0, p.Stock(t, "P1").Reserved)
}

func TestCreateOrderDailyLimit(t *testing.T) {
	p := testkit.NewPipeline(t, testkit.WithDailyLimit(2))
	p.Store.PutProduct("P1", 100, 0)

	p.PlaceOrder(t, "C1", testkit.Line("P1", 1, 10))
	p.PlaceOrder(t, "C1", testkit.Line("P1", 1, 10))

	p.PutCart("C1", testkit.Line("P1", 1, 10))
	_, err := p.Checkout.CreateOrder(context.Background(), "C1", pay)
	require.ErrorIs(t, err, orders.ErrRateLimited)

	// another customer is unaffected
	p.PlaceOrder(t, "C2", testkit.Line("P1", 1, 10))

	// the count resets at the start of the next UTC day
	p.Clock.Set(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	_, err = p.Checkout.CreateOrder(context.Background(), "C1", pay)
	require.NoError(t, err)
}

func TestStoreQuotaDisabled(t *testing.T) {
	q := checkout.StoreQuota{Limit: 0}
	require.NoError(t, q.Check(context.Background(), "C1", time.Now()))
}

func TestCreateOrderRetriesOnIDCollision(t *testing.T) {
	ids := []string{"ORD-DUP", "ORD-DUP", "ORD-FRESH"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
	p := testkit.NewPipeline(t, testkit.WithIDs(next))
	p.Store.PutProduct("P1", 10, 0)

	first := p.PlaceOrder(t, "C1", testkit.Line("P1", 1, 10))
	require.Equal(t, "ORD-DUP", first)

	second := p.PlaceOrder(t, "C2", testkit.Line("P1", 2, 10))
	assert.Equal(t, "ORD-FRESH", second)
	assert.Equal(t, 3, p.Stock(t, "P1").Reserved)
	p.RequireLedgerConsistent(t)
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	p := testkit.NewPipeline(t, testkit.WithIDs(func() string { return "ORD-SAME" }))
	p.Store.PutProduct("P1", 10, 0)
	p.PlaceOrder(t, "C1", testkit.Line("P1", 1, 10))

	p.PutCart("C2", testkit.Line("P1", 1, 10))
	_, err := p.Checkout.CreateOrder(context.Background(), "C2", pay)
	require.ErrorIs(t, err, orders.ErrOrderIDConflict)
	assert.Equal(t, 1, p.Stock(t, "P1").Reserved)
}

func TestConcurrentCheckoutForLastUnit(t *testing.T) {
	p := testkit.NewPipeline(t)
	p.Store.PutProduct("LAST", 1, 0)

	const buyers = 20
	for i := 0; i < buyers; i++ {
		p.PutCart(fmt.Sprintf("C%d", i), testkit.Line("LAST", 1, 99))
	}

	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
		start        = make(chan struct{})
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(customerID string) {
			defer wg.Done()
			<-start
			_, err := p.Checkout.CreateOrder(context.Background(), customerID, pay)
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, orders.ErrInsufficientStock):
				insufficient.Add(1)
			}
		}(fmt.Sprintf("C%d", i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(buyers-1), insufficient.Load())
	s := p.Stock(t, "LAST")
	assert.Equal(t, 1, s.Reserved)
	assert.Equal(t, 0, s.Available())
	p.RequireLedgerConsistent(t)
}

// gate holds every caller until n of them have passed the cart pre-check.
type gate struct{ wg *sync.WaitGroup }

func (g gate) Check(context.Context, string, time.Time) error {
	g.wg.Done()
	g.wg.Wait()
	return nil
}

func TestConcurrentCheckoutOfOneCartCreatesOneOrder(t *testing.T) {
	arrived := &sync.WaitGroup{}
	arrived.Add(2)
	p := testkit.NewPipeline(t, func(d *checkout.Deps) { d.Quota = gate{wg: arrived} })
	p.Store.PutProduct("P1", 10, 0)
	p.PutCart("C1", testkit.Line("P1", 2, 10))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		empty     atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Checkout.CreateOrder(context.Background(), "C1", pay)
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, orders.ErrEmptyCart):
				empty.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), empty.Load())
	assert.Equal(t, 2, p.Stock(t, "P1").Reserved)
	p.RequireLedgerConsistent(t)
}

type rejectAll struct{}

func (rejectAll) Validate(context.Context, orders.PaymentInfo) error {
	return fmt.Errorf("%w: method not accepted", orders.ErrInvalidInput)
}

func TestPaymentValidatorRunsBeforeWrites(t *testing.T) {
	p := testkit.NewPipeline(t)
	p.Store.PutProduct("P1", 5, 0)
	p.PutCart("C1", testkit.Line("P1", 1, 10))

	w, err := checkout.NewWorkflow(checkout.Deps{Store: p.Store, Ledger: p.Ledger, Payments: rejectAll{}})
	require.NoError(t, err)
	_, err = w.CreateOrder(context.Background(), "C1", pay)
	require.ErrorIs(t, err, orders.ErrInvalidInput)
	assert.Equal(t, 0, p.Stock(t, "P1").Reserved)
}

func TestNewWorkflowRequiresDeps(t *testing.T) {
	_, err := checkout.NewWorkflow(checkout.Deps{})
	require.Error(t, err)
}

func TestNewOrderIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := checkout.NewOrderID()
		require.False(t, seen[id], id)
		seen[id] = true
	}
}
