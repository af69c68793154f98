// Package testkit assembles the order pipeline over the in-memory store for tests.
package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-order-pipeline/internal/aftersales"
	"github.com/ariefcatur/go-order-pipeline/internal/checkout"
	"github.com/ariefcatur/go-order-pipeline/internal/inventory"
	"github.com/ariefcatur/go-order-pipeline/internal/lifecycle"
	"github.com/ariefcatur/go-order-pipeline/internal/memstore"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
)

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sink records status events.
type Sink struct {
	mu     sync.Mutex
	events []orders.StatusEvent
}

func (s *Sink) StatusChanged(_ context.Context, ev orders.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *Sink) Events() []orders.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.StatusEvent(nil), s.events...)
}

// History records ledger movements.
type History struct {
	mu  sync.Mutex
	mvs []orders.Movement
}

func (h *History) Record(_ context.Context, mvs []orders.Movement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mvs = append(h.mvs, mvs...)
}

func (h *History) Movements() []orders.Movement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]orders.Movement(nil), h.mvs...)
}

type Pipeline struct {
	Store      *memstore.Store
	Clock      *Clock
	Sink       *Sink
	History    *History
	Ledger     *inventory.Ledger
	Checkout   *checkout.Workflow
	Machine    *lifecycle.StateMachine
	AfterSales *aftersales.Window
}

// Option adjusts checkout deps before the workflow is built.
type Option func(*checkout.Deps)

func WithDailyLimit(n int) Option {
	return func(d *checkout.Deps) { d.Quota = checkout.StoreQuota{Reader: d.Store, Limit: n} }
}

func WithIDs(next func() string) Option {
	return func(d *checkout.Deps) { d.IDGenerator = next }
}

var Epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func NewPipeline(t testing.TB, opts ...Option) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	p := &Pipeline{
		Store:   memstore.New(),
		Clock:   NewClock(Epoch),
		Sink:    &Sink{},
		History: &History{},
	}
	p.Ledger = inventory.NewLedger(logger, p.Clock.Now)

	deps := checkout.Deps{
		Store:   p.Store,
		Ledger:  p.Ledger,
		History: p.History,
		Notify:  p.Sink,
		Clock:   p.Clock.Now,
		Logger:  logger,
	}
	for _, o := range opts {
		o(&deps)
	}
	var err error
	p.Checkout, err = checkout.NewWorkflow(deps)
	require.NoError(t, err)

	p.Machine, err = lifecycle.NewStateMachine(lifecycle.Deps{
		Store:   p.Store,
		Ledger:  p.Ledger,
		History: p.History,
		Notify:  p.Sink,
		Clock:   p.Clock.Now,
		Logger:  logger,
	})
	require.NoError(t, err)

	p.AfterSales, err = aftersales.NewWindow(aftersales.Deps{
		Store:   p.Store,
		Machine: p.Machine,
		Clock:   p.Clock.Now,
		Logger:  logger,
	})
	require.NoError(t, err)
	return p
}

// Line is a cart line priced in whole currency units.
func Line(productID string, qty int, price int64) orders.CartLine {
	return orders.CartLine{ProductID: productID, Qty: qty, UnitPrice: decimal.NewFromInt(price)}
}

func (p *Pipeline) PutCart(customerID string, lines ...orders.CartLine) {
	p.Store.PutCart(orders.Cart{CustomerID: customerID, Lines: lines})
}

// PlaceOrder fills the cart and checks out, failing the test on error.
func (p *Pipeline) PlaceOrder(t testing.TB, customerID string, lines ...orders.CartLine) string {
	t.Helper()
	p.PutCart(customerID, lines...)
	res, err := p.Checkout.CreateOrder(context.Background(), customerID, orders.PaymentInfo{Method: "bank_transfer"})
	require.NoError(t, err)
	return res.OrderID
}

func (p *Pipeline) Stock(t testing.TB, productID string) orders.ProductStock {
	t.Helper()
	s, err := p.Store.ProductStock(context.Background(), productID)
	require.NoError(t, err)
	return s
}

func (p *Pipeline) Order(t testing.TB, orderID string) orders.Order {
	t.Helper()
	o, err := p.Store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

func (p *Pipeline) Statuses(t testing.TB, orderID string) []orders.Status {
	t.Helper()
	hist, err := p.Store.OrderHistory(context.Background(), orderID)
	require.NoError(t, err)
	out := make([]orders.Status, 0, len(hist))
	for _, h := range hist {
		out = append(out, h.Status)
	}
	return out
}

// RequireLedgerConsistent checks available >= 0 and sum(reservations) == reserved per product.
func (p *Pipeline) RequireLedgerConsistent(t testing.TB) {
	t.Helper()
	held := map[string]int{}
	for _, r := range p.Store.Reservations() {
		held[r.ProductID] += r.Qty
	}
	for _, s := range p.Store.Products() {
		require.GreaterOrEqual(t, s.Available(), 0, s.ProductID)
		require.Equal(t, s.Reserved, held[s.ProductID], s.ProductID)
	}
}
