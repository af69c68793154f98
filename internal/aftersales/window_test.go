package aftersales_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-pipeline/internal/aftersales"
	"github.com/ariefcatur/go-order-pipeline/internal/lifecycle"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/ariefcatur/go-order-pipeline/internal/testkit"
)

const day = 24 * time.Hour

// cancelledOrder places an order and cancels it at the returned instant.
func cancelledOrder(t *testing.T, p *testkit.Pipeline) (string, time.Time) {
	t.Helper()
	ctx := context.Background()
	p.Store.PutProduct("P1", 10, 0)
	id := p.PlaceOrder(t, "C1", testkit.Line("P1", 2, 10))
	require.NoError(t, p.Machine.RequestCancel(ctx, id, "C1", ""))
	_, err := p.Machine.ApproveCancel(ctx, id, "", "admin-1")
	require.NoError(t, err)
	return id, p.Clock.Now()
}

// deliveredOrder walks an order to delivered and returns when it got there.
func deliveredOrder(t *testing.T, p *testkit.Pipeline) (string, time.Time) {
	t.Helper()
	ctx := context.Background()
	p.Store.PutProduct("P1", 10, 0)
	id := p.PlaceOrder(t, "C1", testkit.Line("P1", 1, 10))
	for _, s := range []orders.Status{orders.StatusProcessing, orders.StatusShipping, orders.StatusDelivered} {
		p.Clock.Advance(time.Hour)
		_, err := p.Machine.ChangeStatus(ctx, lifecycle.Change{OrderID: id, Target: s, ActorID: "admin-1"})
		require.NoError(t, err)
	}
	return id, p.Clock.Now()
}

func TestRefundWindowBoundary(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"just inside", 14*day - time.Second, nil},
		{"exactly at", 14 * day, nil},
		{"just outside", 14*day + time.Second, orders.ErrWindowExpired},
		{"twenty days", 20 * day, orders.ErrWindowExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testkit.NewPipeline(t)
			id, cancelledAt := cancelledOrder(t, p)
			p.Clock.Set(cancelledAt.Add(tc.elapsed))

			req, err := p.AfterSales.RequestRefund(context.Background(), id, "C1", "never arrived", "0812")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				_, ok := p.Store.AfterSalesRequest(id, orders.KindRefund)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, orders.RequestPending, req.Status)
			assert.Equal(t, orders.KindRefund, req.Kind)
			assert.Equal(t, "0812", req.ContactNumber)
		})
	}
}

func TestReturnWindowBoundary(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"just inside", 3*day - time.Second, nil},
		{"just outside", 3*day + time.Second, orders.ErrWindowExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testkit.NewPipeline(t)
			id, deliveredAt := deliveredOrder(t, p)
			p.Clock.Set(deliveredAt.Add(tc.elapsed))

			_, err := p.AfterSales.RequestReturn(context.Background(), id, "C1", "wrong size", "")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRefundRequestPreconditions(t *testing.T) {
	p := testkit.NewPipeline(t)
	ctx := context.Background()
	p.Store.PutProduct("P1", 10, 0)
	pending := p.PlaceOrder(t, "C1", testkit.Line("P1", 1, 10))

	_, err := p.AfterSales.RequestRefund(ctx, pending, "C1", "", "")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	id, _ := cancelledOrder(t, p)
	_, err = p.AfterSales.RequestRefund(ctx, id, "C2", "", "")
	require.ErrorIs(t, err, orders.ErrUnauthorized)
	_, err = p.AfterSales.RequestRefund(ctx, "ORD-MISSING", "C1", "", "")
	require.ErrorIs(t, err, orders.ErrUnauthorized)

	_, err = p.AfterSales.RequestRefund(ctx, id, "C1", "", "")
	require.NoError(t, err)
	_, err = p.AfterSales.RequestRefund(ctx, id, "C1", "", "")
	require.ErrorIs(t, err, orders.ErrDuplicateRequest)

	// a return request is checked against delivered, not cancelled
	_, err = p.AfterSales.RequestReturn(ctx, id, "C1", "", "")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestApproveRefund(t *testing.T) {
	p := testkit.NewPipeline(t)
	ctx := context.Background()
	id, _ := cancelledOrder(t, p)

	_, err := p.AfterSales.ApproveRefund(ctx, id, "", "admin-1")
	require.ErrorIs(t, err, orders.ErrNoPendingRequest)

	_, err = p.AfterSales.RequestRefund(ctx, id, "C1", "", "")
	require.NoError(t, err)
	p.Clock.Advance(time.Hour)

	o, err := p.AfterSales.ApproveRefund(ctx, id, "refund sent", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, o.Status)

	req, ok := p.Store.AfterSalesRequest(id, orders.KindRefund)
	require.True(t, ok)
	assert.Equal(t, orders.RequestApproved, req.Status)
	assert.Equal(t, "admin-1", req.ResolvedBy)
	assert.Equal(t, "refund sent", req.AdminNotes)
	require.NotNil(t, req.ResolvedAt)
	assert.Equal(t, p.Clock.Now(), *req.ResolvedAt)

	seq := p.Statuses(t, id)
	assert.Equal(t, orders.StatusRefunded, seq[len(seq)-1])
	assert.True(t, orders.ValidWalk(seq))

	events := p.Sink.Events()
	assert.Equal(t, orders.StatusRefunded, events[len(events)-1].To)

	_, err = p.AfterSales.ApproveRefund(ctx, id, "", "admin-1")
	require.ErrorIs(t, err, orders.ErrNoPendingRequest)
	_, err = p.AfterSales.DenyRefund(ctx, id, "", "admin-1")
	require.ErrorIs(t, err, orders.ErrNoPendingRequest)
}

func TestApproveReturnAndDeny(t *testing.T) {
	p := testkit.NewPipeline(t)
	ctx := context.Background()

	id, _ := deliveredOrder(t, p)
	_, err := p.AfterSales.RequestReturn(ctx, id, "C1", "broken", "")
	require.NoError(t, err)
	o, err := p.AfterSales.ApproveReturn(ctx, id, "", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReturned, o.Status)

	id2, _ := deliveredOrder(t, p)
	_, err = p.AfterSales.RequestReturn(ctx, id2, "C1", "meh", "")
	require.NoError(t, err)
	req, err := p.AfterSales.DenyReturn(ctx, id2, "no defect found", "admin-2")
	require.NoError(t, err)
	assert.Equal(t, orders.RequestDenied, req.Status)
	assert.Equal(t, "no defect found", req.AdminNotes)
	assert.Equal(t, orders.StatusDelivered, p.Order(t, id2).Status)

	// a denied request still blocks a second one
	_, err = p.AfterSales.RequestReturn(ctx, id2, "C1", "again", "")
	require.ErrorIs(t, err, orders.ErrDuplicateRequest)
}

func TestCustomWindows(t *testing.T) {
	p := testkit.NewPipeline(t)
	w, err := aftersales.NewWindow(aftersales.Deps{
		Store:        p.Store,
		Machine:      p.Machine,
		RefundWindow: time.Hour,
		Clock:        p.Clock.Now,
	})
	require.NoError(t, err)

	id, cancelledAt := cancelledOrder(t, p)
	p.Clock.Set(cancelledAt.Add(2 * time.Hour))
	_, err = w.RequestRefund(context.Background(), id, "C1", "", "")
	require.ErrorIs(t, err, orders.ErrWindowExpired)
}

func TestUnknownKind(t *testing.T) {
	p := testkit.NewPipeline(t)
	_, err := p.AfterSales.Request(context.Background(), "exchange", "ORD-1", "C1", "", "")
	require.ErrorIs(t, err, orders.ErrInvalidInput)
}
