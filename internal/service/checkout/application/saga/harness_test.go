package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/memory"
)

type stubGateway struct {
	mu        sync.Mutex
	refundErr error
	refunds   []decimal.Decimal
}

func (g *stubGateway) CreateIntent(context.Context, decimal.Decimal, string, port.PaymentDetails) (*port.IntentResult, error) {
	return &port.IntentResult{IntentID: "pi_1"}, nil
}

func (g *stubGateway) Authorize(context.Context, decimal.Decimal, string, port.PaymentDetails) (*port.AuthorizationResult, error) {
	return &port.AuthorizationResult{Success: true, TransactionID: "tx_1", Status: domain.PaymentAuthorized}, nil
}

func (g *stubGateway) Capture(_ context.Context, txID string, _ decimal.Decimal) (*port.CaptureResult, error) {
	return &port.CaptureResult{Success: true, TransactionID: txID}, nil
}

func (g *stubGateway) Refund(_ context.Context, _ string, amount decimal.Decimal) (*port.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, amount)
	return &port.RefundResult{Success: true, RefundID: "re_1"}, nil
}

func (g *stubGateway) setRefundErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

func (g *stubGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type stubCarts struct {
	mu       sync.Mutex
	clearErr error
	cleared  []string
}

func (c *stubCarts) GetCart(_ context.Context, cartID string) (*port.Cart, error) {
	return &port.Cart{ID: cartID, CustomerID: "cust-1", Currency: "USD", Items: []port.CartItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
	}}, nil
}

func (c *stubCarts) ClearCart(_ context.Context, cartID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cleared = append(c.cleared, cartID)
	return nil
}

type harness struct {
	store        *memory.Store
	queue        *jobqueue.MemoryQueue
	orchestrator *Orchestrator
	reservations *application.ReservationStore
	orders       *application.OrderService
	payments     *application.PaymentService
	checkout     *application.CheckoutService
	coordinator  *CompensationCoordinator
	gateway      *stubGateway
	carts        *stubCarts
}

// newHarness 用内存存储和内存队列组装完整的结账链路
func newHarness(t *testing.T, stock int) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store:   memory.NewStore(),
		gateway: &stubGateway{},
		carts:   &stubCarts{},
	}
	inv, err := domain.NewInventory("inv-p1", "p1", stock, 0)
	require.NoError(t, err)
	require.NoError(t, h.store.Inventories().Save(ctx, inv))

	proc := jobqueue.NewProcessor()
	h.queue = jobqueue.NewMemoryQueue(proc, jobqueue.WithAttempts(2), jobqueue.WithBackoff(time.Millisecond))

	gateways := port.NewGatewayRegistry()
	gateways.Register(domain.PaymentMethodStripe, h.gateway)

	h.reservations = application.NewReservationStore(h.store, h.store.Inventories(), h.store.Reservations())
	h.orchestrator = NewOrchestrator(h.queue, h.reservations)
	h.orders = application.NewOrderService(h.store, h.store.Orders(), h.store.Payments(), gateways, h.orchestrator)
	h.payments = application.NewPaymentService(h.store, h.store.Orders(), h.store.Payments(), h.reservations, gateways, h.orchestrator)
	h.checkout = application.NewCheckoutService(application.CheckoutDeps{
		Tx:           h.store,
		Orders:       h.store.Orders(),
		Payments:     h.store.Payments(),
		Reservations: h.reservations,
		Carts:        h.carts,
		Gateways:     gateways,
		Scheduler:    h.orchestrator,
	})
	h.coordinator = NewCompensationCoordinator(h.queue, h.payments, h.orders, h.reservations)
	NewHandlers(h.payments, h.reservations, h.carts, h.coordinator).Register(proc)
	h.coordinator.Start()
	t.Cleanup(h.coordinator.Stop)
	return h
}

func (h *harness) placeOrder(t *testing.T) *application.CheckoutResult {
	t.Helper()
	res, err := h.checkout.Checkout(context.Background(), application.CheckoutRequest{
		CustomerID: "cust-1", CartID: "cart-1", PaymentMethod: domain.PaymentMethodStripe,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) webhook(t *testing.T, res *application.CheckoutResult, succeeded bool) {
	t.Helper()
	require.NoError(t, h.orchestrator.HandleWebhook(context.Background(), domain.PaymentWebhookEvent{
		Method:        domain.PaymentMethodStripe,
		Succeeded:     succeeded,
		OrderID:       res.OrderID,
		PaymentID:     res.PaymentID,
		TransactionID: "tx_1",
		Reason:        "card declined",
	}))
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.queue.Drain(ctx))
}

func (h *harness) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) payment(t *testing.T, id string) *domain.Payment {
	t.Helper()
	p, err := h.store.Payments().FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) reservation(t *testing.T, id string) *domain.Reservation {
	t.Helper()
	r, err := h.reservations.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (h *harness) stock(t *testing.T) (available, reserved int) {
	t.Helper()
	inv, err := h.store.Inventories().FindByProductID(context.Background(), "p1")
	require.NoError(t, err)
	return inv.Available(), inv.Reserved()
}

func (h *harness) pendingIDs() []string {
	var ids []string
	for _, j := range h.queue.Pending() {
		ids = append(ids, j.ID)
	}
	return ids
}

func (h *harness) pendingNames() []string {
	var names []string
	for _, j := range h.queue.Pending() {
		names = append(names, j.Name)
	}
	return names
}

var errDown = errors.New("service unavailable")
