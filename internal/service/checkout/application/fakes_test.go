package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/memory"
)

var errGatewayDown = errors.New("gateway unreachable")

type fakeGateway struct {
	mu         sync.Mutex
	auth       port.AuthorizationResult
	authErr    error
	refundErr  error
	refunds    []decimal.Decimal
	captures   int
	authorized int
}

func (g *fakeGateway) CreateIntent(context.Context, decimal.Decimal, string, port.PaymentDetails) (*port.IntentResult, error) {
	return &port.IntentResult{IntentID: "pi_1", ClientSecret: "secret"}, nil
}

func (g *fakeGateway) Authorize(_ context.Context, _ decimal.Decimal, _ string, _ port.PaymentDetails) (*port.AuthorizationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized++
	if g.authErr != nil {
		return nil, g.authErr
	}
	res := g.auth
	return &res, nil
}

func (g *fakeGateway) Capture(_ context.Context, txID string, _ decimal.Decimal) (*port.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	return &port.CaptureResult{Success: true, TransactionID: "cap-" + txID}, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ string, amount decimal.Decimal) (*port.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, amount)
	return &port.RefundResult{Success: true, RefundID: "re_1"}, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type fakeCarts struct {
	carts   map[string]*port.Cart
	cleared []string
}

func (c *fakeCarts) GetCart(_ context.Context, cartID string) (*port.Cart, error) {
	cart, ok := c.carts[cartID]
	if !ok {
		return nil, errors.New("cart not found")
	}
	return cart, nil
}

func (c *fakeCarts) ClearCart(_ context.Context, cartID string) error {
	c.cleared = append(c.cleared, cartID)
	return nil
}

// recordingScheduler 只记录调用，不真正入队
type recordingScheduler struct {
	postPayment  []string
	releases     []string
	orderRelease []string
	completed    []domain.CheckoutJobPayload
	failed       []domain.CheckoutJobPayload
}

func (s *recordingScheduler) SchedulePostPayment(_ context.Context, orderID, _, _ string) error {
	s.postPayment = append(s.postPayment, orderID)
	return nil
}

func (s *recordingScheduler) ScheduleStockRelease(_ context.Context, reservationID, _ string) error {
	s.releases = append(s.releases, reservationID)
	return nil
}

func (s *recordingScheduler) ScheduleOrderStockRelease(_ context.Context, orderID string) error {
	s.orderRelease = append(s.orderRelease, orderID)
	return nil
}

func (s *recordingScheduler) SchedulePaymentCompleted(_ context.Context, p domain.CheckoutJobPayload) error {
	s.completed = append(s.completed, p)
	return nil
}

func (s *recordingScheduler) SchedulePaymentFailed(_ context.Context, p domain.CheckoutJobPayload) error {
	s.failed = append(s.failed, p)
	return nil
}

type fixture struct {
	store        *memory.Store
	reservations *ReservationStore
	orders       *OrderService
	payments     *PaymentService
	checkout     *CheckoutService
	gateway      *fakeGateway
	cod          *fakeGateway
	carts        *fakeCarts
	scheduler    *recordingScheduler
}

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(),
		gateway:   &fakeGateway{auth: port.AuthorizationResult{Success: true, TransactionID: "tx_1", Status: domain.PaymentAuthorized}},
		cod:       &fakeGateway{auth: port.AuthorizationResult{Success: true, TransactionID: "cod-tx", Status: domain.PaymentNotRequiredYet}},
		carts:     &fakeCarts{carts: map[string]*port.Cart{}},
		scheduler: &recordingScheduler{},
	}
	for productID, q := range stock {
		inv, err := domain.NewInventory("inv-"+productID, productID, q, 2)
		require.NoError(t, err)
		require.NoError(t, f.store.Inventories().Save(context.Background(), inv))
	}

	gateways := port.NewGatewayRegistry()
	gateways.Register(domain.PaymentMethodStripe, f.gateway)
	gateways.Register(domain.PaymentMethodCOD, f.cod)

	f.reservations = NewReservationStore(f.store, f.store.Inventories(), f.store.Reservations())
	f.orders = NewOrderService(f.store, f.store.Orders(), f.store.Payments(), gateways, f.scheduler)
	f.payments = NewPaymentService(f.store, f.store.Orders(), f.store.Payments(), f.reservations, gateways, f.scheduler)
	f.checkout = NewCheckoutService(CheckoutDeps{
		Tx:             f.store,
		Orders:         f.store.Orders(),
		Payments:       f.store.Payments(),
		Reservations:   f.reservations,
		Carts:          f.carts,
		Gateways:       gateways,
		Scheduler:      f.scheduler,
		ReservationTTL: 15 * time.Minute,
	})
	return f
}

func (f *fixture) addCart(id string, items ...port.CartItem) {
	f.carts.carts[id] = &port.Cart{ID: id, CustomerID: "cust-1", Currency: "USD", Items: items}
}

func (f *fixture) stock(t *testing.T, productID string) (available, reserved int) {
	t.Helper()
	inv, err := f.store.Inventories().FindByProductID(context.Background(), productID)
	require.NoError(t, err)
	return inv.Available(), inv.Reserved()
}

func item(productID string, q int, price string) port.CartItem {
	return port.CartItem{ProductID: productID, Quantity: q, UnitPrice: decimal.RequireFromString(price)}
}
