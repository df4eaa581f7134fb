package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/infrastructure/memory"
)

type recordingWebhooks struct {
	events []domain.PaymentWebhookEvent
	err    error
}

func (r *recordingWebhooks) HandleWebhook(_ context.Context, ev domain.PaymentWebhookEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

type nopScheduler struct{}

func (nopScheduler) SchedulePostPayment(context.Context, string, string, string) error { return nil }
func (nopScheduler) ScheduleStockRelease(context.Context, string, string) error        { return nil }
func (nopScheduler) ScheduleOrderStockRelease(context.Context, string) error           { return nil }

func (nopScheduler) SchedulePaymentCompleted(context.Context, domain.CheckoutJobPayload) error {
	return nil
}

func (nopScheduler) SchedulePaymentFailed(context.Context, domain.CheckoutJobPayload) error {
	return nil
}

type cardGateway struct{}

func (cardGateway) CreateIntent(context.Context, decimal.Decimal, string, port.PaymentDetails) (*port.IntentResult, error) {
	return &port.IntentResult{IntentID: "pi_1"}, nil
}

func (cardGateway) Authorize(context.Context, decimal.Decimal, string, port.PaymentDetails) (*port.AuthorizationResult, error) {
	return &port.AuthorizationResult{Success: true, TransactionID: "tx_1", Status: domain.PaymentAuthorized}, nil
}

func (cardGateway) Capture(_ context.Context, txID string, _ decimal.Decimal) (*port.CaptureResult, error) {
	return &port.CaptureResult{Success: true, TransactionID: txID}, nil
}

func (cardGateway) Refund(context.Context, string, decimal.Decimal) (*port.RefundResult, error) {
	return &port.RefundResult{Success: true}, nil
}

type staticCarts struct{}

func (staticCarts) GetCart(_ context.Context, cartID string) (*port.Cart, error) {
	return &port.Cart{ID: cartID, CustomerID: "cust-1", Currency: "USD", Items: []port.CartItem{
		{ProductID: "p1", Quantity: 3, UnitPrice: decimal.RequireFromString("4.00")},
	}}, nil
}

func (staticCarts) ClearCart(context.Context, string) error { return nil }

func newServer(t *testing.T, stock int, webhooks *recordingWebhooks) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	inv, err := domain.NewInventory("inv-p1", "p1", stock, 0)
	require.NoError(t, err)
	require.NoError(t, store.Inventories().Save(context.Background(), inv))

	gateways := port.NewGatewayRegistry()
	gateways.Register(domain.PaymentMethodStripe, cardGateway{})
	checkout := application.NewCheckoutService(application.CheckoutDeps{
		Tx:             store,
		Orders:         store.Orders(),
		Payments:       store.Payments(),
		Reservations:   application.NewReservationStore(store, store.Inventories(), store.Reservations()),
		Carts:          staticCarts{},
		Gateways:       gateways,
		Scheduler:      nopScheduler{},
		ReservationTTL: time.Minute,
	})

	mux := http.NewServeMux()
	NewCheckoutHandler(checkout, webhooks).RegisterRoutes(mux)
	NewInventoryHandler(application.NewInventoryService(store, store.Inventories())).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCheckoutEndpoint(t *testing.T) {
	srv := newServer(t, 10, &recordingWebhooks{})

	resp := post(t, srv.URL+"/checkout", `{"customerId":"cust-1","cartId":"cart-1","paymentMethod":"STRIPE"}`)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out application.CheckoutResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, domain.OrderPendingPayment, out.OrderStatus)
	assert.True(t, out.Total.Equal(decimal.RequireFromString("12.00")))
}

func TestCheckoutEndpoint_DomainErrorIs422(t *testing.T) {
	srv := newServer(t, 1, &recordingWebhooks{})

	resp := post(t, srv.URL+"/checkout", `{"customerId":"cust-1","cartId":"cart-1","paymentMethod":"STRIPE"}`)

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, string(domain.CodeInsufficientStock), out["code"])
	assert.Equal(t, "Insufficient stock. Available: 1, Requested: 3", out["message"])
}

func TestCheckoutEndpoint_BadBody(t *testing.T) {
	srv := newServer(t, 10, &recordingWebhooks{})

	resp := post(t, srv.URL+"/checkout", `{`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpoint(t *testing.T) {
	webhooks := &recordingWebhooks{}
	srv := newServer(t, 10, webhooks)

	resp := post(t, srv.URL+"/webhooks/payments", `{"method":"STRIPE","succeeded":true,"orderId":"o1","paymentId":"p1","transactionId":"tx_1"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, webhooks.events, 1)
	assert.True(t, webhooks.events[0].Succeeded)
	assert.Equal(t, "o1", webhooks.events[0].OrderID)

	resp = post(t, srv.URL+"/webhooks/payments", `{"succeeded":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpoint_EnqueueFailureIs503(t *testing.T) {
	srv := newServer(t, 10, &recordingWebhooks{err: errors.New("queue down")})

	resp := post(t, srv.URL+"/webhooks/payments", `{"orderId":"o1","paymentId":"p1"}`)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, 10, &recordingWebhooks{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInventoryEndpoints(t *testing.T) {
	srv := newServer(t, 2, &recordingWebhooks{})

	resp := post(t, srv.URL+"/inventory/p1/adjustments", `{"op":"increase","quantity":8}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view application.StockView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, 10, view.Available)

	resp = post(t, srv.URL+"/inventory/p1/adjustments", `{"op":"decrease","quantity":11}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = post(t, srv.URL+"/inventory/p1/adjustments", `{"op":"reset","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got, err := http.Get(srv.URL + "/inventory/p1")
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	require.NoError(t, json.NewDecoder(got.Body).Decode(&view))
	assert.Equal(t, 10, view.Available)
	assert.False(t, view.LowStock)

	missing, err := http.Get(srv.URL + "/inventory/ghost")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, missing.StatusCode)
}
