package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

const serviceName = "checkout-worker"

// WebhookScheduler 把归一化后的网关回调转成任务
type WebhookScheduler interface {
	HandleWebhook(ctx context.Context, ev domain.PaymentWebhookEvent) error
}

// CheckoutHandler 暴露健康检查、指标、网关回调入口和结账入口
type CheckoutHandler struct {
	checkout *application.CheckoutService
	webhooks WebhookScheduler
}

func NewCheckoutHandler(checkout *application.CheckoutService, webhooks WebhookScheduler) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, webhooks: webhooks}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /checkout", h.checkoutHandler)
	mux.HandleFunc("POST /webhooks/payments", h.webhookHandler)
}

func (h *CheckoutHandler) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "checkout.HTTP")
	defer span.End()

	var req application.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("cart.id", req.CartID), attribute.String("payment.method", string(req.PaymentMethod)))

	resp, err := h.checkout.Checkout(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *CheckoutHandler) webhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var ev domain.PaymentWebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid webhook body", http.StatusBadRequest)
		return
	}
	if ev.OrderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}
	if err := h.webhooks.HandleWebhook(ctx, ev); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", ev.OrderID).Msg("failed to enqueue webhook")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"code": string(de.Code), "message": de.Message})
		return
	}
	logger.Ctx(ctx).Error().Err(err).Msg("request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
