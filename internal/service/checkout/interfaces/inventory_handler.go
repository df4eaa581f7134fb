package interfaces

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
)

// InventoryHandler 暴露库存账本的查询和人工调整入口
type InventoryHandler struct {
	inventory *application.InventoryService
}

func NewInventoryHandler(inventory *application.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

type stockAdjustment struct {
	Op       string `json:"op"` // increase / decrease / set
	Quantity int    `json:"quantity"`
}

func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /inventory/{productId}", h.getStock)
	mux.HandleFunc("POST /inventory/{productId}/adjustments", h.adjustStock)
}

func (h *InventoryHandler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	view, err := h.inventory.Get(ctx, r.PathValue("productId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *InventoryHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "inventory.Adjust")
	defer span.End()

	productID := r.PathValue("productId")
	var req stockAdjustment
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("product.id", productID), attribute.String("op", req.Op))

	var (
		view *application.StockView
		err  error
	)
	switch req.Op {
	case "increase":
		view, err = h.inventory.IncreaseStock(ctx, productID, req.Quantity)
	case "decrease":
		view, err = h.inventory.DecreaseStock(ctx, productID, req.Quantity)
	case "set":
		view, err = h.inventory.SetStock(ctx, productID, req.Quantity)
	default:
		http.Error(w, "op must be increase, decrease or set", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
