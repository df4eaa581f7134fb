package adapter

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

// CODGatewayAdapter 是货到付款的网关：下单时无需授权，送达时由配送员收款，
// 退款走线下流程，这里只生成凭证号。
type CODGatewayAdapter struct{}

func NewCODGatewayAdapter() *CODGatewayAdapter {
	return &CODGatewayAdapter{}
}

func (CODGatewayAdapter) CreateIntent(_ context.Context, _ decimal.Decimal, _ string, details port.PaymentDetails) (*port.IntentResult, error) {
	return &port.IntentResult{IntentID: "cod-" + details.OrderID}, nil
}

func (CODGatewayAdapter) Authorize(_ context.Context, _ decimal.Decimal, _ string, details port.PaymentDetails) (*port.AuthorizationResult, error) {
	return &port.AuthorizationResult{
		Success:       true,
		TransactionID: "cod-" + details.OrderID,
		Status:        domain.PaymentNotRequiredYet,
	}, nil
}

func (CODGatewayAdapter) Capture(_ context.Context, transactionID string, _ decimal.Decimal) (*port.CaptureResult, error) {
	if transactionID == "" {
		transactionID = "cod-" + uuid.NewString()
	}
	return &port.CaptureResult{Success: true, TransactionID: transactionID}, nil
}

func (CODGatewayAdapter) Refund(_ context.Context, _ string, _ decimal.Decimal) (*port.RefundResult, error) {
	return &port.RefundResult{Success: true, RefundID: "cod-refund-" + uuid.NewString()}, nil
}
