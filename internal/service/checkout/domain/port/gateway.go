package port

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// PaymentDetails 是发起支付所需的上下文信息
type PaymentDetails struct {
	OrderID    string `json:"orderId"`
	PaymentID  string `json:"paymentId"`
	CustomerID string `json:"customerId"`
}

type IntentResult struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
}

// AuthorizationResult 的 Status 取值：AUTHORIZED（等待回调）、COMPLETED / CAPTURED（同步成功）、
// NOT_REQUIRED_YET（货到付款）；Success=false 表示被拒付。
type AuthorizationResult struct {
	Success       bool                 `json:"success"`
	TransactionID string               `json:"transactionId"`
	Status        domain.PaymentStatus `json:"status"`
	ClientSecret  string               `json:"clientSecret,omitempty"`
	FailureReason string               `json:"failureReason,omitempty"`
}

type CaptureResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
}

type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refundId"`
	Reason   string `json:"reason,omitempty"`
}

// PaymentGateway 是支付网关的抽象契约，具体协议由适配器实现
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, details PaymentDetails) (*IntentResult, error)
	Authorize(ctx context.Context, amount decimal.Decimal, currency string, details PaymentDetails) (*AuthorizationResult, error)
	Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*CaptureResult, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*RefundResult, error)
}

// GatewayRegistry 按支付方式查找网关
type GatewayRegistry struct {
	mu       sync.RWMutex
	gateways map[domain.PaymentMethod]PaymentGateway
}

func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{gateways: make(map[domain.PaymentMethod]PaymentGateway)}
}

func (r *GatewayRegistry) Register(method domain.PaymentMethod, gw PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[method] = gw
}

func (r *GatewayRegistry) Get(method domain.PaymentMethod) (PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[method]
	if !ok {
		return nil, &domain.DomainError{
			Code:    domain.CodeUnsupportedPaymentMethod,
			Message: fmt.Sprintf("No payment gateway registered for %s", method),
		}
	}
	return gw, nil
}
