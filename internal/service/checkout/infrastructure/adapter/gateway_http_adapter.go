package adapter

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/httpclient"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

// HTTPGatewayAdapter 实现了 port.PaymentGateway 接口，
// 对接一个内部的支付网关服务（它再负责 Stripe / PayPal 等具体协议）。
type HTTPGatewayAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPGatewayAdapter(client *httpclient.Client, baseURL string) *HTTPGatewayAdapter {
	return &HTTPGatewayAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type gatewayRequest struct {
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency,omitempty"`
	TransactionID string               `json:"transactionId,omitempty"`
	Details       *port.PaymentDetails `json:"details,omitempty"`
}

func (a *HTTPGatewayAdapter) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, details port.PaymentDetails) (*port.IntentResult, error) {
	var out port.IntentResult
	err := a.client.PostJSON(ctx, a.baseURL+"/intents", gatewayRequest{Amount: amount, Currency: currency, Details: &details}, &out)
	if err != nil {
		return nil, classify(err, "gateway.intent")
	}
	return &out, nil
}

func (a *HTTPGatewayAdapter) Authorize(ctx context.Context, amount decimal.Decimal, currency string, details port.PaymentDetails) (*port.AuthorizationResult, error) {
	var out port.AuthorizationResult
	err := a.client.PostJSON(ctx, a.baseURL+"/authorizations", gatewayRequest{Amount: amount, Currency: currency, Details: &details}, &out)
	if err != nil {
		return nil, classify(err, "gateway.authorize")
	}
	return &out, nil
}

func (a *HTTPGatewayAdapter) Capture(ctx context.Context, transactionID string, amount decimal.Decimal) (*port.CaptureResult, error) {
	var out port.CaptureResult
	err := a.client.PostJSON(ctx, a.baseURL+"/captures", gatewayRequest{Amount: amount, TransactionID: transactionID}, &out)
	if err != nil {
		return nil, classify(err, "gateway.capture")
	}
	return &out, nil
}

func (a *HTTPGatewayAdapter) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*port.RefundResult, error) {
	var out port.RefundResult
	err := a.client.PostJSON(ctx, a.baseURL+"/refunds", gatewayRequest{Amount: amount, TransactionID: transactionID}, &out)
	if err != nil {
		return nil, classify(err, "gateway.refund")
	}
	return &out, nil
}
