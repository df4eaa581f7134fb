package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// StockView 是库存的只读视图
type StockView struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Total     int    `json:"total"`
	LowStock  bool   `json:"lowStock"`
}

func toStockView(inv *domain.Inventory) *StockView {
	return &StockView{
		ProductID: inv.ProductID,
		Available: inv.Available(),
		Reserved:  inv.Reserved(),
		Total:     inv.Total(),
		LowStock:  inv.HasLowStock(),
	}
}

type Shortage struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// CheckoutRequest 发起结账
type CheckoutRequest struct {
	CustomerID     string               `json:"customerId"`
	CartID         string               `json:"cartId"`
	PaymentMethod  domain.PaymentMethod `json:"paymentMethod"`
	ReservationTTL time.Duration        `json:"-"` // 为 0 时使用服务默认值
}

// CheckoutResult 是结账的同步返回
type CheckoutResult struct {
	OrderID       string               `json:"orderId"`
	OrderStatus   domain.OrderStatus   `json:"orderStatus"`
	PaymentID     string               `json:"paymentId"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	ReservationID string               `json:"reservationId"`
	ExpiresAt     time.Time            `json:"expiresAt"`
	Total         decimal.Decimal      `json:"total"`
	ClientSecret  string               `json:"clientSecret,omitempty"`
}

// RefundOutcome 描述补偿退款实际做了什么
type RefundOutcome string

const (
	RefundOutcomeRefunded RefundOutcome = "refunded"
	RefundOutcomeVoided   RefundOutcome = "voided"
	RefundOutcomeNoop     RefundOutcome = "noop"
)
