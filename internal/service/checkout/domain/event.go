package domain

import "github.com/shopspring/decimal"

// CheckoutJobPayload 是结账相关任务持久化的载荷，
// 足以在任务失败后重建补偿目标（退款、取消订单、释放库存）。
type CheckoutJobPayload struct {
	OrderID       string           `json:"orderId"`
	CartID        string           `json:"cartId,omitempty"`
	PaymentID     string           `json:"paymentId,omitempty"`
	ReservationID string           `json:"reservationId,omitempty"`
	OrderTotal    *decimal.Decimal `json:"orderTotal,omitempty"`
	TransactionID string           `json:"transactionId,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// ConfirmedReservation 是 confirm-reservation 步骤的输出，作为 clear-cart 的输入。
type ConfirmedReservation struct {
	ReservationID string            `json:"reservationId"`
	OrderID       string            `json:"orderId"`
	Items         []ReservationItem `json:"items"`
}

// CartCleared 是 clear-cart 步骤的输出。
type CartCleared struct {
	CartID  string `json:"cartId"`
	Skipped bool   `json:"skipped,omitempty"`
}

// PaymentWebhookEvent 是网关回调归一化后的事件。
type PaymentWebhookEvent struct {
	Method        PaymentMethod `json:"method"`
	Succeeded     bool          `json:"succeeded"`
	OrderID       string        `json:"orderId"`
	PaymentID     string        `json:"paymentId"`
	TransactionID string        `json:"transactionId"`
	Reason        string        `json:"reason,omitempty"`
}
