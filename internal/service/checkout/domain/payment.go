package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "STRIPE"
	PaymentMethodPayPal PaymentMethod = "PAYPAL"
	PaymentMethodCOD    PaymentMethod = "CASH_ON_DELIVERY"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodStripe, PaymentMethodPayPal, PaymentMethodCOD:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentCaptured          PaymentStatus = "CAPTURED"
	PaymentCompleted         PaymentStatus = "COMPLETED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentCancelled         PaymentStatus = "CANCELLED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentNotRequiredYet    PaymentStatus = "NOT_REQUIRED_YET" // 货到付款，送达时收款
)

// IsRefundable 已收到钱的状态才能退款
func (s PaymentStatus) IsRefundable() bool {
	switch s {
	case PaymentCaptured, PaymentCompleted, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// IsSettled 报告支付是否已经到达不会再变化的状态（退款除外）
func (s PaymentStatus) IsSettled() bool {
	switch s {
	case PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundFailed    RefundStatus = "FAILED"
)

// Refund 是支付下的一笔退款
type Refund struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Reason    string
	Status    RefundStatus
	GatewayID string
	CreatedAt time.Time
}

// Payment 是支付聚合，负责金额核算：0 <= RefundedAmount <= Amount
type Payment struct {
	ID             string
	OrderID        string
	CustomerID     string
	Amount         decimal.Decimal
	Currency       string
	Method         PaymentMethod
	Status         PaymentStatus
	TransactionID  string
	RefundedAmount decimal.Decimal
	FailureReason  string
	// LateCaptured 支付失败或作废之后网关仍然收了款，这笔钱需要全额退回
	LateCaptured bool
	Refunds      []Refund
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPayment 为订单创建支付。货到付款的初始状态是 NOT_REQUIRED_YET。
func NewPayment(id string, order *Order, now time.Time) (*Payment, error) {
	if !order.TotalPrice.IsPositive() {
		return nil, newDomainError(CodeInvalidOrder, "Payment amount for order %s must be positive", order.ID)
	}
	status := PaymentPending
	if order.IsCOD() {
		status = PaymentNotRequiredYet
	}
	return &Payment{
		ID:             id,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Amount:         order.TotalPrice,
		Currency:       order.Currency,
		Method:         order.PaymentMethod,
		Status:         status,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (p *Payment) RemainingAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

func (p *Payment) Authorize(transactionID string) error {
	if p.Status != PaymentPending {
		return p.illegal("authorize")
	}
	p.TransactionID = transactionID
	p.setStatus(PaymentAuthorized)
	return nil
}

func (p *Payment) Capture() error {
	if p.Status != PaymentAuthorized {
		return p.illegal("capture")
	}
	p.setStatus(PaymentCaptured)
	return nil
}

// MarkCompleted 网关确认收款
func (p *Payment) MarkCompleted(transactionID string) error {
	switch p.Status {
	case PaymentPending, PaymentAuthorized, PaymentCaptured:
	default:
		return p.illegal("complete")
	}
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.setStatus(PaymentCompleted)
	return nil
}

// RecordCODCollection 货到付款在送达时记录收款
func (p *Payment) RecordCODCollection(transactionID string) error {
	if p.Status != PaymentNotRequiredYet {
		return p.illegal("record cash collection for")
	}
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.setStatus(PaymentCompleted)
	return nil
}

// Fail 标记支付失败，不允许从失败或已完成状态"复活"
func (p *Payment) Fail(reason string) error {
	switch p.Status {
	case PaymentFailed:
		return newDomainError(CodeInvalidPaymentTransition, "Payment %s has already failed", p.ID)
	case PaymentCompleted:
		return newDomainError(CodeInvalidPaymentTransition, "Cannot fail completed payment %s", p.ID)
	case PaymentPending, PaymentAuthorized, PaymentNotRequiredYet:
	default:
		return p.illegal("fail")
	}
	p.FailureReason = reason
	p.setStatus(PaymentFailed)
	return nil
}

// Cancel 作废尚未收款的支付。已取消时幂等返回 false。
func (p *Payment) Cancel() (bool, error) {
	switch p.Status {
	case PaymentCancelled:
		return false, nil
	case PaymentPending, PaymentAuthorized, PaymentNotRequiredYet:
		p.setStatus(PaymentCancelled)
		return true, nil
	}
	return false, p.illegal("cancel")
}

// RecordLateCapture 记录关闭后才到达的收款。状态保持 FAILED / CANCELLED，不会复活。
func (p *Payment) RecordLateCapture(transactionID string) error {
	if p.Status != PaymentFailed && p.Status != PaymentCancelled {
		return p.illegal("record late capture for")
	}
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.LateCaptured = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// OwesLateCaptureRefund 报告迟到的收款是否还没有退回
func (p *Payment) OwesLateCaptureRefund() bool {
	return p.LateCaptured && p.RefundedAmount.LessThan(p.Amount)
}

// AddLateCaptureRefund 记录迟到收款的全额退款，支付状态不变
func (p *Payment) AddLateCaptureRefund(id, reason, gatewayRefundID string, now time.Time) (*Refund, error) {
	if !p.OwesLateCaptureRefund() {
		return nil, newDomainError(CodeInvalidRefund, "Payment %s has no late capture to refund", p.ID)
	}
	refund := Refund{
		ID:        id,
		PaymentID: p.ID,
		Amount:    p.RemainingAmount(),
		Currency:  p.Currency,
		Reason:    reason,
		Status:    RefundCompleted,
		GatewayID: gatewayRefundID,
		CreatedAt: now,
	}
	p.Refunds = append(p.Refunds, refund)
	p.RefundedAmount = p.Amount
	p.UpdatedAt = now
	return &refund, nil
}

// CanRefund 检查退款前置条件，不修改状态
func (p *Payment) CanRefund(amount decimal.Decimal) error {
	if !p.Status.IsRefundable() {
		return newDomainError(CodeInvalidRefund, "Payment %s in status %s cannot be refunded", p.ID, p.Status)
	}
	if !amount.IsPositive() {
		return newDomainError(CodeInvalidRefund, "Refund amount must be positive")
	}
	if p.RefundedAmount.Add(amount).GreaterThan(p.Amount) {
		return newDomainError(CodeRefundExceedsAmount,
			"Refund of %s exceeds remaining amount %s", amount.StringFixed(2), p.RemainingAmount().StringFixed(2))
	}
	return nil
}

// AddRefund 记录一笔已完成的退款并更新状态；校验失败时不改变已退金额
func (p *Payment) AddRefund(id string, amount decimal.Decimal, reason, gatewayRefundID string, now time.Time) (*Refund, error) {
	if err := p.CanRefund(amount); err != nil {
		return nil, err
	}
	refund := Refund{
		ID:        id,
		PaymentID: p.ID,
		Amount:    amount,
		Currency:  p.Currency,
		Reason:    reason,
		Status:    RefundCompleted,
		GatewayID: gatewayRefundID,
		CreatedAt: now,
	}
	p.Refunds = append(p.Refunds, refund)
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	if p.RefundedAmount.Equal(p.Amount) {
		p.setStatus(PaymentRefunded)
	} else {
		p.setStatus(PaymentPartiallyRefunded)
	}
	return &refund, nil
}

func (p *Payment) setStatus(s PaymentStatus) {
	p.Status = s
	p.UpdatedAt = time.Now().UTC()
}

func (p *Payment) illegal(action string) error {
	return newDomainError(CodeInvalidPaymentTransition, "Cannot %s payment %s in status %s", action, p.ID, p.Status)
}
