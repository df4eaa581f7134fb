package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem 是订单行，下单时从购物车快照而来
type OrderItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order 是订单聚合的根实体
type Order struct {
	ID            string
	CustomerID    string
	CartID        string
	Items         []OrderItem
	Status        OrderStatus
	TotalPrice    decimal.Decimal
	Currency      string
	PaymentMethod PaymentMethod
	PaymentID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder 创建一个待支付订单，总价由订单行汇总
func NewOrder(id, customerID, cartID string, items []OrderItem, method PaymentMethod, currency string, now time.Time) (*Order, error) {
	if customerID == "" {
		return nil, newDomainError(CodeInvalidOrder, "Order requires a customer")
	}
	if len(items) == 0 {
		return nil, newDomainError(CodeInvalidOrder, "Order must contain at least one item")
	}
	if !method.IsValid() {
		return nil, newDomainError(CodeUnsupportedPaymentMethod, "Unsupported payment method %q", method)
	}
	total := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, newDomainError(CodeInvalidOrder, "Quantity for product %s must be positive", it.ProductID)
		}
		if it.UnitPrice.IsNegative() {
			return nil, newDomainError(CodeInvalidOrder, "Price for product %s cannot be negative", it.ProductID)
		}
		total = total.Add(it.Subtotal())
	}
	return &Order{
		ID:            id,
		CustomerID:    customerID,
		CartID:        cartID,
		Items:         append([]OrderItem(nil), items...),
		Status:        OrderPendingPayment,
		TotalPrice:    total,
		Currency:      currency,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsCOD 货到付款由支付方式推导
func (o *Order) IsCOD() bool {
	return o.PaymentMethod == PaymentMethodCOD
}

// ReservationItems 把订单行转换成库存预留明细
func (o *Order) ReservationItems() []ReservationItem {
	out := make([]ReservationItem, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ReservationItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

// ConfirmPayment 支付成功后确认订单，只允许从待支付状态流转
func (o *Order) ConfirmPayment(paymentID string) error {
	if o.Status != OrderPendingPayment {
		return o.illegal("confirm payment for")
	}
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	o.setStatus(OrderConfirmed)
	return nil
}

func (o *Order) MarkPaymentFailed() error {
	if o.Status != OrderPendingPayment {
		return o.illegal("mark payment failed for")
	}
	o.setStatus(OrderPaymentFailed)
	return nil
}

func (o *Order) Process() error {
	if o.Status != OrderConfirmed {
		return newDomainError(CodeInvalidOrderTransition, "Order must be confirmed before processing")
	}
	o.setStatus(OrderProcessing)
	return nil
}

func (o *Order) Ship() error {
	if o.Status != OrderProcessing {
		return newDomainError(CodeInvalidOrderTransition, "Order must be processing before shipping")
	}
	o.setStatus(OrderShipped)
	return nil
}

// Deliver 标记送达。货到付款订单需要调用方先完成收款记录。
func (o *Order) Deliver() error {
	if o.Status != OrderShipped {
		return newDomainError(CodeInvalidOrderTransition, "Order must be shipped before delivery")
	}
	o.setStatus(OrderDelivered)
	return nil
}

// Cancel 取消订单。已取消时幂等返回 false；已送达时报错。
func (o *Order) Cancel() (bool, error) {
	switch o.Status {
	case OrderCancelled:
		return false, nil
	case OrderDelivered:
		return false, newDomainError(CodeInvalidOrderTransition, "Delivered order %s cannot be cancelled", o.ID)
	}
	o.setStatus(OrderCancelled)
	return true, nil
}

func (o *Order) setStatus(s OrderStatus) {
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) illegal(action string) error {
	return newDomainError(CodeInvalidOrderTransition, "Cannot %s order %s in status %s", action, o.ID, o.Status)
}
