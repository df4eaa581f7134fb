package domain

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "PENDING_PAYMENT" // 待支付
	OrderConfirmed      OrderStatus = "CONFIRMED"       // 已确认（已支付或货到付款）
	OrderProcessing     OrderStatus = "PROCESSING"      // 备货中
	OrderShipped        OrderStatus = "SHIPPED"         // 已发货
	OrderDelivered      OrderStatus = "DELIVERED"       // 已送达
	OrderPaymentFailed  OrderStatus = "PAYMENT_FAILED"  // 支付失败
	OrderCancelled      OrderStatus = "CANCELLED"       // 已取消
)

// IsTerminal 已送达和已取消是终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// IsPaid 报告订单是否已经越过支付确认这一步
func (s OrderStatus) IsPaid() bool {
	switch s {
	case OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered:
		return true
	}
	return false
}
