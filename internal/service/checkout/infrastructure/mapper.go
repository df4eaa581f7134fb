package infrastructure

import (
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

func toDomainInventory(m *InventoryModel) *domain.Inventory {
	return domain.RestoreInventory(m.ID, m.ProductID, m.Available, m.Reserved, m.LowStockThreshold, m.LastRestockDate, m.UpdatedAt)
}

func fromDomainInventory(inv *domain.Inventory) *InventoryModel {
	return &InventoryModel{
		ID:                inv.ID,
		ProductID:         inv.ProductID,
		Available:         inv.Available(),
		Reserved:          inv.Reserved(),
		LowStockThreshold: inv.LowStockThreshold,
		LastRestockDate:   inv.LastRestockDate,
		UpdatedAt:         inv.UpdatedAt,
	}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	return domain.RestoreReservation(m.ID, m.OrderID, m.Status, m.Items, m.ExpiresAt, m.CreatedAt, m.UpdatedAt)
}

func fromDomainReservation(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        r.ID,
		OrderID:   r.OrderID,
		Status:    r.Status,
		Items:     r.Items(),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toDomainOrder(m *OrderModel) *domain.Order {
	return &domain.Order{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		CartID:        m.CartID,
		Items:         m.Items,
		Status:        m.Status,
		TotalPrice:    m.TotalPrice,
		Currency:      m.Currency,
		PaymentMethod: m.PaymentMethod,
		PaymentID:     m.PaymentID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		CartID:        o.CartID,
		Items:         o.Items,
		Status:        o.Status,
		TotalPrice:    o.TotalPrice,
		Currency:      o.Currency,
		PaymentMethod: o.PaymentMethod,
		PaymentID:     o.PaymentID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func toDomainPayment(m *PaymentModel) *domain.Payment {
	p := &domain.Payment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		CustomerID:     m.CustomerID,
		Amount:         m.Amount,
		Currency:       m.Currency,
		Method:         m.Method,
		Status:         m.Status,
		TransactionID:  m.TransactionID,
		RefundedAmount: m.RefundedAmount,
		FailureReason:  m.FailureReason,
		LateCaptured:   m.LateCaptured,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, r := range m.Refunds {
		p.Refunds = append(p.Refunds, domain.Refund{
			ID:        r.ID,
			PaymentID: r.PaymentID,
			Amount:    r.Amount,
			Currency:  r.Currency,
			Reason:    r.Reason,
			Status:    r.Status,
			GatewayID: r.GatewayID,
			CreatedAt: r.CreatedAt,
		})
	}
	return p
}

// fromDomainPayment 不带退款明细，退款由仓储单独 upsert
func fromDomainPayment(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:             p.ID,
		OrderID:        p.OrderID,
		CustomerID:     p.CustomerID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.Method,
		Status:         p.Status,
		TransactionID:  p.TransactionID,
		RefundedAmount: p.RefundedAmount,
		FailureReason:  p.FailureReason,
		LateCaptured:   p.LateCaptured,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromDomainRefund(r domain.Refund) RefundModel {
	return RefundModel{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Reason:    r.Reason,
		Status:    r.Status,
		GatewayID: r.GatewayID,
		CreatedAt: r.CreatedAt,
	}
}
