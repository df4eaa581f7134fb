package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// InventoryModel 对应 inventories 表，一个商品一行
type InventoryModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	ProductID         string `gorm:"uniqueIndex;size:64"`
	Available         int
	Reserved          int
	LowStockThreshold int
	LastRestockDate   *time.Time
	UpdatedAt         time.Time
}

func (InventoryModel) TableName() string {
	return "inventories"
}

// ReservationModel 对应 reservations 表，明细以 JSON 存储
type ReservationModel struct {
	ID        string                   `gorm:"primaryKey;size:64"`
	OrderID   string                   `gorm:"index;size:64"`
	Status    domain.ReservationStatus `gorm:"size:16;index:idx_reservation_status_expires,priority:1"`
	Items     []domain.ReservationItem `gorm:"serializer:json;type:text"`
	ExpiresAt time.Time                `gorm:"index:idx_reservation_status_expires,priority:2"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ReservationModel) TableName() string {
	return "reservations"
}

type OrderModel struct {
	ID            string               `gorm:"primaryKey;size:64"`
	CustomerID    string               `gorm:"index;size:64"`
	CartID        string               `gorm:"size:64"`
	Items         []domain.OrderItem   `gorm:"serializer:json;type:text"`
	Status        domain.OrderStatus   `gorm:"size:32;index:idx_order_status_created,priority:1"`
	TotalPrice    decimal.Decimal      `gorm:"type:decimal(12,2)"`
	Currency      string               `gorm:"size:8"`
	PaymentMethod domain.PaymentMethod `gorm:"size:32"`
	PaymentID     string               `gorm:"size:64"`
	CreatedAt     time.Time            `gorm:"index:idx_order_status_created,priority:2"`
	UpdatedAt     time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

type PaymentModel struct {
	ID             string               `gorm:"primaryKey;size:64"`
	OrderID        string               `gorm:"index;size:64"`
	CustomerID     string               `gorm:"size:64"`
	Amount         decimal.Decimal      `gorm:"type:decimal(12,2)"`
	Currency       string               `gorm:"size:8"`
	Method         domain.PaymentMethod `gorm:"size:32"`
	Status         domain.PaymentStatus `gorm:"size:32"`
	TransactionID  string               `gorm:"size:128"`
	RefundedAmount decimal.Decimal      `gorm:"type:decimal(12,2)"`
	FailureReason  string               `gorm:"size:255"`
	LateCaptured   bool                 `gorm:"default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// 关联关系
	Refunds []RefundModel `gorm:"foreignKey:PaymentID"`
}

func (PaymentModel) TableName() string {
	return "payments"
}

type RefundModel struct {
	ID        string              `gorm:"primaryKey;size:64"`
	PaymentID string              `gorm:"index;size:64"`
	Amount    decimal.Decimal     `gorm:"type:decimal(12,2)"`
	Currency  string              `gorm:"size:8"`
	Reason    string              `gorm:"size:255"`
	Status    domain.RefundStatus `gorm:"size:16"`
	GatewayID string              `gorm:"size:128"`
	CreatedAt time.Time
}

func (RefundModel) TableName() string {
	return "refunds"
}

// Models 返回需要迁移的全部模型
func Models() []any {
	return []any{&InventoryModel{}, &ReservationModel{}, &OrderModel{}, &PaymentModel{}, &RefundModel{}}
}
