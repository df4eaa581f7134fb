package domain

import (
	"context"
	"time"
)

// Transactor 在一个存储事务中执行 fn。嵌套调用复用外层事务。
// 仓储通过 ctx 感知当前事务。
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type InventoryRepository interface {
	FindByProductID(ctx context.Context, productID string) (*Inventory, error)
	// FindByProductIDForUpdate 在事务内读取并锁定库存行，事务外等同于 FindByProductID
	FindByProductIDForUpdate(ctx context.Context, productID string) (*Inventory, error)
	Save(ctx context.Context, inv *Inventory) error
}

type ReservationRepository interface {
	FindByID(ctx context.Context, id string) (*Reservation, error)
	// FindByIDForUpdate 在事务内读取并锁定预留单，并发的确认/释放/过期按行串行
	FindByIDForUpdate(ctx context.Context, id string) (*Reservation, error)
	FindByOrderID(ctx context.Context, orderID string) ([]*Reservation, error)
	FindPendingExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
	Save(ctx context.Context, r *Reservation) error
}

type OrderRepository interface {
	FindByID(ctx context.Context, id string) (*Order, error)
	// FindByStatusBefore 返回指定状态且创建时间早于 before 的订单
	FindByStatusBefore(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]*Order, error)
	Save(ctx context.Context, o *Order) error
}

type PaymentRepository interface {
	FindByID(ctx context.Context, id string) (*Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*Payment, error)
	Save(ctx context.Context, p *Payment) error
}
