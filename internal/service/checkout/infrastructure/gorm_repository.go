package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// repoErr 把 GORM 错误转换为领域错误：记录不存在是业务错误，其余都视为存储暂不可用（可重试）
func repoErr(op string, err error, notFound domain.ErrorCode, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound(notFound, id)
	}
	return domain.NewRepositoryError(op, errors.WithStack(err))
}

func saveErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewRepositoryError(op, errors.Wrap(err, "save"))
}

// GormInventoryRepository 是 InventoryRepository 的 GORM 实现
type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

func (r *GormInventoryRepository) FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error) {
	var model InventoryModel
	err := conn(ctx, r.db).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		return nil, repoErr("inventory.find", err, domain.CodeInventoryNotFound, productID)
	}
	return toDomainInventory(&model), nil
}

// FindByProductIDForUpdate 在事务中使用 SELECT ... FOR UPDATE，并发预留同一商品时串行化
func (r *GormInventoryRepository) FindByProductIDForUpdate(ctx context.Context, productID string) (*domain.Inventory, error) {
	var model InventoryModel
	err := forUpdate(ctx, r.db).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		return nil, repoErr("inventory.find_for_update", err, domain.CodeInventoryNotFound, productID)
	}
	return toDomainInventory(&model), nil
}

func (r *GormInventoryRepository) Save(ctx context.Context, inv *domain.Inventory) error {
	return saveErr("inventory.save", conn(ctx, r.db).Save(fromDomainInventory(inv)).Error)
}

type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var model ReservationModel
	if err := conn(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		return nil, repoErr("reservation.find", err, domain.CodeReservationNotFound, id)
	}
	return toDomainReservation(&model), nil
}

func (r *GormReservationRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	var model ReservationModel
	if err := forUpdate(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		return nil, repoErr("reservation.find_for_update", err, domain.CodeReservationNotFound, id)
	}
	return toDomainReservation(&model), nil
}

// FindByOrderID 按创建时间升序返回
func (r *GormReservationRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	if err := conn(ctx, r.db).Where("order_id = ?", orderID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, repoErr("reservation.find_by_order", err, domain.CodeReservationNotFound, orderID)
	}
	list := make([]*domain.Reservation, len(models))
	for i := range models {
		list[i] = toDomainReservation(&models[i])
	}
	return list, nil
}

func (r *GormReservationRepository) FindPendingExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	q := conn(ctx, r.db).
		Where("status = ? AND expires_at < ?", domain.ReservationPending, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, domain.NewRepositoryError("reservation.find_pending_expired", errors.WithStack(err))
	}
	list := make([]*domain.Reservation, len(models))
	for i := range models {
		list[i] = toDomainReservation(&models[i])
	}
	return list, nil
}

func (r *GormReservationRepository) Save(ctx context.Context, res *domain.Reservation) error {
	return saveErr("reservation.save", conn(ctx, r.db).Save(fromDomainReservation(res)).Error)
}

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	if err := forUpdate(ctx, r.db).First(&model, "id = ?", id).Error; err != nil {
		return nil, repoErr("order.find", err, domain.CodeOrderNotFound, id)
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByStatusBefore(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	q := conn(ctx, r.db).
		Where("status = ? AND created_at < ?", status, before).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, domain.NewRepositoryError("order.find_by_status", errors.WithStack(err))
	}
	list := make([]*domain.Order, len(models))
	for i := range models {
		list[i] = toDomainOrder(&models[i])
	}
	return list, nil
}

func (r *GormOrderRepository) Save(ctx context.Context, o *domain.Order) error {
	return saveErr("order.save", conn(ctx, r.db).Save(fromDomainOrder(o)).Error)
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	var model PaymentModel
	err := forUpdate(ctx, r.db).First(&model, "id = ?", id).Error
	if err != nil {
		return nil, repoErr("payment.find", err, domain.CodePaymentNotFound, id)
	}
	// 预加载不能和 FOR UPDATE 一起用，退款明细单独查
	if err := conn(ctx, r.db).Where("payment_id = ?", id).Order("created_at ASC").Find(&model.Refunds).Error; err != nil {
		return nil, domain.NewRepositoryError("payment.find_refunds", errors.WithStack(err))
	}
	return toDomainPayment(&model), nil
}

// FindByOrderID 返回订单最近一次的支付
func (r *GormPaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	var model PaymentModel
	err := conn(ctx, r.db).Preload("Refunds").Where("order_id = ?", orderID).Order("created_at DESC").First(&model).Error
	if err != nil {
		return nil, repoErr("payment.find_by_order", err, domain.CodePaymentNotFound, orderID)
	}
	return toDomainPayment(&model), nil
}

// Save 保存支付及其退款明细。退款只追加不修改，按主键 upsert。
func (r *GormPaymentRepository) Save(ctx context.Context, p *domain.Payment) error {
	db := conn(ctx, r.db)
	if err := db.Omit(clause.Associations).Save(fromDomainPayment(p)).Error; err != nil {
		return saveErr("payment.save", err)
	}
	if len(p.Refunds) == 0 {
		return nil
	}
	refunds := make([]RefundModel, len(p.Refunds))
	for i, rf := range p.Refunds {
		refunds[i] = fromDomainRefund(rf)
	}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&refunds).Error
	return saveErr("payment.save_refunds", err)
}
