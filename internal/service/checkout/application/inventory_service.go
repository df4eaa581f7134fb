package application

import (
	"context"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// InventoryService 按商品 ID 暴露库存账本操作。
// 每个操作在一个事务内锁定库存行、执行领域操作并保存，检查与扣减是原子的。
type InventoryService struct {
	tx   domain.Transactor
	repo domain.InventoryRepository
}

func NewInventoryService(tx domain.Transactor, repo domain.InventoryRepository) *InventoryService {
	return &InventoryService{tx: tx, repo: repo}
}

func (s *InventoryService) Get(ctx context.Context, productID string) (*StockView, error) {
	inv, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		return nil, wrap("GetStock", err)
	}
	return toStockView(inv), nil
}

func (s *InventoryService) IncreaseStock(ctx context.Context, productID string, q int) (*StockView, error) {
	return s.adjust(ctx, "IncreaseStock", productID, func(inv *domain.Inventory) error { return inv.IncreaseStock(q) })
}

func (s *InventoryService) DecreaseStock(ctx context.Context, productID string, q int) (*StockView, error) {
	return s.adjust(ctx, "DecreaseStock", productID, func(inv *domain.Inventory) error { return inv.DecreaseStock(q) })
}

func (s *InventoryService) SetStock(ctx context.Context, productID string, q int) (*StockView, error) {
	return s.adjust(ctx, "SetStock", productID, func(inv *domain.Inventory) error { return inv.SetStock(q) })
}

func (s *InventoryService) ReserveStock(ctx context.Context, productID string, q int) (*StockView, error) {
	return s.adjust(ctx, "ReserveStock", productID, func(inv *domain.Inventory) error { return inv.ReserveStock(q) })
}

func (s *InventoryService) ReleaseReservation(ctx context.Context, productID string, q int) (*StockView, error) {
	return s.adjust(ctx, "ReleaseReservation", productID, func(inv *domain.Inventory) error { return inv.ReleaseReservation(q) })
}

func (s *InventoryService) ConfirmReservation(ctx context.Context, productID string, q int) (*StockView, error) {
	return s.adjust(ctx, "ConfirmReservation", productID, func(inv *domain.Inventory) error { return inv.ConfirmReservation(q) })
}

// CheckAvailability 返回无法满足的明细（空表示全部可满足）。只读，不做预留。
func (s *InventoryService) CheckAvailability(ctx context.Context, items []domain.ReservationItem) ([]Shortage, error) {
	var shortages []Shortage
	for _, it := range items {
		inv, err := s.repo.FindByProductID(ctx, it.ProductID)
		if err != nil {
			return nil, wrap("CheckAvailability", err)
		}
		if !inv.CanFulfill(it.Quantity) {
			shortages = append(shortages, Shortage{ProductID: it.ProductID, Requested: it.Quantity, Available: inv.Available()})
		}
	}
	return shortages, nil
}

func (s *InventoryService) adjust(ctx context.Context, op, productID string, fn func(inv *domain.Inventory) error) (*StockView, error) {
	var view *StockView
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.FindByProductIDForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if err := fn(inv); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, inv); err != nil {
			return err
		}
		view = toStockView(inv)
		return nil
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	if view.LowStock {
		logger.Ctx(ctx).Warn().Str("product_id", productID).Int("available", view.Available).Msg("product stock is low")
	}
	return view, nil
}
