package domain

import "time"

// Inventory 是单个商品的库存账本。
// 可用量和预留量只能通过下面的具名操作修改，任何操作都保证两者非负。
type Inventory struct {
	ID                string
	ProductID         string
	LowStockThreshold int
	LastRestockDate   *time.Time
	UpdatedAt         time.Time

	available int
	reserved  int
}

func NewInventory(id, productID string, available, lowStockThreshold int) (*Inventory, error) {
	if available < 0 || lowStockThreshold < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Inventory{
		ID:                id,
		ProductID:         productID,
		LowStockThreshold: lowStockThreshold,
		UpdatedAt:         time.Now().UTC(),
		available:         available,
	}, nil
}

// RestoreInventory 从持久化数据重建聚合，仅供仓储使用。
func RestoreInventory(id, productID string, available, reserved, lowStockThreshold int, lastRestock *time.Time, updatedAt time.Time) *Inventory {
	return &Inventory{
		ID:                id,
		ProductID:         productID,
		LowStockThreshold: lowStockThreshold,
		LastRestockDate:   lastRestock,
		UpdatedAt:         updatedAt,
		available:         available,
		reserved:          reserved,
	}
}

func (i *Inventory) Available() int { return i.available }
func (i *Inventory) Reserved() int  { return i.reserved }
func (i *Inventory) Total() int     { return i.available + i.reserved }

func (i *Inventory) IncreaseStock(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	i.available += q
	now := time.Now().UTC()
	i.LastRestockDate = &now
	i.touch()
	return nil
}

// ReturnStock 把已售出的 q 件退回可用量（补偿回滚），不算补货，不更新 LastRestockDate。
func (i *Inventory) ReturnStock(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	i.available += q
	i.touch()
	return nil
}

func (i *Inventory) DecreaseStock(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	if q > i.available {
		return NewInsufficientStock(i.available, q)
	}
	i.available -= q
	i.touch()
	return nil
}

// SetStock 直接设置可用量（盘点），不影响预留量。
func (i *Inventory) SetStock(q int) error {
	if q < 0 {
		return ErrInvalidQuantity
	}
	i.available = q
	i.touch()
	return nil
}

// ReserveStock 把 q 件从可用量移到预留量。
func (i *Inventory) ReserveStock(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	if q > i.available {
		return NewInsufficientStock(i.available, q)
	}
	i.available -= q
	i.reserved += q
	i.touch()
	return nil
}

// ReleaseReservation 把 q 件预留退回可用量。
func (i *Inventory) ReleaseReservation(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	if q > i.reserved {
		return newDomainError(CodeInsufficientReserved, "Cannot release %d units, only %d reserved", q, i.reserved)
	}
	i.reserved -= q
	i.available += q
	i.touch()
	return nil
}

// ConfirmReservation 消耗 q 件预留（已售出）。
func (i *Inventory) ConfirmReservation(q int) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	if q > i.reserved {
		return newDomainError(CodeInsufficientReserved, "Cannot confirm %d units, only %d reserved", q, i.reserved)
	}
	i.reserved -= q
	i.touch()
	return nil
}

// IsInStock 报告可用量是否至少为 q（q<=0 时按 1 计算）。
func (i *Inventory) IsInStock(q int) bool {
	if q <= 0 {
		q = 1
	}
	return i.available >= q
}

func (i *Inventory) HasLowStock() bool {
	return i.available > 0 && i.available <= i.LowStockThreshold
}

func (i *Inventory) CanFulfill(q int) bool {
	return q > 0 && i.available >= q
}

func (i *Inventory) touch() {
	i.UpdatedAt = time.Now().UTC()
}
