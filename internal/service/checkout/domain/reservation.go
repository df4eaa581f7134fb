package domain

import "time"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

type ReservationItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Reservation 是一次结账对若干商品库存的限时占用，创建后明细不可变。
type Reservation struct {
	ID        string
	OrderID   string
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	items []ReservationItem
}

func NewReservation(id, orderID string, items []ReservationItem, ttl time.Duration, now time.Time) (*Reservation, error) {
	if len(items) == 0 {
		return nil, newDomainError(CodeInvalidReservation, "Reservation must contain at least one item")
	}
	for _, it := range items {
		if it.ProductID == "" {
			return nil, newDomainError(CodeInvalidReservation, "Reservation item is missing a product id")
		}
		if it.Quantity <= 0 {
			return nil, newDomainError(CodeInvalidReservation, "Reservation quantity for product %s must be positive", it.ProductID)
		}
	}
	if ttl <= 0 {
		return nil, newDomainError(CodeInvalidReservation, "Reservation TTL must be positive")
	}
	return &Reservation{
		ID:        id,
		OrderID:   orderID,
		Status:    ReservationPending,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
		items:     append([]ReservationItem(nil), items...),
	}, nil
}

// RestoreReservation 从持久化数据重建，仅供仓储使用。
func RestoreReservation(id, orderID string, status ReservationStatus, items []ReservationItem, expiresAt, createdAt, updatedAt time.Time) *Reservation {
	return &Reservation{
		ID:        id,
		OrderID:   orderID,
		Status:    status,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		items:     append([]ReservationItem(nil), items...),
	}
}

// Items 返回明细的副本。
func (r *Reservation) Items() []ReservationItem {
	return append([]ReservationItem(nil), r.items...)
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsTerminal 报告预留是否已经释放或过期。
func (r *Reservation) IsTerminal() bool {
	return r.Status == ReservationReleased || r.Status == ReservationExpired
}

// CanConfirm 检查确认的前置条件：PENDING 且未过期。
func (r *Reservation) CanConfirm(now time.Time) error {
	if r.Status != ReservationPending {
		return newDomainError(CodeInvalidReservationState, "Cannot confirm reservation %s in status %s", r.ID, r.Status)
	}
	if r.IsExpired(now) {
		return newDomainError(CodeReservationExpired, "Reservation %s expired at %s", r.ID, r.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (r *Reservation) MarkConfirmed(now time.Time) error {
	if err := r.CanConfirm(now); err != nil {
		return err
	}
	r.Status = ReservationConfirmed
	r.UpdatedAt = now
	return nil
}

// MarkReleased 标记为已释放。已释放或已过期时返回 false，表示无需再动库存。
func (r *Reservation) MarkReleased(now time.Time) bool {
	if r.IsTerminal() {
		return false
	}
	r.Status = ReservationReleased
	r.UpdatedAt = now
	return true
}

func (r *Reservation) MarkExpired(now time.Time) error {
	if r.Status != ReservationPending {
		return newDomainError(CodeInvalidReservationState, "Cannot expire reservation %s in status %s", r.ID, r.Status)
	}
	r.Status = ReservationExpired
	r.UpdatedAt = now
	return nil
}
