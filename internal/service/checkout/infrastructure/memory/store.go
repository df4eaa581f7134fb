// Package memory 提供进程内的仓储实现，用于测试和本地开发。
// 所有仓储共享一个 Store，事务通过整库快照回滚实现。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

type txKey struct{}

type Store struct {
	mu           sync.Mutex
	inventories  map[string]domain.Inventory // key: productID
	reservations map[string]domain.Reservation
	orders       map[string]domain.Order
	payments     map[string]domain.Payment
}

func NewStore() *Store {
	return &Store{
		inventories:  make(map[string]domain.Inventory),
		reservations: make(map[string]domain.Reservation),
		orders:       make(map[string]domain.Order),
		payments:     make(map[string]domain.Payment),
	}
}

// WithinTx 持有整库锁执行 fn，fn 返回错误时恢复到执行前的快照。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock 在事务外加锁，事务内锁已经被持有。
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	inventories  map[string]domain.Inventory
	reservations map[string]domain.Reservation
	orders       map[string]domain.Order
	payments     map[string]domain.Payment
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		inventories:  cloneMap(s.inventories),
		reservations: cloneMap(s.reservations),
		orders:       cloneMap(s.orders),
		payments:     cloneMap(s.payments),
	}
}

func (s *Store) restore(snap snapshot) {
	s.inventories = snap.inventories
	s.reservations = snap.reservations
	s.orders = snap.orders
	s.payments = snap.payments
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---- Inventory ----

type InventoryRepository struct{ s *Store }

func (s *Store) Inventories() *InventoryRepository { return &InventoryRepository{s: s} }

func (r *InventoryRepository) FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error) {
	defer r.s.lock(ctx)()
	inv, ok := r.s.inventories[productID]
	if !ok {
		return nil, domain.NotFound(domain.CodeInventoryNotFound, productID)
	}
	return &inv, nil
}

func (r *InventoryRepository) FindByProductIDForUpdate(ctx context.Context, productID string) (*domain.Inventory, error) {
	return r.FindByProductID(ctx, productID)
}

func (r *InventoryRepository) Save(ctx context.Context, inv *domain.Inventory) error {
	defer r.s.lock(ctx)()
	r.s.inventories[inv.ProductID] = *inv
	return nil
}

// ---- Reservation ----

type ReservationRepository struct{ s *Store }

func (s *Store) Reservations() *ReservationRepository { return &ReservationRepository{s: s} }

func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	defer r.s.lock(ctx)()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, domain.NotFound(domain.CodeReservationNotFound, id)
	}
	return &res, nil
}

// FindByIDForUpdate 内存存储的事务本身就是串行的
func (r *ReservationRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r *ReservationRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	defer r.s.lock(ctx)()
	var out []*domain.Reservation
	for _, res := range r.s.reservations {
		if res.OrderID == orderID {
			res := res
			out = append(out, &res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ReservationRepository) FindPendingExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	defer r.s.lock(ctx)()
	var out []*domain.Reservation
	for _, res := range r.s.reservations {
		if res.Status == domain.ReservationPending && res.ExpiresAt.Before(now) {
			res := res
			out = append(out, &res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReservationRepository) Save(ctx context.Context, res *domain.Reservation) error {
	defer r.s.lock(ctx)()
	r.s.reservations[res.ID] = *res
	return nil
}

// ---- Order ----

type OrderRepository struct{ s *Store }

func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.NotFound(domain.CodeOrderNotFound, id)
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return &o, nil
}

func (r *OrderRepository) FindByStatusBefore(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	defer r.s.lock(ctx)()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.Status == status && o.CreatedAt.Before(before) {
			o := o
			o.Items = append([]domain.OrderItem(nil), o.Items...)
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) error {
	defer r.s.lock(ctx)()
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	r.s.orders[o.ID] = c
	return nil
}

// ---- Payment ----

type PaymentRepository struct{ s *Store }

func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s: s} }

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.NotFound(domain.CodePaymentNotFound, id)
	}
	p.Refunds = append([]domain.Refund(nil), p.Refunds...)
	return &p, nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	defer r.s.lock(ctx)()
	var latest *domain.Payment
	for _, p := range r.s.payments {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			p := p
			latest = &p
		}
	}
	if latest == nil {
		return nil, domain.NotFound(domain.CodePaymentNotFound, "for order "+orderID)
	}
	latest.Refunds = append([]domain.Refund(nil), latest.Refunds...)
	return latest, nil
}

func (r *PaymentRepository) Save(ctx context.Context, p *domain.Payment) error {
	defer r.s.lock(ctx)()
	c := *p
	c.Refunds = append([]domain.Refund(nil), p.Refunds...)
	r.s.payments[p.ID] = c
	return nil
}
