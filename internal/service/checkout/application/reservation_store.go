package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// ReservationStore 管理限时库存占用。
// 每个操作把所有库存行和预留单本身放在同一个事务里更新，失败时不会留下部分占用。
type ReservationStore struct {
	tx           domain.Transactor
	inventories  domain.InventoryRepository
	reservations domain.ReservationRepository
	tracer       trace.Tracer
	now          func() time.Time
}

func NewReservationStore(tx domain.Transactor, inventories domain.InventoryRepository, reservations domain.ReservationRepository) *ReservationStore {
	return &ReservationStore{
		tx:           tx,
		inventories:  inventories,
		reservations: reservations,
		tracer:       otel.Tracer("reservation-store"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时间源（测试用）
func (s *ReservationStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create 为订单逐行预留库存。任何一行失败整个预留回滚。
func (s *ReservationStore) Create(ctx context.Context, orderID string, items []domain.ReservationItem, ttl time.Duration) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Create", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("reservation.lines", len(items)),
	))
	defer span.End()

	res, err := domain.NewReservation(uuid.NewString(), orderID, items, ttl, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, it := range res.Items() {
			if err := s.applyLine(ctx, it, (*domain.Inventory).ReserveStock); err != nil {
				return err
			}
		}
		return s.reservations.Save(ctx, res)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrap("CreateReservation", err)
	}

	logger.Ctx(ctx).Info().
		Str("reservation_id", res.ID).
		Str("order_id", orderID).
		Time("expires_at", res.ExpiresAt).
		Msg("stock reserved")
	return res, nil
}

// Confirm 把预留转为已售：只允许 PENDING 且未过期。
func (s *ReservationStore) Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Confirm", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer span.End()

	var res *domain.Reservation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reservations.FindByIDForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := res.MarkConfirmed(s.now()); err != nil {
			return err
		}
		for _, it := range res.Items() {
			if err := s.applyLine(ctx, it, (*domain.Inventory).ConfirmReservation); err != nil {
				return err
			}
		}
		return s.reservations.Save(ctx, res)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrap("ConfirmReservation", err)
	}
	logger.Ctx(ctx).Info().Str("reservation_id", reservationID).Str("order_id", res.OrderID).Msg("reservation confirmed")
	return res, nil
}

// Release 退回预留的库存。已释放或已过期时是无操作的成功。
// 已确认的预留（库存已被消耗）会把数量加回可用库存。预留单行锁保证并发的重复释放只生效一次。
func (s *ReservationStore) Release(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Release", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer span.End()

	var (
		res     *domain.Reservation
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reservations.FindByIDForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		wasConfirmed := res.Status == domain.ReservationConfirmed
		if changed = res.MarkReleased(s.now()); !changed {
			return nil
		}
		op := (*domain.Inventory).ReleaseReservation
		if wasConfirmed {
			op = (*domain.Inventory).ReturnStock
		}
		for _, it := range res.Items() {
			if err := s.applyLine(ctx, it, op); err != nil {
				return err
			}
		}
		return s.reservations.Save(ctx, res)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrap("ReleaseReservation", err)
	}
	if changed {
		logger.Ctx(ctx).Info().Str("reservation_id", reservationID).Str("order_id", res.OrderID).Msg("reservation released")
	} else {
		logger.Ctx(ctx).Debug().Str("reservation_id", reservationID).Str("status", string(res.Status)).Msg("reservation already terminal, release skipped")
	}
	return res, nil
}

// Expire 只允许从 PENDING 过期，占用的库存退回可用量。
func (s *ReservationStore) Expire(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Expire", trace.WithAttributes(attribute.String("reservation.id", reservationID)))
	defer span.End()

	var res *domain.Reservation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reservations.FindByIDForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := res.MarkExpired(s.now()); err != nil {
			return err
		}
		for _, it := range res.Items() {
			if err := s.applyLine(ctx, it, (*domain.Inventory).ReleaseReservation); err != nil {
				return err
			}
		}
		return s.reservations.Save(ctx, res)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrap("ExpireReservation", err)
	}
	logger.Ctx(ctx).Info().Str("reservation_id", reservationID).Str("order_id", res.OrderID).Msg("reservation expired")
	return res, nil
}

func (s *ReservationStore) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := s.reservations.FindByID(ctx, reservationID)
	return res, wrap("GetReservation", err)
}

func (s *ReservationStore) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	list, err := s.reservations.FindByOrderID(ctx, orderID)
	return list, wrap("FindReservationsByOrder", err)
}

// FindActiveByOrderID 返回订单最近一个未终结（PENDING / CONFIRMED）的预留，没有时返回 nil。
func (s *ReservationStore) FindActiveByOrderID(ctx context.Context, orderID string) (*domain.Reservation, error) {
	list, err := s.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].IsTerminal() {
			return list[i], nil
		}
	}
	return nil, nil
}

func (s *ReservationStore) FindPendingExpired(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	list, err := s.reservations.FindPendingExpired(ctx, s.now(), limit)
	return list, wrap("FindPendingExpiredReservations", err)
}

func (s *ReservationStore) applyLine(ctx context.Context, it domain.ReservationItem, op func(*domain.Inventory, int) error) error {
	inv, err := s.inventories.FindByProductIDForUpdate(ctx, it.ProductID)
	if err != nil {
		return err
	}
	if err := op(inv, it.Quantity); err != nil {
		return err
	}
	return s.inventories.Save(ctx, inv)
}
