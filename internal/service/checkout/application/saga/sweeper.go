package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

const defaultSweepBatch = 500

// OrderFilter 对候选订单做额外筛选，返回 false 的订单本轮不处理
type OrderFilter interface {
	Match(ctx context.Context, order *domain.Order, now time.Time) (bool, error)
}

type SweepResult struct {
	CancelledCount int `json:"cancelledCount"`
	FailedCount    int `json:"failedCount"`
}

type ReservationSweepResult struct {
	ExpiredCount int `json:"expiredCount"`
	FailedCount  int `json:"failedCount"`
}

// ExpirationSweeper 兜底处理一直没有收到终态事件的订单和预留。
type ExpirationSweeper struct {
	orders       domain.OrderRepository
	orderService *application.OrderService
	reservations *application.ReservationStore
	filter       OrderFilter
	batch        int
	now          func() time.Time
	tracer       trace.Tracer
}

type SweeperOption func(*ExpirationSweeper)

func WithOrderFilter(f OrderFilter) SweeperOption {
	return func(s *ExpirationSweeper) { s.filter = f }
}

func WithSweepBatch(n int) SweeperOption {
	return func(s *ExpirationSweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *ExpirationSweeper) { s.now = now }
}

func NewExpirationSweeper(orders domain.OrderRepository, orderService *application.OrderService,
	reservations *application.ReservationStore, opts ...SweeperOption) *ExpirationSweeper {
	s := &ExpirationSweeper{
		orders:       orders,
		orderService: orderService,
		reservations: reservations,
		batch:        defaultSweepBatch,
		now:          func() time.Time { return time.Now().UTC() },
		tracer:       otel.Tracer("expiration-sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepExpiredOrders 取消创建时间早于 now-threshold 且仍在等待支付的订单。
// 走与其他地方相同的 Cancel 路径，因此库存释放任务会照常安排。单个订单失败不影响其余订单。
func (s *ExpirationSweeper) SweepExpiredOrders(ctx context.Context, threshold time.Duration) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.SweepExpiredOrders", trace.WithAttributes(
		attribute.String("threshold", threshold.String()),
	))
	defer span.End()

	now := s.now()
	var result SweepResult
	candidates, err := s.orders.FindByStatusBefore(ctx, domain.OrderPendingPayment, now.Add(-threshold), s.batch)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	for _, order := range candidates {
		if s.filter != nil {
			ok, err := s.filter.Match(ctx, order, now)
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("sweep filter error, order skipped")
				continue
			}
			if !ok {
				continue
			}
		}
		if _, err := s.orderService.Cancel(ctx, order.ID); err != nil {
			result.FailedCount++
			sweptEntities.WithLabelValues("order", "failed").Inc()
			logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to cancel expired order")
			continue
		}
		result.CancelledCount++
		sweptEntities.WithLabelValues("order", "cancelled").Inc()
	}

	span.SetAttributes(
		attribute.Int("sweep.cancelled", result.CancelledCount),
		attribute.Int("sweep.failed", result.FailedCount),
	)
	if result.CancelledCount > 0 || result.FailedCount > 0 {
		logger.Ctx(ctx).Info().Int("cancelled", result.CancelledCount).Int("failed", result.FailedCount).Msg("expired orders swept")
	}
	return result, nil
}

// SweepExpiredReservations 把已过期的 PENDING 预留标记为 EXPIRED，库存退回可用。
func (s *ExpirationSweeper) SweepExpiredReservations(ctx context.Context) (ReservationSweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.SweepExpiredReservations")
	defer span.End()

	var result ReservationSweepResult
	list, err := s.reservations.FindPendingExpired(ctx, s.batch)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	for _, res := range list {
		if _, err := s.reservations.Expire(ctx, res.ID); err != nil {
			result.FailedCount++
			sweptEntities.WithLabelValues("reservation", "failed").Inc()
			logger.Ctx(ctx).Error().Err(err).Str("reservation_id", res.ID).Msg("failed to expire reservation")
			continue
		}
		result.ExpiredCount++
		sweptEntities.WithLabelValues("reservation", "expired").Inc()
	}
	if result.ExpiredCount > 0 || result.FailedCount > 0 {
		logger.Ctx(ctx).Info().Int("expired", result.ExpiredCount).Int("failed", result.FailedCount).Msg("expired reservations swept")
	}
	return result, nil
}
