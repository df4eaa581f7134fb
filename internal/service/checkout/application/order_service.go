package application

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

// OrderService 负责订单生命周期中与结账无关的后半段，以及取消。
type OrderService struct {
	tx        domain.Transactor
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	gateways  *port.GatewayRegistry
	scheduler port.SagaScheduler
	tracer    trace.Tracer
}

func NewOrderService(tx domain.Transactor, orders domain.OrderRepository, payments domain.PaymentRepository,
	gateways *port.GatewayRegistry, scheduler port.SagaScheduler) *OrderService {
	return &OrderService{
		tx:        tx,
		orders:    orders,
		payments:  payments,
		gateways:  gateways,
		scheduler: scheduler,
		tracer:    otel.Tracer("order-service"),
	}
}

func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	return o, wrap("GetOrder", err)
}

func (s *OrderService) Process(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.transition(ctx, "ProcessOrder", orderID, (*domain.Order).Process)
}

func (s *OrderService) Ship(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.transition(ctx, "ShipOrder", orderID, (*domain.Order).Ship)
}

// Deliver 标记送达。货到付款订单先通过 COD 网关收款并记录，再流转订单。
func (s *OrderService) Deliver(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Deliver", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, wrap("DeliverOrder", err)
	}
	if order.Status != domain.OrderShipped {
		return nil, order.Deliver()
	}

	var payment *domain.Payment
	if order.IsCOD() {
		payment, err = s.payments.FindByOrderID(ctx, orderID)
		if err != nil {
			return nil, wrap("DeliverOrder", err)
		}
		if payment.Status == domain.PaymentNotRequiredYet {
			gw, err := s.gateways.Get(payment.Method)
			if err != nil {
				return nil, err
			}
			res, err := gw.Capture(ctx, payment.ID, payment.Amount)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, wrap("CollectCashOnDelivery", domain.NewRepositoryError("cod.capture", err))
			}
			if err := payment.RecordCODCollection(res.TransactionID); err != nil {
				return nil, err
			}
		} else {
			payment = nil
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if payment != nil {
			if err := s.payments.Save(ctx, payment); err != nil {
				return err
			}
		}
		if err := order.Deliver(); err != nil {
			return err
		}
		return s.orders.Save(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		return nil, wrap("DeliverOrder", err)
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Bool("cod", order.IsCOD()).Msg("order delivered")
	return order, nil
}

// Cancel 取消订单并为其所有预留安排库存释放。已取消时幂等成功，不会重复安排。
// 安排释放失败只记录日志：过期清扫会兜底。
func (s *OrderService) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var (
		order   *domain.Order
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if changed, err = order.Cancel(); err != nil || !changed {
			return err
		}
		return s.orders.Save(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrap("CancelOrder", err)
	}
	if !changed {
		return order, nil
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("order cancelled")
	if err := s.scheduler.ScheduleOrderStockRelease(ctx, orderID); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to schedule stock release for cancelled order")
	}
	return order, nil
}

func (s *OrderService) transition(ctx context.Context, op, orderID string, fn func(*domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
		return s.orders.Save(ctx, order)
	})
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			logger.Ctx(ctx).Warn().Str("order_id", orderID).Str("op", op).Msg(de.Message)
		}
		return nil, wrap(op, err)
	}
	return order, nil
}
