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
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

const defaultCurrency = "USD"

// CheckoutService 是结账流程的入口：购物车 -> 待支付订单 -> 库存预留 -> 支付授权。
// 之后的推进全部由网关回调触发的任务完成。
type CheckoutService struct {
	tx             domain.Transactor
	orders         domain.OrderRepository
	payments       domain.PaymentRepository
	reservations   *ReservationStore
	carts          port.CartService
	customers      port.CustomerReader
	gateways       *port.GatewayRegistry
	scheduler      port.SagaScheduler
	reservationTTL time.Duration
	tracer         trace.Tracer
	now            func() time.Time
}

type CheckoutDeps struct {
	Tx             domain.Transactor
	Orders         domain.OrderRepository
	Payments       domain.PaymentRepository
	Reservations   *ReservationStore
	Carts          port.CartService
	Customers      port.CustomerReader // 可选
	Gateways       *port.GatewayRegistry
	Scheduler      port.SagaScheduler
	ReservationTTL time.Duration
}

func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	ttl := d.ReservationTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CheckoutService{
		tx:             d.Tx,
		orders:         d.Orders,
		payments:       d.Payments,
		reservations:   d.Reservations,
		carts:          d.Carts,
		customers:      d.Customers,
		gateways:       d.Gateways,
		scheduler:      d.Scheduler,
		reservationTTL: ttl,
		tracer:         otel.Tracer("checkout-service"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("cart.id", req.CartID),
		attribute.String("payment.method", string(req.PaymentMethod)),
	))
	defer span.End()

	result, err := s.checkout(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(ctx).Error().Err(err).Str("cart_id", req.CartID).Msg("checkout failed")
	}
	return result, err
}

func (s *CheckoutService) checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	gw, err := s.gateways.Get(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if s.customers != nil {
		if _, err := s.customers.GetCustomer(ctx, req.CustomerID); err != nil {
			return nil, wrap("Checkout", err)
		}
	}

	// 1. 读取购物车并生成待支付订单
	cart, err := s.carts.GetCart(ctx, req.CartID)
	if err != nil {
		return nil, wrap("Checkout", domain.NewRepositoryError("cart.get", err))
	}
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	currency := cart.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	order, err := domain.NewOrder(uuid.NewString(), req.CustomerID, cart.ID, items, req.PaymentMethod, currency, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, wrap("Checkout", err)
	}

	// 2. 预留库存；失败则取消订单（订单不会被删除）
	ttl := req.ReservationTTL
	if ttl <= 0 {
		ttl = s.reservationTTL
	}
	reservation, err := s.reservations.Create(ctx, order.ID, order.ReservationItems(), ttl)
	if err != nil {
		if _, cerr := order.Cancel(); cerr == nil {
			if serr := s.orders.Save(ctx, order); serr != nil {
				logger.Ctx(ctx).Error().Err(serr).Str("order_id", order.ID).Msg("failed to cancel order after reservation failure")
			}
		}
		return nil, err
	}

	// 3. 创建支付
	payment, err := domain.NewPayment(uuid.NewString(), order, s.now())
	if err != nil {
		return nil, err
	}
	order.PaymentID = payment.ID
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Save(ctx, payment); err != nil {
			return err
		}
		return s.orders.Save(ctx, order)
	})
	if err != nil {
		s.releaseQuietly(ctx, reservation.ID, order.ID)
		return nil, wrap("Checkout", err)
	}

	result := &CheckoutResult{
		OrderID:       order.ID,
		OrderStatus:   order.Status,
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
		ReservationID: reservation.ID,
		ExpiresAt:     reservation.ExpiresAt,
		Total:         order.TotalPrice,
	}
	payload := domain.CheckoutJobPayload{
		OrderID:       order.ID,
		CartID:        cart.ID,
		PaymentID:     payment.ID,
		ReservationID: reservation.ID,
		OrderTotal:    &order.TotalPrice,
	}

	// 4. 向网关发起授权
	details := port.PaymentDetails{OrderID: order.ID, PaymentID: payment.ID, CustomerID: order.CustomerID}
	auth, err := gw.Authorize(ctx, payment.Amount, payment.Currency, details)
	if err != nil {
		payload.Reason = err.Error()
		s.scheduleFailure(ctx, payload)
		return result, wrap("Checkout", domain.NewRepositoryError("gateway.authorize", err))
	}
	if !auth.Success {
		payload.Reason = auth.FailureReason
		s.scheduleFailure(ctx, payload)
		result.PaymentStatus = domain.PaymentFailed
		return result, nil
	}
	result.ClientSecret = auth.ClientSecret
	payload.TransactionID = auth.TransactionID

	switch auth.Status {
	case domain.PaymentNotRequiredYet:
		// 货到付款：订单立即确认，收款推迟到送达
		if err := s.confirmCOD(ctx, order.ID, payment.ID); err != nil {
			return result, err
		}
		result.OrderStatus = domain.OrderConfirmed
		if err := s.scheduler.SchedulePostPayment(ctx, order.ID, reservation.ID, cart.ID); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to schedule post-payment job")
		}
	case domain.PaymentCompleted, domain.PaymentCaptured:
		if err := s.recordAuthorization(ctx, payment.ID, auth.TransactionID, true); err != nil {
			return result, err
		}
		result.PaymentStatus = domain.PaymentCaptured
		if err := s.scheduler.SchedulePaymentCompleted(ctx, payload); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to schedule payment completion")
		}
	default:
		// 等待网关回调
		if err := s.recordAuthorization(ctx, payment.ID, auth.TransactionID, false); err != nil {
			return result, err
		}
		result.PaymentStatus = domain.PaymentAuthorized
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("reservation_id", reservation.ID).
		Str("payment_status", string(result.PaymentStatus)).
		Msg("checkout accepted")
	return result, nil
}

func (s *CheckoutService) confirmCOD(ctx context.Context, orderID, paymentID string) error {
	return wrap("Checkout", s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := o.ConfirmPayment(paymentID); err != nil {
			return err
		}
		return s.orders.Save(ctx, o)
	}))
}

// recordAuthorization 记录授权；网关同步扣款时同时推进到 CAPTURED，最终的 COMPLETED 由 payment.completed 任务完成
func (s *CheckoutService) recordAuthorization(ctx context.Context, paymentID, transactionID string, captured bool) error {
	return wrap("Checkout", s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Authorize(transactionID); err != nil {
			return err
		}
		if captured {
			if err := p.Capture(); err != nil {
				return err
			}
		}
		return s.payments.Save(ctx, p)
	}))
}

func (s *CheckoutService) scheduleFailure(ctx context.Context, payload domain.CheckoutJobPayload) {
	if err := s.scheduler.SchedulePaymentFailed(ctx, payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", payload.OrderID).Msg("failed to schedule payment failure, sweeper will clean up")
	}
}

func (s *CheckoutService) releaseQuietly(ctx context.Context, reservationID, orderID string) {
	if _, err := s.reservations.Release(ctx, reservationID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", reservationID).Str("order_id", orderID).Msg("failed to release reservation")
	}
}
