package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

// PaymentService 处理网关回调结果、退款以及补偿退款。
type PaymentService struct {
	tx           domain.Transactor
	orders       domain.OrderRepository
	payments     domain.PaymentRepository
	reservations *ReservationStore
	gateways     *port.GatewayRegistry
	scheduler    port.SagaScheduler
	tracer       trace.Tracer
	now          func() time.Time
}

func NewPaymentService(tx domain.Transactor, orders domain.OrderRepository, payments domain.PaymentRepository,
	reservations *ReservationStore, gateways *port.GatewayRegistry, scheduler port.SagaScheduler) *PaymentService {
	return &PaymentService{
		tx:           tx,
		orders:       orders,
		payments:     payments,
		reservations: reservations,
		gateways:     gateways,
		scheduler:    scheduler,
		tracer:       otel.Tracer("payment-service"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// HandlePaymentCompleted 处理支付成功：
// 订单已确认（或更后）时直接成功返回，不会重复安排后续任务；
// 否则在一个事务里确认订单与支付，再安排 post-payment 任务（安排失败只记录日志）。
func (s *PaymentService) HandlePaymentCompleted(ctx context.Context, p domain.CheckoutJobPayload) error {
	ctx, span := s.tracer.Start(ctx, "payment.HandleCompleted", trace.WithAttributes(
		attribute.String("order.id", p.OrderID),
		attribute.String("payment.id", p.PaymentID),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", p.OrderID).Str("payment_id", p.PaymentID).Logger()

	var (
		order      *domain.Order
		skipped    bool
		confirmErr error
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.FindByID(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if order.Status.IsPaid() {
			skipped = true
			return nil
		}
		payment, err := s.paymentFor(ctx, order, p.PaymentID)
		if err != nil {
			return err
		}
		// 支付已失败或已作废，钱却到账了：状态不复活，记下迟到收款，任务失败后由补偿全额退回
		if payment.Status == domain.PaymentFailed || payment.Status == domain.PaymentCancelled {
			if err := payment.RecordLateCapture(p.TransactionID); err != nil {
				return err
			}
			if err := s.payments.Save(ctx, payment); err != nil {
				return err
			}
			confirmErr = &domain.DomainError{
				Code:    domain.CodeInvalidPaymentTransition,
				Message: "Payment " + payment.ID + " was collected after it was " + string(payment.Status),
			}
			return nil
		}
		if payment.Status != domain.PaymentCompleted {
			if err := payment.MarkCompleted(p.TransactionID); err != nil {
				return err
			}
		}
		if err := s.payments.Save(ctx, payment); err != nil {
			return err
		}
		// 订单已取消时钱仍然到账了：先记下收款，再让任务失败以触发补偿退款
		if confirmErr = order.ConfirmPayment(payment.ID); confirmErr != nil {
			return nil
		}
		return s.orders.Save(ctx, order)
	})
	if err == nil {
		err = confirmErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrap("HandlePaymentCompleted", err)
	}
	if skipped {
		log.Info().Str("status", string(order.Status)).Msg("payment already confirmed, nothing to do")
		return nil
	}
	log.Info().Msg("payment confirmed")

	reservationID := p.ReservationID
	if reservationID == "" {
		if res, err := s.reservations.FindActiveByOrderID(ctx, order.ID); err != nil {
			log.Warn().Err(err).Msg("could not resolve reservation for post-payment")
		} else if res != nil {
			reservationID = res.ID
		}
	}
	cartID := p.CartID
	if cartID == "" {
		cartID = order.CartID
	}
	if err := s.scheduler.SchedulePostPayment(ctx, order.ID, reservationID, cartID); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("failed to schedule post-payment job")
	}
	return nil
}

// HandlePaymentFailed 处理支付失败：订单已是 PAYMENT_FAILED、已取消或已越过支付确认时无操作，
// 迟到的失败回调不会回滚已支付的订单；否则标记订单与支付失败，再安排库存释放。
func (s *PaymentService) HandlePaymentFailed(ctx context.Context, p domain.CheckoutJobPayload) error {
	ctx, span := s.tracer.Start(ctx, "payment.HandleFailed", trace.WithAttributes(
		attribute.String("order.id", p.OrderID),
		attribute.String("payment.id", p.PaymentID),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", p.OrderID).Str("payment_id", p.PaymentID).Logger()

	var (
		order   *domain.Order
		skipped bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.FindByID(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderPaymentFailed || order.Status == domain.OrderCancelled || order.Status.IsPaid() {
			skipped = true
			return nil
		}
		payment, err := s.paymentFor(ctx, order, p.PaymentID)
		if err != nil {
			return err
		}
		if err := order.MarkPaymentFailed(); err != nil {
			return err
		}
		if payment.Status != domain.PaymentFailed {
			if err := payment.Fail(p.Reason); err != nil {
				return err
			}
		}
		if err := s.payments.Save(ctx, payment); err != nil {
			return err
		}
		return s.orders.Save(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrap("HandlePaymentFailed", err)
	}
	if skipped {
		log.Info().Str("status", string(order.Status)).Msg("order no longer awaits payment, failure ignored")
		return nil
	}
	log.Warn().Str("reason", p.Reason).Msg("payment failed")

	if p.ReservationID != "" {
		err = s.scheduler.ScheduleStockRelease(ctx, p.ReservationID, p.OrderID)
	} else {
		err = s.scheduler.ScheduleOrderStockRelease(ctx, p.OrderID)
	}
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("failed to schedule stock release after payment failure")
	}
	return nil
}

// Refund 通过网关退款并记录。金额校验在调用网关之前完成。
func (s *PaymentService) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, reason string) (*domain.Refund, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Refund", trace.WithAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("refund.amount", amount.String()),
	))
	defer span.End()

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, wrap("RefundPayment", err)
	}
	if err := payment.CanRefund(amount); err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(payment.Method)
	if err != nil {
		return nil, err
	}
	result, err := gw.Refund(ctx, payment.TransactionID, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrap("RefundPayment", domain.NewRepositoryError("gateway.refund", err))
	}
	if !result.Success {
		return nil, &domain.DomainError{Code: domain.CodeInvalidRefund, Message: "Refund rejected by gateway: " + result.Reason}
	}

	var refund *domain.Refund
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// 网关调用期间支付可能已被并发退款，重新读取后再记账
		fresh, err := s.payments.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		refund, err = fresh.AddRefund(uuid.NewString(), amount, reason, result.RefundID, s.now())
		if err != nil {
			return err
		}
		return s.payments.Save(ctx, fresh)
	})
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("payment_id", paymentID).Str("gateway_refund_id", result.RefundID).
			Msg("gateway refunded but recording the refund failed")
		return nil, wrap("RefundPayment", err)
	}
	logger.Ctx(ctx).Info().Str("payment_id", paymentID).Str("amount", amount.String()).Msg("payment refunded")
	return refund, nil
}

// CompensateRefund 是补偿链的第一步：已收款的退还剩余金额（不超过 orderTotal），
// 关闭后迟到的收款全额退回，未收款的作废，已经终结的什么都不做。重复执行是安全的。
func (s *PaymentService) CompensateRefund(ctx context.Context, paymentID string, orderTotal *decimal.Decimal) (RefundOutcome, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return RefundOutcomeNoop, wrap("CompensateRefund", err)
	}

	switch {
	case payment.OwesLateCaptureRefund():
		if err := s.refundLateCapture(ctx, payment); err != nil {
			return RefundOutcomeNoop, err
		}
		return RefundOutcomeRefunded, nil

	case payment.Status.IsRefundable():
		amount := payment.RemainingAmount()
		if orderTotal != nil && orderTotal.IsPositive() && orderTotal.LessThan(amount) {
			amount = *orderTotal
		}
		if _, err := s.Refund(ctx, paymentID, amount, "checkout compensation"); err != nil {
			return RefundOutcomeNoop, err
		}
		return RefundOutcomeRefunded, nil

	case payment.Status == domain.PaymentPending || payment.Status == domain.PaymentAuthorized || payment.Status == domain.PaymentNotRequiredYet:
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			p, err := s.payments.FindByID(ctx, paymentID)
			if err != nil {
				return err
			}
			if _, err := p.Cancel(); err != nil {
				return err
			}
			return s.payments.Save(ctx, p)
		})
		if err != nil {
			return RefundOutcomeNoop, wrap("CompensateRefund", err)
		}
		logger.Ctx(ctx).Info().Str("payment_id", paymentID).Msg("uncollected payment voided")
		return RefundOutcomeVoided, nil

	case payment.Status.IsSettled():
		logger.Ctx(ctx).Debug().Str("payment_id", paymentID).Str("status", string(payment.Status)).Msg("payment settled, nothing to refund")
	}
	return RefundOutcomeNoop, nil
}

// refundLateCapture 把关闭后才到账的钱全额退回，支付保持原来的 FAILED / CANCELLED 状态。
func (s *PaymentService) refundLateCapture(ctx context.Context, payment *domain.Payment) error {
	ctx, span := s.tracer.Start(ctx, "payment.RefundLateCapture", trace.WithAttributes(
		attribute.String("payment.id", payment.ID),
		attribute.String("refund.amount", payment.RemainingAmount().String()),
	))
	defer span.End()

	gw, err := s.gateways.Get(payment.Method)
	if err != nil {
		return err
	}
	result, err := gw.Refund(ctx, payment.TransactionID, payment.RemainingAmount())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrap("RefundLateCapture", domain.NewRepositoryError("gateway.refund", err))
	}
	if !result.Success {
		return &domain.DomainError{Code: domain.CodeInvalidRefund, Message: "Refund rejected by gateway: " + result.Reason}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		fresh, err := s.payments.FindByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		if _, err := fresh.AddLateCaptureRefund(uuid.NewString(), "late capture after payment closed", result.RefundID, s.now()); err != nil {
			return err
		}
		return s.payments.Save(ctx, fresh)
	})
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("payment_id", payment.ID).Str("gateway_refund_id", result.RefundID).
			Msg("gateway refunded late capture but recording the refund failed")
		return wrap("RefundLateCapture", err)
	}
	logger.Ctx(ctx).Warn().Str("payment_id", payment.ID).Str("status", string(payment.Status)).Msg("💸 late capture refunded")
	return nil
}

func (s *PaymentService) paymentFor(ctx context.Context, order *domain.Order, paymentID string) (*domain.Payment, error) {
	switch {
	case paymentID != "":
		return s.payments.FindByID(ctx, paymentID)
	case order.PaymentID != "":
		return s.payments.FindByID(ctx, order.PaymentID)
	default:
		return s.payments.FindByOrderID(ctx, order.ID)
	}
}
