package saga

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// ReservationLookup 是编排器查询订单预留所需的最小能力
type ReservationLookup interface {
	FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error)
}

// Orchestrator 实现 port.SagaScheduler：每个后续动作都是 checkout 队列上的独立任务。
type Orchestrator struct {
	queue        jobqueue.Queue
	reservations ReservationLookup
	tracer       trace.Tracer
}

func NewOrchestrator(queue jobqueue.Queue, reservations ReservationLookup) *Orchestrator {
	return &Orchestrator{
		queue:        queue,
		reservations: reservations,
		tracer:       otel.Tracer("saga-orchestrator"),
	}
}

// SchedulePostPayment 安排 confirm-reservation -> clear-cart 流程任务。
func (o *Orchestrator) SchedulePostPayment(ctx context.Context, orderID, reservationID, cartID string) error {
	ctx, span := o.tracer.Start(ctx, "saga.SchedulePostPayment", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("reservation.id", reservationID),
	))
	defer span.End()

	payload := domain.CheckoutJobPayload{OrderID: orderID, ReservationID: reservationID, CartID: cartID}
	job, err := o.queue.Enqueue(ctx, QueueCheckout, JobPostPayment, payload,
		jobqueue.WithJobID("post-payment:"+orderID),
		jobqueue.WithSteps(StepConfirmReservation, StepClearCart),
	)
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("job_id", job.ID).Msg("post-payment job scheduled")
	return nil
}

// ScheduleStockRelease 安排释放单个预留。
func (o *Orchestrator) ScheduleStockRelease(ctx context.Context, reservationID, orderID string) error {
	payload := domain.CheckoutJobPayload{OrderID: orderID, ReservationID: reservationID}
	job, err := o.queue.Enqueue(ctx, QueueCheckout, JobStockRelease, payload,
		jobqueue.WithJobID("stock-release:"+reservationID),
	)
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("reservation_id", reservationID).Str("job_id", job.ID).Msg("stock release scheduled")
	return nil
}

// ScheduleOrderStockRelease 为订单的每个未终结预留安排一个释放任务。
func (o *Orchestrator) ScheduleOrderStockRelease(ctx context.Context, orderID string) error {
	ctx, span := o.tracer.Start(ctx, "saga.ScheduleOrderStockRelease", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	list, err := o.reservations.FindByOrderID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	var errs []error
	for _, r := range list {
		if r.IsTerminal() {
			continue
		}
		if err := o.ScheduleStockRelease(ctx, r.ID, orderID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SchedulePaymentCompleted 是网关成功回调的入口。
func (o *Orchestrator) SchedulePaymentCompleted(ctx context.Context, payload domain.CheckoutJobPayload) error {
	_, err := o.queue.Enqueue(ctx, QueueCheckout, JobPaymentCompleted, payload,
		jobqueue.WithJobID("payment-completed:"+payload.OrderID+":"+payload.PaymentID),
	)
	return err
}

// SchedulePaymentFailed 是网关失败回调的入口。
func (o *Orchestrator) SchedulePaymentFailed(ctx context.Context, payload domain.CheckoutJobPayload) error {
	_, err := o.queue.Enqueue(ctx, QueueCheckout, JobPaymentFailed, payload,
		jobqueue.WithJobID("payment-failed:"+payload.OrderID+":"+payload.PaymentID),
	)
	return err
}

// HandleWebhook 把归一化的网关回调转成对应的任务。
func (o *Orchestrator) HandleWebhook(ctx context.Context, ev domain.PaymentWebhookEvent) error {
	payload := domain.CheckoutJobPayload{
		OrderID:       ev.OrderID,
		PaymentID:     ev.PaymentID,
		TransactionID: ev.TransactionID,
		Reason:        ev.Reason,
	}
	if ev.Succeeded {
		return o.SchedulePaymentCompleted(ctx, payload)
	}
	return o.SchedulePaymentFailed(ctx, payload)
}
