package saga

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// StepResult 记录补偿链中一个步骤的执行情况
type StepResult struct {
	Step     string
	Skipped  bool
	Err      error
	Requeued bool
}

type CompensationReport struct {
	OrderID string
	Steps   []StepResult
}

// Failed 返回失败步骤的数量
func (r CompensationReport) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// CompensationCoordinator 订阅 checkout 队列的任务失败事件，按 退款 -> 取消订单 -> 释放预留
// 的顺序尽力回滚。各步骤互不阻塞；失败且可重试的步骤作为独立任务投递到 compensation 队列。
type CompensationCoordinator struct {
	queue        jobqueue.Queue
	payments     *application.PaymentService
	orders       *application.OrderService
	reservations *application.ReservationStore
	tracer       trace.Tracer

	mu           sync.Mutex
	unsubscribes []func()
}

func NewCompensationCoordinator(queue jobqueue.Queue, payments *application.PaymentService,
	orders *application.OrderService, reservations *application.ReservationStore) *CompensationCoordinator {
	return &CompensationCoordinator{
		queue:        queue,
		payments:     payments,
		orders:       orders,
		reservations: reservations,
		tracer:       otel.Tracer("compensation-coordinator"),
	}
}

// Start 注册失败订阅。重复调用不会重复订阅。
func (c *CompensationCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unsubscribes) > 0 {
		return
	}
	c.unsubscribes = append(c.unsubscribes, c.queue.OnFailed(QueueCheckout, c.onJobFailed))
	logger.L().Info().Str("queue", QueueCheckout).Msg("✅ Compensation coordinator subscribed")
}

// Stop 取消所有订阅。
func (c *CompensationCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unsubscribe := range c.unsubscribes {
		unsubscribe()
	}
	c.unsubscribes = nil
	logger.L().Info().Str("queue", QueueCheckout).Msg("✅ Compensation coordinator unsubscribed")
}

func (c *CompensationCoordinator) onJobFailed(ctx context.Context, ev jobqueue.FailedEvent) {
	// 失败事件在处理任务的 goroutine 中同步触发，补偿不应被任务的取消信号打断
	ctx = context.WithoutCancel(ctx)
	log := logger.Ctx(ctx).With().Str("job_id", ev.Job.ID).Str("job", ev.Job.Name).Logger()

	var p domain.CheckoutJobPayload
	if err := ev.Job.Decode(&p); err != nil {
		log.Error().Err(err).Msg("cannot decode failed job payload, compensation skipped")
		return
	}
	if p.OrderID == "" && p.PaymentID == "" && p.ReservationID == "" {
		log.Warn().Msg("failed job carries no compensation targets")
		return
	}
	log.Warn().Err(ev.Err).Str("order_id", p.OrderID).Msg("checkout job failed, starting compensation")
	c.Compensate(ctx, p)
}

// Compensate 依次执行三个补偿步骤，返回每一步的结果。
func (c *CompensationCoordinator) Compensate(ctx context.Context, p domain.CheckoutJobPayload) CompensationReport {
	ctx, span := c.tracer.Start(ctx, "saga.Compensate", trace.WithAttributes(attribute.String("order.id", p.OrderID)))
	defer span.End()

	report := CompensationReport{OrderID: p.OrderID}

	// 缺少支付或预留 ID 时通过订单反查
	if p.PaymentID == "" && p.OrderID != "" {
		if order, err := c.orders.Get(ctx, p.OrderID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", p.OrderID).Msg("could not resolve payment for compensation")
		} else {
			p.PaymentID = order.PaymentID
		}
	}
	if p.ReservationID == "" && p.OrderID != "" {
		res, err := c.reservations.FindActiveByOrderID(ctx, p.OrderID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", p.OrderID).Msg("could not resolve reservation for compensation")
		} else if res != nil {
			p.ReservationID = res.ID
		}
	}

	for _, step := range []string{CompensationRefund, CompensationCancel, CompensationRelease} {
		result := StepResult{Step: step}
		if !hasTarget(step, p) {
			result.Skipped = true
			report.Steps = append(report.Steps, result)
			continue
		}
		result.Err = c.RunStep(ctx, step, p)
		if result.Err != nil {
			span.RecordError(result.Err)
			compensationSteps.WithLabelValues(step, "failed").Inc()
			logger.Ctx(ctx).Error().Err(result.Err).Str("step", step).Str("order_id", p.OrderID).Msg("compensation step failed")
			result.Requeued = c.requeue(ctx, step, p, result.Err)
		} else {
			compensationSteps.WithLabelValues(step, "ok").Inc()
		}
		report.Steps = append(report.Steps, result)
	}
	if n := report.Failed(); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d compensation steps failed", n))
	}
	logger.Ctx(ctx).Info().Str("order_id", p.OrderID).Int("failed_steps", report.Failed()).Msg("compensation finished")
	return report
}

// RunStep 执行单个补偿步骤，compensation 队列上的重试任务也走这里。
func (c *CompensationCoordinator) RunStep(ctx context.Context, step string, p domain.CheckoutJobPayload) error {
	ctx, span := c.tracer.Start(ctx, "saga.compensation."+step)
	defer span.End()

	var err error
	switch step {
	case CompensationRefund:
		var outcome application.RefundOutcome
		outcome, err = c.payments.CompensateRefund(ctx, p.PaymentID, p.OrderTotal)
		span.SetAttributes(attribute.String("refund.outcome", string(outcome)))
	case CompensationCancel:
		_, err = c.orders.Cancel(ctx, p.OrderID)
	case CompensationRelease:
		if p.ReservationID == "" {
			var res *domain.Reservation
			if res, err = c.reservations.FindActiveByOrderID(ctx, p.OrderID); err == nil && res != nil {
				_, err = c.reservations.Release(ctx, res.ID)
			}
		} else {
			_, err = c.reservations.Release(ctx, p.ReservationID)
		}
	default:
		err = jobqueue.Unrecoverable(fmt.Errorf("unknown compensation step %q", step))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *CompensationCoordinator) requeue(ctx context.Context, step string, p domain.CheckoutJobPayload, cause error) bool {
	if !jobqueue.IsRetryable(cause) {
		return false
	}
	if _, err := c.queue.Enqueue(ctx, QueueCompensation, compensationJob(step), p); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("step", step).Str("order_id", p.OrderID).Msg("failed to requeue compensation step")
		return false
	}
	return true
}

func hasTarget(step string, p domain.CheckoutJobPayload) bool {
	switch step {
	case CompensationRefund:
		return p.PaymentID != ""
	case CompensationCancel:
		return p.OrderID != ""
	case CompensationRelease:
		return p.ReservationID != ""
	}
	return false
}
