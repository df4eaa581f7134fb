package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/jobqueue"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/logger"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/application"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain/port"
)

// Handlers 把 checkout / compensation 队列上的任务接到应用服务上。
type Handlers struct {
	payments     *application.PaymentService
	reservations *application.ReservationStore
	carts        port.CartService
	coordinator  *CompensationCoordinator
}

func NewHandlers(payments *application.PaymentService, reservations *application.ReservationStore,
	carts port.CartService, coordinator *CompensationCoordinator) *Handlers {
	return &Handlers{
		payments:     payments,
		reservations: reservations,
		carts:        carts,
		coordinator:  coordinator,
	}
}

// Register 在处理器上注册所有任务和步骤。
func (h *Handlers) Register(proc *jobqueue.Processor) {
	proc.Handle(QueueCheckout, JobPaymentCompleted, h.paymentCompleted)
	proc.Handle(QueueCheckout, JobPaymentFailed, h.paymentFailed)
	proc.Handle(QueueCheckout, JobStockRelease, h.stockRelease)
	proc.HandleStep(QueueCheckout, StepConfirmReservation, h.confirmReservation)
	proc.HandleStep(QueueCheckout, StepClearCart, h.clearCart)

	for _, step := range []string{CompensationRefund, CompensationCancel, CompensationRelease} {
		step := step
		proc.Handle(QueueCompensation, compensationJob(step), func(ctx context.Context, job *jobqueue.Job) error {
			p, err := decodePayload(job)
			if err != nil {
				return err
			}
			return h.coordinator.RunStep(ctx, step, p)
		})
	}
}

func decodePayload(job *jobqueue.Job) (domain.CheckoutJobPayload, error) {
	var p domain.CheckoutJobPayload
	if err := job.Decode(&p); err != nil {
		return p, jobqueue.Unrecoverable(fmt.Errorf("decode %s payload: %w", job.Name, err))
	}
	return p, nil
}

func (h *Handlers) paymentCompleted(ctx context.Context, job *jobqueue.Job) error {
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	return h.payments.HandlePaymentCompleted(ctx, p)
}

func (h *Handlers) paymentFailed(ctx context.Context, job *jobqueue.Job) error {
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	return h.payments.HandlePaymentFailed(ctx, p)
}

func (h *Handlers) stockRelease(ctx context.Context, job *jobqueue.Job) error {
	p, err := decodePayload(job)
	if err != nil {
		return err
	}
	if p.ReservationID == "" {
		return jobqueue.Unrecoverable(fmt.Errorf("stock release job %s has no reservation id", job.ID))
	}
	_, err = h.reservations.Release(ctx, p.ReservationID)
	return err
}

// confirmReservation 是 post-payment 的第一步。预留已确认时直接返回（重投安全）。
func (h *Handlers) confirmReservation(ctx context.Context, job *jobqueue.Job, _ json.RawMessage) (json.RawMessage, error) {
	p, err := decodePayload(job)
	if err != nil {
		return nil, err
	}

	var res *domain.Reservation
	if p.ReservationID != "" {
		res, err = h.reservations.Get(ctx, p.ReservationID)
	} else {
		res, err = h.reservations.FindActiveByOrderID(ctx, p.OrderID)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		logger.Ctx(ctx).Warn().Str("order_id", p.OrderID).Msg("no active reservation to confirm")
		return json.Marshal(domain.ConfirmedReservation{OrderID: p.OrderID})
	}
	if res.Status != domain.ReservationConfirmed {
		if res, err = h.reservations.Confirm(ctx, res.ID); err != nil {
			return nil, err
		}
	}
	return json.Marshal(domain.ConfirmedReservation{
		ReservationID: res.ID,
		OrderID:       res.OrderID,
		Items:         res.Items(),
	})
}

// clearCart 是 post-payment 的第二步，输入是 confirm-reservation 的输出。
func (h *Handlers) clearCart(ctx context.Context, job *jobqueue.Job, parent json.RawMessage) (json.RawMessage, error) {
	p, err := decodePayload(job)
	if err != nil {
		return nil, err
	}
	var confirmed domain.ConfirmedReservation
	if len(parent) > 0 {
		if err := json.Unmarshal(parent, &confirmed); err != nil {
			return nil, jobqueue.Unrecoverable(fmt.Errorf("decode confirm-reservation output: %w", err))
		}
	}
	if p.CartID == "" {
		return json.Marshal(domain.CartCleared{Skipped: true})
	}
	if err := h.carts.ClearCart(ctx, p.CartID); err != nil {
		return nil, domain.NewRepositoryError("cart.clear", err)
	}
	logger.Ctx(ctx).Info().
		Str("order_id", p.OrderID).
		Str("cart_id", p.CartID).
		Str("reservation_id", confirmed.ReservationID).
		Int("confirmed_lines", len(confirmed.Items)).
		Msg("cart cleared after payment")
	return json.Marshal(domain.CartCleared{CartID: p.CartID})
}
