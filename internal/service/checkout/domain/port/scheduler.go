package port

import (
	"context"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

// SagaScheduler 把后续工作安排为独立的可重试任务
type SagaScheduler interface {
	SchedulePostPayment(ctx context.Context, orderID, reservationID, cartID string) error
	ScheduleStockRelease(ctx context.Context, reservationID, orderID string) error
	ScheduleOrderStockRelease(ctx context.Context, orderID string) error
	SchedulePaymentCompleted(ctx context.Context, payload domain.CheckoutJobPayload) error
	SchedulePaymentFailed(ctx context.Context, payload domain.CheckoutJobPayload) error
}
