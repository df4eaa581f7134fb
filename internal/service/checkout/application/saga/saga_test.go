package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/service/checkout/domain"
)

func TestSaga_PaymentSuccessConfirmsReservationAndClearsCart(t *testing.T) {
	h := newHarness(t, 10)
	res := h.placeOrder(t)

	h.webhook(t, res, true)
	h.drain(t)

	assert.Equal(t, domain.OrderConfirmed, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.PaymentCompleted, h.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.ReservationConfirmed, h.reservation(t, res.ReservationID).Status)
	assert.Equal(t, []string{"cart-1"}, h.carts.cleared)
	avail, reserved := h.stock(t)
	assert.Equal(t, 8, avail)
	assert.Equal(t, 0, reserved)
}

func TestSaga_DuplicateWebhookIsProcessedOnce(t *testing.T) {
	h := newHarness(t, 10)
	res := h.placeOrder(t)

	h.webhook(t, res, true)
	h.webhook(t, res, true)
	assert.Equal(t, 1, h.queue.Len())
	h.drain(t)

	// 队列排空后重复的回调再次到达也不会重复确认
	h.webhook(t, res, true)
	h.drain(t)

	assert.Equal(t, []string{"cart-1"}, h.carts.cleared)
	avail, reserved := h.stock(t)
	assert.Equal(t, 8, avail)
	assert.Equal(t, 0, reserved)
}

func TestSaga_PaymentFailureReleasesStock(t *testing.T) {
	h := newHarness(t, 10)
	res := h.placeOrder(t)

	h.webhook(t, res, false)
	h.drain(t)

	assert.Equal(t, domain.OrderPaymentFailed, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.PaymentFailed, h.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.ReservationReleased, h.reservation(t, res.ReservationID).Status)
	avail, reserved := h.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
	assert.Empty(t, h.carts.cleared)
}

// 补偿的三步互相独立：退款失败不影响取消订单和释放库存，失败的退款作为独立任务重试
func TestSaga_CompensationStepsRunIndependently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	h.webhook(t, res, true)
	h.drain(t)
	h.gateway.setRefundErr(errDown)

	report := h.coordinator.Compensate(ctx, domain.CheckoutJobPayload{
		OrderID:       res.OrderID,
		PaymentID:     res.PaymentID,
		ReservationID: res.ReservationID,
		OrderTotal:    &res.Total,
	})

	require.Len(t, report.Steps, 3)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, CompensationRefund, report.Steps[0].Step)
	assert.Error(t, report.Steps[0].Err)
	assert.True(t, report.Steps[0].Requeued)
	assert.NoError(t, report.Steps[1].Err)
	assert.NoError(t, report.Steps[2].Err)
	assert.Equal(t, domain.OrderCancelled, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.ReservationReleased, h.reservation(t, res.ReservationID).Status)
	assert.Contains(t, h.pendingNames(), JobCompensateRefund)

	h.gateway.setRefundErr(nil)
	h.drain(t)

	assert.Equal(t, 1, h.gateway.refundCount())
	assert.Equal(t, domain.PaymentRefunded, h.payment(t, res.PaymentID).Status)
	avail, reserved := h.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

// post-payment 任务重试耗尽后自动补偿：载荷里没有支付 ID，也要能退款
func TestSaga_FailedPostPaymentTriggersCompensation(t *testing.T) {
	h := newHarness(t, 10)
	h.carts.clearErr = errDown
	res := h.placeOrder(t)

	h.webhook(t, res, true)
	h.drain(t)

	assert.Equal(t, domain.OrderCancelled, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.PaymentRefunded, h.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.ReservationReleased, h.reservation(t, res.ReservationID).Status)
	assert.Equal(t, 1, h.gateway.refundCount())
	avail, reserved := h.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

func TestSaga_LateSuccessOnCancelledOrderIsRefunded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	_, err := h.orders.Cancel(ctx, res.OrderID)
	require.NoError(t, err)

	h.webhook(t, res, true)
	h.drain(t)

	assert.Equal(t, domain.OrderCancelled, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.PaymentRefunded, h.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.ReservationReleased, h.reservation(t, res.ReservationID).Status)
	avail, _ := h.stock(t)
	assert.Equal(t, 10, avail)
}

// 确认之后才到的失败回调是无操作：订单保持已确认，不退款，不释放库存
func TestSaga_LateFailureAfterConfirmKeepsOrderPaid(t *testing.T) {
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	h.webhook(t, res, true)
	h.drain(t)

	h.webhook(t, res, false)
	h.drain(t)

	assert.Equal(t, domain.OrderConfirmed, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.PaymentCompleted, h.payment(t, res.PaymentID).Status)
	assert.Equal(t, domain.ReservationConfirmed, h.reservation(t, res.ReservationID).Status)
	assert.Equal(t, 0, h.gateway.refundCount())
	avail, reserved := h.stock(t)
	assert.Equal(t, 8, avail)
	assert.Equal(t, 0, reserved)
}

// 失败之后才到的成功回调：钱已到账，补偿全额退回，支付保持 FAILED
func TestSaga_LateSuccessAfterFailureIsRefunded(t *testing.T) {
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	h.webhook(t, res, false)
	h.drain(t)

	h.webhook(t, res, true)
	h.drain(t)

	assert.Equal(t, 1, h.gateway.refundCount())
	payment := h.payment(t, res.PaymentID)
	assert.Equal(t, domain.PaymentFailed, payment.Status)
	assert.True(t, payment.RefundedAmount.Equal(payment.Amount))
	assert.Equal(t, domain.OrderCancelled, h.order(t, res.OrderID).Status)
	assert.Equal(t, domain.ReservationReleased, h.reservation(t, res.ReservationID).Status)
	avail, reserved := h.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

func TestSaga_StoppedCoordinatorDoesNotCompensate(t *testing.T) {
	h := newHarness(t, 10)
	h.carts.clearErr = errDown
	res := h.placeOrder(t)
	h.coordinator.Stop()

	h.webhook(t, res, true)
	h.drain(t)

	assert.Equal(t, domain.OrderConfirmed, h.order(t, res.OrderID).Status)
	assert.Equal(t, 0, h.gateway.refundCount())
}

func TestOrchestrator_OrderStockReleaseSkipsTerminalReservations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	_, err := h.reservations.Release(ctx, res.ReservationID)
	require.NoError(t, err)

	require.NoError(t, h.orchestrator.ScheduleOrderStockRelease(ctx, res.OrderID))

	assert.Equal(t, 0, h.queue.Len())
}

func TestOrchestrator_DeterministicJobIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	require.NoError(t, h.orchestrator.SchedulePostPayment(ctx, "o1", "r1", "c1"))
	require.NoError(t, h.orchestrator.ScheduleStockRelease(ctx, "r1", "o1"))
	require.NoError(t, h.orchestrator.SchedulePaymentFailed(ctx, domain.CheckoutJobPayload{OrderID: "o1", PaymentID: "p1"}))

	assert.ElementsMatch(t, []string{"post-payment:o1", "stock-release:r1", "payment-failed:o1:p1"}, h.pendingIDs())
	post := h.queue.Pending()[0]
	require.Len(t, post.Steps, 2)
	assert.Equal(t, StepConfirmReservation, post.Steps[0].Name)
	assert.Equal(t, StepClearCart, post.Steps[1].Name)
}

// 待支付超过阈值的订单被取消，并为其预留安排释放
func TestSweeper_CancelsStalePendingOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	stale := h.placeOrder(t)
	sweeper := NewExpirationSweeper(h.store.Orders(), h.orders, h.reservations,
		WithSweepClock(func() time.Time { return time.Now().UTC().Add(time.Hour) }))

	result, err := sweeper.SweepExpiredOrders(ctx, 30*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, SweepResult{CancelledCount: 1, FailedCount: 0}, result)
	assert.Equal(t, domain.OrderCancelled, h.order(t, stale.OrderID).Status)
	assert.Contains(t, h.pendingIDs(), "stock-release:"+stale.ReservationID)

	h.drain(t)
	avail, reserved := h.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

func TestSweeper_LeavesFreshOrdersAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	fresh := h.placeOrder(t)
	sweeper := NewExpirationSweeper(h.store.Orders(), h.orders, h.reservations)

	result, err := sweeper.SweepExpiredOrders(ctx, 30*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, domain.OrderPendingPayment, h.order(t, fresh.OrderID).Status)
}

type rejectAll struct{}

func (rejectAll) Match(context.Context, *domain.Order, time.Time) (bool, error) { return false, nil }

func TestSweeper_FilterExcludesOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	sweeper := NewExpirationSweeper(h.store.Orders(), h.orders, h.reservations,
		WithOrderFilter(rejectAll{}),
		WithSweepClock(func() time.Time { return time.Now().UTC().Add(time.Hour) }))

	result, err := sweeper.SweepExpiredOrders(ctx, time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 0, result.CancelledCount)
	assert.Equal(t, domain.OrderPendingPayment, h.order(t, res.OrderID).Status)
}

func TestSweeper_ExpiresReservations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	res := h.placeOrder(t)
	h.reservations.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })
	sweeper := NewExpirationSweeper(h.store.Orders(), h.orders, h.reservations)

	result, err := sweeper.SweepExpiredReservations(ctx)

	require.NoError(t, err)
	assert.Equal(t, ReservationSweepResult{ExpiredCount: 1}, result)
	assert.Equal(t, domain.ReservationExpired, h.reservation(t, res.ReservationID).Status)
	avail, reserved := h.stock(t)
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}
