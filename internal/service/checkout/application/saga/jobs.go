// Package saga 把结账的后续工作编排成独立的可重试任务，并在任务链失败时执行补偿。
package saga

// 队列
const (
	QueueCheckout     = "checkout"
	QueueCompensation = "compensation"
)

// checkout 队列上的任务
const (
	JobPaymentCompleted = "payment.completed"
	JobPaymentFailed    = "payment.failed"
	JobPostPayment      = "checkout.post-payment"
	JobStockRelease     = "stock.release"
)

// post-payment 流程任务的步骤，按顺序执行，前一步输出作为后一步输入
const (
	StepConfirmReservation = "confirm-reservation"
	StepClearCart          = "clear-cart"
)

// compensation 队列上的任务：补偿链中失败的单个步骤会作为独立任务重试
const (
	JobCompensateRefund  = "compensation.refund"
	JobCompensateCancel  = "compensation.cancel-order"
	JobCompensateRelease = "compensation.release-reservation"
)

// 补偿步骤名
const (
	CompensationRefund  = "refund"
	CompensationCancel  = "cancel-order"
	CompensationRelease = "release-reservation"
)

func compensationJob(step string) string {
	switch step {
	case CompensationRefund:
		return JobCompensateRefund
	case CompensationCancel:
		return JobCompensateCancel
	default:
		return JobCompensateRelease
	}
}
