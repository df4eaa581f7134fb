package domain

import (
	"errors"
	"fmt"
)

// ErrorCode 是领域错误的稳定标识，errors.Is 按 code 比较。
type ErrorCode string

const (
	CodeInvalidQuantity          ErrorCode = "INVALID_QUANTITY"
	CodeInsufficientStock        ErrorCode = "INSUFFICIENT_STOCK"
	CodeInsufficientReserved     ErrorCode = "INSUFFICIENT_RESERVED_STOCK"
	CodeInventoryNotFound        ErrorCode = "INVENTORY_NOT_FOUND"
	CodeInvalidReservation       ErrorCode = "INVALID_RESERVATION"
	CodeReservationNotFound      ErrorCode = "RESERVATION_NOT_FOUND"
	CodeReservationExpired       ErrorCode = "RESERVATION_EXPIRED"
	CodeInvalidReservationState  ErrorCode = "INVALID_RESERVATION_STATE"
	CodeOrderNotFound            ErrorCode = "ORDER_NOT_FOUND"
	CodeInvalidOrderTransition   ErrorCode = "INVALID_ORDER_TRANSITION"
	CodeInvalidOrder             ErrorCode = "INVALID_ORDER"
	CodePaymentNotFound          ErrorCode = "PAYMENT_NOT_FOUND"
	CodeInvalidPaymentTransition ErrorCode = "INVALID_PAYMENT_TRANSITION"
	CodeInvalidRefund            ErrorCode = "INVALID_REFUND"
	CodeRefundExceedsAmount      ErrorCode = "REFUND_EXCEEDS_AMOUNT"
	CodeUnsupportedPaymentMethod ErrorCode = "UNSUPPORTED_PAYMENT_METHOD"
	CodeEmptyCart                ErrorCode = "EMPTY_CART"
	CodeDownstreamRejected       ErrorCode = "DOWNSTREAM_REJECTED"
)

// DomainError 是业务规则被违反时返回的错误，不可重试。
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Is 让 errors.Is(err, ErrInsufficientStock) 这类按 code 的比较成立。
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *DomainError) Retryable() bool { return false }

func newDomainError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// 用于 errors.Is 比较的哨兵错误
var (
	ErrInvalidQuantity          = &DomainError{Code: CodeInvalidQuantity, Message: "Quantity must be positive"}
	ErrInsufficientStock        = &DomainError{Code: CodeInsufficientStock, Message: "Insufficient stock"}
	ErrInsufficientReserved     = &DomainError{Code: CodeInsufficientReserved, Message: "Insufficient reserved stock"}
	ErrInventoryNotFound        = &DomainError{Code: CodeInventoryNotFound, Message: "Inventory not found"}
	ErrInvalidReservation       = &DomainError{Code: CodeInvalidReservation, Message: "Invalid reservation"}
	ErrReservationNotFound      = &DomainError{Code: CodeReservationNotFound, Message: "Reservation not found"}
	ErrReservationExpired       = &DomainError{Code: CodeReservationExpired, Message: "Reservation has expired"}
	ErrInvalidReservationState  = &DomainError{Code: CodeInvalidReservationState, Message: "Invalid reservation state"}
	ErrOrderNotFound            = &DomainError{Code: CodeOrderNotFound, Message: "Order not found"}
	ErrInvalidOrderTransition   = &DomainError{Code: CodeInvalidOrderTransition, Message: "Invalid order transition"}
	ErrInvalidOrder             = &DomainError{Code: CodeInvalidOrder, Message: "Invalid order"}
	ErrPaymentNotFound          = &DomainError{Code: CodePaymentNotFound, Message: "Payment not found"}
	ErrInvalidPaymentTransition = &DomainError{Code: CodeInvalidPaymentTransition, Message: "Invalid payment transition"}
	ErrInvalidRefund            = &DomainError{Code: CodeInvalidRefund, Message: "Invalid refund"}
	ErrRefundExceedsAmount      = &DomainError{Code: CodeRefundExceedsAmount, Message: "Refund exceeds payment amount"}
	ErrUnsupportedPaymentMethod = &DomainError{Code: CodeUnsupportedPaymentMethod, Message: "Unsupported payment method"}
	ErrEmptyCart                = &DomainError{Code: CodeEmptyCart, Message: "Cart is empty"}
)

// NewInsufficientStock 生成带可用量/请求量的库存不足错误。
func NewInsufficientStock(available, requested int) *DomainError {
	return newDomainError(CodeInsufficientStock, "Insufficient stock. Available: %d, Requested: %d", available, requested)
}

func NotFound(kind ErrorCode, id string) *DomainError {
	return newDomainError(kind, "%s %s not found", notFoundNoun(kind), id)
}

func notFoundNoun(code ErrorCode) string {
	switch code {
	case CodeInventoryNotFound:
		return "Inventory for product"
	case CodeReservationNotFound:
		return "Reservation"
	case CodeOrderNotFound:
		return "Order"
	case CodePaymentNotFound:
		return "Payment"
	}
	return "Entity"
}

// RepositoryError 表示存储或外部依赖暂时不可用，可以重试。
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string   { return fmt.Sprintf("repository %s: %v", e.Op, e.Err) }
func (e *RepositoryError) Unwrap() error   { return e.Err }
func (e *RepositoryError) Retryable() bool { return true }

func NewRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	// 领域错误（例如未找到）原样透传，保持不可重试
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

// UseCaseError 给意外错误补充用例上下文。包裹领域错误时不可重试，否则可重试。
type UseCaseError struct {
	UseCase string
	Err     error
}

func (e *UseCaseError) Error() string { return fmt.Sprintf("%s: %v", e.UseCase, e.Err) }
func (e *UseCaseError) Unwrap() error { return e.Err }

func (e *UseCaseError) Retryable() bool {
	var de *DomainError
	return !errors.As(e.Err, &de)
}

func WrapUseCase(useCase string, err error) error {
	if err == nil {
		return nil
	}
	return &UseCaseError{UseCase: useCase, Err: err}
}

// IsDomainError 报告错误链中是否包含领域错误。
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
