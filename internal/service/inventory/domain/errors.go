// internal/service/inventory/domain/errors.go
package domain

import "errors"

// 业务错误分类。调用方通过 errors.Is 区分处理：
// 前两类属于客户端可纠正错误，不隐含重试；
// ErrLockContention 是可退避重试的冲突信号；其余为本次调用的致命错误。
var (
	ErrInsufficientStock    = errors.New("insufficient available stock")
	ErrDuplicateReservation = errors.New("reservation already exists for this order and product")
	ErrLockContention       = errors.New("inventory lock contention, retry later")
	ErrReservationNotFound  = errors.New("no active reservations for this order")
	ErrStockNotFound        = errors.New("no stock record for this product")
	ErrInvalidTransition    = errors.New("reservation status transition not allowed")
	ErrInvalidQuantity      = errors.New("reservation quantity must be positive")
)
