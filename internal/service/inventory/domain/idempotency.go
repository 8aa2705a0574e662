// internal/service/inventory/domain/idempotency.go
package domain

import "time"

// IdempotencyStatus 标识一个幂等键的处理状态。
type IdempotencyStatus string

const (
	IdempotencyProcessing IdempotencyStatus = "PROCESSING"
	IdempotencySuccess    IdempotencyStatus = "SUCCESS"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord 是请求层的幂等账本。
// 生命周期由外部协作方管理，核心流程不读写它，这里只为表结构完整性建模。
type IdempotencyRecord struct {
	Key              string
	Status           IdempotencyStatus
	ResponseSnapshot string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}
