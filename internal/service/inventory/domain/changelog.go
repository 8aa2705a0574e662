// internal/service/inventory/domain/changelog.go
package domain

import "time"

// ChangeKind 标识一次库存变更的类型。
type ChangeKind string

const (
	ChangeReserve ChangeKind = "RESERVE" // 预占扣减
	ChangeConfirm ChangeKind = "CONFIRM" // 确认扣减（数量不变）
	ChangeRelease ChangeKind = "RELEASE" // 释放归还
	ChangeAdjust  ChangeKind = "ADJUST"  // 人工调整
)

// ChangeLogEntry 是一条只追加的库存变更审计记录。
type ChangeLogEntry struct {
	ID              int64
	ProductID       int64
	OrderID         string // 可能为空，例如人工调整
	Kind            ChangeKind
	Quantity        int // 变更增量，预占为负，释放为正
	BeforeAvailable int
	AfterAvailable  int
	Operator        string
	Source          string
	CreatedAt       time.Time
}
