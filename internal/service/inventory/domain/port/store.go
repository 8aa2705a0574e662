// internal/service/inventory/domain/port/store.go
package port

import (
	"context"
	"time"

	"depot/internal/service/inventory/domain"
)

// StockStore 是持久层的事务入口。
// 正确性完全由它的行锁保证，分布式互斥层只是准入优化。
type StockStore interface {
	// Begin 开启一个带生命周期上限的事务。
	Begin(ctx context.Context) (StockTx, error)
	// ActiveReservationProducts 返回订单下 RESERVED 预占涉及的商品ID（去重）。
	// 供多商品操作在开启事务前确定需要获取哪些互斥锁。
	ActiveReservationProducts(ctx context.Context, orderID string) ([]int64, error)
}

// StockTx 是一次进行中的库存事务。
// LockStock 会阻塞直到持锁方提交或回滚，事务整体受超时约束。
type StockTx interface {
	// LockStock 以排他行锁读取库存行，行不存在返回 domain.ErrStockNotFound。
	LockStock(ctx context.Context, productID int64) (*domain.StockRecord, error)
	// ApplyStock 在持锁范围内对库存行施加增量，版本号递增。
	ApplyStock(ctx context.Context, productID int64, availableDelta, reservedDelta int) error

	// ReservationExists 检查 (orderID, productID) 是否已有任意状态的预占记录。
	ReservationExists(ctx context.Context, orderID string, productID int64) (bool, error)
	// CreateReservation 插入预占记录，唯一键冲突返回 domain.ErrDuplicateReservation。
	CreateReservation(ctx context.Context, r *domain.Reservation) error
	// ActiveReservations 返回订单下所有 RESERVED 状态的预占记录。
	ActiveReservations(ctx context.Context, orderID string) ([]*domain.Reservation, error)
	// LockExpiredReservations 以跳过已锁行的方式圈选最多 limit 条过期预占。
	LockExpiredReservations(ctx context.Context, limit int, now time.Time) ([]*domain.Reservation, error)
	// SaveReservationStatus 持久化一次状态转换。
	SaveReservationStatus(ctx context.Context, r *domain.Reservation) error

	// AppendChangeLog 追加一条审计记录。
	AppendChangeLog(ctx context.Context, entry *domain.ChangeLogEntry) error

	Commit() error
	Rollback() error
}

// StockReader 是缓存未命中时的直读通道，不加锁。
type StockReader interface {
	// AvailableStock 返回可用库存，行不存在视为 0。
	AvailableStock(ctx context.Context, productID int64) (int, error)
	// AvailableStocks 批量返回可用库存，缺失的商品填 0。
	AvailableStocks(ctx context.Context, productIDs []int64) (map[int64]int, error)
}
