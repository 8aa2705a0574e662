// internal/service/inventory/domain/stock.go
package domain

import "time"

// Product 是商品引用实体，核心流程中视为不可变。
type Product struct {
	ID        int64
	SKU       string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockRecord 是每个商品唯一的库存行，也是所有变更的串行化点。
// 不变式：Available >= 0 且 Reserved >= 0 在任何时刻都成立。
type StockRecord struct {
	ProductID int64
	Available int
	Reserved  int
	Version   int // 乐观锁版本号，随每次变更单调递增
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanReserve 判断当前可用库存是否足以支撑一次预占。
func (s *StockRecord) CanReserve(quantity int) bool {
	return s.Available >= quantity
}
