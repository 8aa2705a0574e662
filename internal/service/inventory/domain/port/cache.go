// internal/service/inventory/domain/port/cache.go
package port

import "context"

// StockCache 是可用库存的旁路读缓存（read-through）。
// 后端不可用时实现方必须退化为直读存储，而不是向上抛错。
type StockCache interface {
	// Get 返回商品可用库存，未命中时回源并以固定 TTL 写入缓存。
	Get(ctx context.Context, productID int64) (int, error)
	// BatchGet 批量读取：一次多键缓存查询 + 一次多行回源 + 逐键回填。
	BatchGet(ctx context.Context, productIDs []int64) (map[int64]int, error)
	// Invalidate 删除（而非更新）给定商品的缓存项。
	Invalidate(ctx context.Context, productIDs ...int64)
}
