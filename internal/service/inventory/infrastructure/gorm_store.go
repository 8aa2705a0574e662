// internal/service/inventory/infrastructure/gorm_store.go
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"depot/internal/service/inventory/domain"
	"depot/internal/service/inventory/domain/port"
)

// GormStockStore 是 port.StockStore 和 port.StockReader 的 GORM/MySQL 实现。
// 行级排他锁 (SELECT ... FOR UPDATE) 是整个系统唯一的正确性保证。
type GormStockStore struct {
	db        *gorm.DB
	txTimeout time.Duration
}

// NewGormStockStore 创建一个新的 GORM 存储实例。
// txTimeout 约束单个事务的生命周期，避免持锁方崩溃后行锁无限期滞留。
func NewGormStockStore(db *gorm.DB, txTimeout time.Duration) *GormStockStore {
	if txTimeout <= 0 {
		txTimeout = 10 * time.Second
	}
	return &GormStockStore{db: db, txTimeout: txTimeout}
}

// Begin 开启一个带超时的事务。
func (s *GormStockStore) Begin(ctx context.Context) (port.StockTx, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	tx := s.db.WithContext(txCtx).Begin()
	if tx.Error != nil {
		cancel()
		return nil, fmt.Errorf("begin stock transaction: %w", tx.Error)
	}
	return &gormStockTx{tx: tx, cancel: cancel}, nil
}

// ActiveReservationProducts 返回订单下 RESERVED 预占涉及的商品ID（去重）。
func (s *GormStockStore) ActiveReservationProducts(ctx context.Context, orderID string) ([]int64, error) {
	var productIDs []int64
	err := s.db.WithContext(ctx).Model(&ReservationModel{}).
		Distinct("product_id").
		Where("order_id = ? AND status = ?", orderID, domain.StatusReserved).
		Pluck("product_id", &productIDs).Error
	if err != nil {
		return nil, fmt.Errorf("load reserved products for order %s: %w", orderID, err)
	}
	return productIDs, nil
}

// AvailableStock 直读可用库存，行不存在时沿用历史语义返回 0。
func (s *GormStockStore) AvailableStock(ctx context.Context, productID int64) (int, error) {
	var model ProductStockModel
	err := s.db.WithContext(ctx).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read available stock: %w", err)
	}
	return model.AvailableStock, nil
}

// AvailableStocks 用一条 IN 查询批量直读，缺失的商品填 0。
func (s *GormStockStore) AvailableStocks(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	result := make(map[int64]int, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	var models []ProductStockModel
	if err := s.db.WithContext(ctx).Where("product_id IN ?", productIDs).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("batch read available stock: %w", err)
	}
	for _, m := range models {
		result[m.ProductID] = m.AvailableStock
	}
	for _, id := range productIDs {
		if _, ok := result[id]; !ok {
			result[id] = 0
		}
	}
	return result, nil
}

// gormStockTx 是一次进行中的库存事务。
type gormStockTx struct {
	tx     *gorm.DB
	cancel context.CancelFunc
}

// LockStock 以排他行锁读取库存行，直到本事务提交或回滚前，
// 其他锁请求方都会在数据库侧阻塞。
func (t *gormStockTx) LockStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	var model ProductStockModel
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrStockNotFound
		}
		return nil, fmt.Errorf("lock stock row for product %d: %w", productID, err)
	}
	return toDomainStock(&model), nil
}

// ApplyStock 在持锁范围内施加增量，版本号递增。
// 数据库侧的非负 CHECK 约束是 available/reserved >= 0 不变式的兜底。
func (t *gormStockTx) ApplyStock(ctx context.Context, productID int64, availableDelta, reservedDelta int) error {
	res := t.tx.Model(&ProductStockModel{}).
		Where("product_id = ?", productID).
		Updates(map[string]interface{}{
			"available_stock": gorm.Expr("available_stock + ?", availableDelta),
			"reserved_stock":  gorm.Expr("reserved_stock + ?", reservedDelta),
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("apply stock delta for product %d: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStockNotFound
	}
	return nil
}

// ReservationExists 检查 (orderID, productID) 是否已有任意状态的预占记录。
func (t *gormStockTx) ReservationExists(ctx context.Context, orderID string, productID int64) (bool, error) {
	var count int64
	err := t.tx.Model(&ReservationModel{}).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check existing reservation: %w", err)
	}
	return count > 0, nil
}

// CreateReservation 插入预占记录。
// 唯一索引 uq_order_product 兜底应用层的显式检查。
func (t *gormStockTx) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	model := toReservationModel(r)
	if err := t.tx.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateReservation
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	r.ID = model.ID
	return nil
}

// ActiveReservations 返回订单下所有 RESERVED 状态的预占记录。
func (t *gormStockTx) ActiveReservations(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := t.tx.Where("order_id = ? AND status = ?", orderID, domain.StatusReserved).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load active reservations for order %s: %w", orderID, err)
	}
	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, toDomainReservation(&models[i]))
	}
	return reservations, nil
}

// LockExpiredReservations 圈选最多 limit 条过期预占。
// SKIP LOCKED 让并发的清理实例各自认领互不重叠的行，天然支持多 worker。
func (t *gormStockTx) LockExpiredReservations(ctx context.Context, limit int, now time.Time) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND expired_at <= ?", domain.StatusReserved, now).
		Order("expired_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("lock expired reservations: %w", err)
	}
	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, toDomainReservation(&models[i]))
	}
	return reservations, nil
}

// SaveReservationStatus 持久化一次状态转换。
func (t *gormStockTx) SaveReservationStatus(ctx context.Context, r *domain.Reservation) error {
	res := t.tx.Model(&ReservationModel{}).
		Where("id = ?", r.ID).
		Updates(map[string]interface{}{
			"status":     r.Status,
			"updated_at": r.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("save reservation %d status: %w", r.ID, res.Error)
	}
	return nil
}

// AppendChangeLog 追加一条审计记录。
func (t *gormStockTx) AppendChangeLog(ctx context.Context, entry *domain.ChangeLogEntry) error {
	if err := t.tx.Create(toLogModel(entry)).Error; err != nil {
		return fmt.Errorf("append inventory change log: %w", err)
	}
	return nil
}

func (t *gormStockTx) Commit() error {
	defer t.cancel()
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit stock transaction: %w", err)
	}
	return nil
}

func (t *gormStockTx) Rollback() error {
	defer t.cancel()
	if err := t.tx.Rollback().Error; err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) {
		return fmt.Errorf("rollback stock transaction: %w", err)
	}
	return nil
}
