// internal/service/inventory/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"

	"depot/internal/service/inventory/domain"
)

// ProductModel 对应数据库中的 products 表
type ProductModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SKU       string `gorm:"column:sku;type:varchar(64);uniqueIndex;not null"`
	Name      string `gorm:"type:varchar(255);not null;index:idx_products_name"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductModel) TableName() string {
	return "products"
}

// ProductStockModel 对应数据库中的 product_stocks 表，与商品一对一
type ProductStockModel struct {
	ProductID      int64 `gorm:"primaryKey;autoIncrement:false"`
	AvailableStock int   `gorm:"not null;default:0;check:chk_available_non_negative,available_stock >= 0"`
	ReservedStock  int   `gorm:"not null;default:0;check:chk_reserved_non_negative,reserved_stock >= 0"`
	Version        int   `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ProductStockModel) TableName() string {
	return "product_stocks"
}

// ReservationModel 对应数据库中的 inventory_reservations 表。
// (order_id, product_id) 的唯一索引是防重复预占的最终防线。
type ReservationModel struct {
	ID        int64                    `gorm:"primaryKey;autoIncrement"`
	OrderID   string                   `gorm:"type:varchar(64);not null;uniqueIndex:uq_order_product;index"`
	ProductID int64                    `gorm:"not null;uniqueIndex:uq_order_product;index:idx_reservation_product_status"`
	Quantity  int                      `gorm:"not null"`
	Status    domain.ReservationStatus `gorm:"type:varchar(16);not null;default:RESERVED;index:idx_reservation_product_status"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiredAt time.Time `gorm:"index"`
}

func (ReservationModel) TableName() string {
	return "inventory_reservations"
}

// InventoryLogModel 对应数据库中的 inventory_logs 表，只追加不修改
type InventoryLogModel struct {
	ID              int64             `gorm:"primaryKey;autoIncrement"`
	ProductID       int64             `gorm:"not null;index:idx_inventory_logs_product_created"`
	OrderID         sql.NullString    `gorm:"type:varchar(64);index"`
	ChangeType      domain.ChangeKind `gorm:"type:varchar(16);not null"`
	Quantity        int               `gorm:"not null"`
	BeforeAvailable int               `gorm:"not null"`
	AfterAvailable  int               `gorm:"not null"`
	Operator        string            `gorm:"type:varchar(64)"`
	Source          string            `gorm:"type:varchar(50)"`
	CreatedAt       time.Time         `gorm:"index:idx_inventory_logs_product_created"`
}

func (InventoryLogModel) TableName() string {
	return "inventory_logs"
}

// IdempotencyKeyModel 对应数据库中的 idempotency_keys 表。
// 生命周期由请求层协作方管理，这里只建表。
type IdempotencyKeyModel struct {
	Key              string                   `gorm:"primaryKey;type:varchar(128)"`
	Status           domain.IdempotencyStatus `gorm:"type:varchar(16);not null;default:PROCESSING"`
	ResponseSnapshot string                   `gorm:"type:json"`
	CreatedAt        time.Time
	ExpiresAt        sql.NullTime `gorm:"index:idx_idempotency_keys_expires_at"`
}

func (IdempotencyKeyModel) TableName() string {
	return "idempotency_keys"
}
