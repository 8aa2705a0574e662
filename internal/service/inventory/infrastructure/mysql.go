// internal/service/inventory/infrastructure/mysql.go
package infrastructure

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewMysqlDB 打开 MySQL 连接并完成表结构迁移。
// TranslateError 让驱动的唯一键冲突被翻译为 gorm.ErrDuplicatedKey，
// 仓储层再把它映射成 domain.ErrDuplicateReservation。
func NewMysqlDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	if err := db.AutoMigrate(
		&ProductModel{},
		&ProductStockModel{},
		&ReservationModel{},
		&InventoryLogModel{},
		&IdempotencyKeyModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate inventory schema: %w", err)
	}
	return db, nil
}
