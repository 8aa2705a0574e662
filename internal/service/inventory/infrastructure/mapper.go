// internal/service/inventory/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"

	"depot/internal/service/inventory/domain"
)

// toDomainStock 将数据库模型转换为领域模型
func toDomainStock(model *ProductStockModel) *domain.StockRecord {
	if model == nil {
		return nil
	}
	return &domain.StockRecord{
		ProductID: model.ProductID,
		Available: model.AvailableStock,
		Reserved:  model.ReservedStock,
		Version:   model.Version,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// toDomainReservation 将数据库模型转换为领域模型
func toDomainReservation(model *ReservationModel) *domain.Reservation {
	if model == nil {
		return nil
	}
	return &domain.Reservation{
		ID:        model.ID,
		OrderID:   model.OrderID,
		ProductID: model.ProductID,
		Quantity:  model.Quantity,
		Status:    model.Status,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
		ExpiredAt: model.ExpiredAt,
	}
}

// toReservationModel 将领域模型转换为数据库模型
func toReservationModel(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        r.ID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		ExpiredAt: r.ExpiredAt,
	}
}

// toLogModel 将审计记录转换为数据库模型
func toLogModel(entry *domain.ChangeLogEntry) *InventoryLogModel {
	orderID := sql.NullString{}
	if entry.OrderID != "" {
		orderID = sql.NullString{String: entry.OrderID, Valid: true}
	}
	return &InventoryLogModel{
		ProductID:       entry.ProductID,
		OrderID:         orderID,
		ChangeType:      entry.Kind,
		Quantity:        entry.Quantity,
		BeforeAvailable: entry.BeforeAvailable,
		AfterAvailable:  entry.AfterAvailable,
		Operator:        entry.Operator,
		Source:          entry.Source,
	}
}
