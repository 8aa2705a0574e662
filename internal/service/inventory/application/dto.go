// internal/service/inventory/application/dto.go
package application

import "time"

// ReserveCommand 是一次预占请求。
type ReserveCommand struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	OrderID   string `json:"order_id"`
}

// ReserveResult 是预占成功的返回。
type ReserveResult struct {
	ReservationID int64     `json:"reservation_id"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// OrderResult 是确认/释放操作的返回。
type OrderResult struct {
	OrderID  string  `json:"order_id"`
	Count    int     `json:"count"`
	Products []int64 `json:"products"`
}

// CleanupResult 是一次清理任务的返回。
type CleanupResult struct {
	Cleaned int `json:"cleaned"`
}
