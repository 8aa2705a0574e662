// internal/service/inventory/domain/reservation.go
package domain

import "time"

// ReservationStatus 定义了库存预占记录的生命周期状态。
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "RESERVED"  // 已预占（可用库存已扣减）
	StatusConfirmed ReservationStatus = "CONFIRMED" // 已确认扣减，终态
	StatusReleased  ReservationStatus = "RELEASED"  // 已释放归还，终态
	StatusCanceled  ReservationStatus = "CANCELED"  // 人工取消，终态
)

// transitions 是状态机的唯一事实来源：不在表内的转换一律拒绝。
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusReserved:  {StatusConfirmed, StatusReleased, StatusCanceled},
	StatusConfirmed: {},
	StatusReleased:  {},
	StatusCanceled:  {},
}

// ReservationTTL 是预占记录的默认有效期，超时后由清理任务归还库存。
const ReservationTTL = 15 * time.Minute

// Reservation 代表一条 (订单, 商品) 维度的预占记录。
// 记录永不删除，终态记录作为审计历史保留。
type Reservation struct {
	ID        int64
	OrderID   string
	ProductID int64
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiredAt time.Time
}

// NewReservation 创建一条处于 RESERVED 状态的预占记录。
func NewReservation(orderID string, productID int64, quantity int, now time.Time) *Reservation {
	return &Reservation{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    StatusReserved,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiredAt: now.Add(ReservationTTL),
	}
}

// IsTerminal 判断当前状态是否为终态。
func (r *Reservation) IsTerminal() bool {
	return len(transitions[r.Status]) == 0
}

// Expired 判断预占是否已过期（仅对 RESERVED 状态有意义）。
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == StatusReserved && !r.ExpiredAt.After(now)
}

// TransitionTo 按状态转换表推进状态，非法转换返回 ErrInvalidTransition。
func (r *Reservation) TransitionTo(next ReservationStatus, now time.Time) error {
	for _, allowed := range transitions[r.Status] {
		if allowed == next {
			r.Status = next
			r.UpdatedAt = now
			return nil
		}
	}
	return ErrInvalidTransition
}
