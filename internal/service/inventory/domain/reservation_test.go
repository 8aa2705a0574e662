package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewReservation("order-1", 42, 3, now)

	assert.Equal(t, StatusReserved, r.Status)
	assert.Equal(t, "order-1", r.OrderID)
	assert.Equal(t, int64(42), r.ProductID)
	assert.Equal(t, 3, r.Quantity)
	assert.Equal(t, now.Add(ReservationTTL), r.ExpiredAt)
	assert.False(t, r.IsTerminal())
}

func TestTransitionTable(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		from ReservationStatus
		to   ReservationStatus
		ok   bool
	}{
		{"reserved to confirmed", StatusReserved, StatusConfirmed, true},
		{"reserved to released", StatusReserved, StatusReleased, true},
		{"reserved to canceled", StatusReserved, StatusCanceled, true},
		{"confirmed is terminal", StatusConfirmed, StatusReleased, false},
		{"released is terminal", StatusReleased, StatusConfirmed, false},
		{"canceled is terminal", StatusCanceled, StatusReserved, false},
		{"no self transition", StatusReserved, StatusReserved, false},
		{"no resurrection", StatusConfirmed, StatusReserved, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Reservation{Status: tc.from}
			err := r.TransitionTo(tc.to, now)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, r.Status)
				assert.Equal(t, now, r.UpdatedAt)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, r.Status, "failed transition must not mutate status")
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for _, status := range []ReservationStatus{StatusConfirmed, StatusReleased, StatusCanceled} {
		assert.True(t, (&Reservation{Status: status}).IsTerminal(), string(status))
	}
	assert.False(t, (&Reservation{Status: StatusReserved}).IsTerminal())
}

func TestExpired(t *testing.T) {
	now := time.Now()
	r := NewReservation("order-1", 1, 1, now.Add(-ReservationTTL-time.Minute))
	assert.True(t, r.Expired(now))

	fresh := NewReservation("order-2", 1, 1, now)
	assert.False(t, fresh.Expired(now))

	// 终态记录即使时间已过也不算过期，不能被清理任务二次处理
	released := NewReservation("order-3", 1, 1, now.Add(-time.Hour))
	require.NoError(t, released.TransitionTo(StatusReleased, now))
	assert.False(t, released.Expired(now))
}
