// internal/service/inventory/application/metrics.go
package application

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"depot/internal/service/inventory/domain"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depot_inventory_operations_total",
			Help: "Inventory operations by name and outcome.",
		},
		[]string{"operation", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depot_inventory_operation_duration_seconds",
			Help:    "Inventory operation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	sweepReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depot_inventory_sweep_reclaimed_total",
			Help: "Expired reservations reclaimed by the cleanup sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal, operationDuration, sweepReclaimedTotal)
}

// observe 统一记录一次操作的结果计数和耗时。
func observe(operation string, start time.Time, err error) {
	operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrDuplicateReservation):
		return "duplicate"
	case errors.Is(err, domain.ErrLockContention):
		return "contention"
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrStockNotFound):
		return "not_found"
	default:
		return "error"
	}
}
