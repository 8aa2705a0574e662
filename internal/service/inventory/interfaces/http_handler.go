// internal/service/inventory/interfaces/http_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"depot/internal/pkg/logger"
	"depot/internal/pkg/mq"
	"depot/internal/service/inventory/application"
	"depot/internal/service/inventory/domain"
)

// ReservationService 是 HTTP 层对库存引擎的依赖面。
type ReservationService interface {
	Reserve(ctx context.Context, cmd *application.ReserveCommand) (*application.ReserveResult, error)
	Confirm(ctx context.Context, orderID string) (*application.OrderResult, error)
	Release(ctx context.Context, orderID string) (*application.OrderResult, error)
	CleanupExpired(ctx context.Context, batchSize int) (int, error)
	GetStock(ctx context.Context, productID int64) (int, error)
	BatchGetStocks(ctx context.Context, productIDs []int64) (map[int64]int, error)
}

// InventoryHandler 封装了库存服务的 HTTP 处理器
type InventoryHandler struct {
	service ReservationService
	// sweepWriter 用于把清理任务转为异步消息投递，可为 nil
	sweepWriter *kafka.Writer
}

// NewInventoryHandler 创建一个新的 HTTP 处理器实例
func NewInventoryHandler(service ReservationService, sweepWriter *kafka.Writer) *InventoryHandler {
	return &InventoryHandler{service: service, sweepWriter: sweepWriter}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /inventory/reserve", h.handleReserve)
	mux.HandleFunc("POST /inventory/confirm/{order_id}", h.handleConfirm)
	mux.HandleFunc("POST /inventory/release/{order_id}", h.handleRelease)
	mux.HandleFunc("GET /inventory/stock/{product_id}", h.handleGetStock)
	mux.HandleFunc("POST /inventory/stock/batch", h.handleBatchGetStocks)
	mux.HandleFunc("POST /inventory/cleanup/manual", h.handleManualCleanup)
	mux.HandleFunc("POST /inventory/cleanup/async", h.handleAsyncCleanup)
}

func extractCtx(r *http.Request) context.Context {
	propagator := otel.GetTextMapPropagator()
	return propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func (h *InventoryHandler) handleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	var cmd application.ReserveCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Reserve(ctx, &cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *InventoryHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	result, err := h.service.Confirm(ctx, r.PathValue("order_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *InventoryHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	result, err := h.service.Release(ctx, r.PathValue("order_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *InventoryHandler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	productID, err := strconv.ParseInt(r.PathValue("product_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid product id", http.StatusBadRequest)
		return
	}

	available, err := h.service.GetStock(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"product_id":      productID,
		"available_stock": available,
	})
}

func (h *InventoryHandler) handleBatchGetStocks(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	var productIDs []int64
	if err := json.NewDecoder(r.Body).Decode(&productIDs); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stocks, err := h.service.BatchGetStocks(ctx, productIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stocks)
}

// handleManualCleanup 同步执行一次清理（运维兜底通道）
func (h *InventoryHandler) handleManualCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	batchSize := application.DefaultSweepBatchSize
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid batch_size", http.StatusBadRequest)
			return
		}
		batchSize = parsed
	}

	cleaned, err := h.service.CleanupExpired(ctx, batchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Int("cleaned", cleaned).Msg("manual cleanup failed")
		writeError(w, err)
		return
	}
	writeJSON(w, application.CleanupResult{Cleaned: cleaned})
}

// handleAsyncCleanup 把清理任务投递到消息队列，由 sweep-worker 异步执行
func (h *InventoryHandler) handleAsyncCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := extractCtx(r)

	if h.sweepWriter == nil {
		http.Error(w, "Async cleanup not configured", http.StatusServiceUnavailable)
		return
	}

	batchSize := application.DefaultSweepBatchSize
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid batch_size", http.StatusBadRequest)
			return
		}
		batchSize = parsed
	}

	payload, _ := json.Marshal(SweepTrigger{BatchSize: batchSize})
	if err := mq.ProduceMessage(ctx, h.sweepWriter, nil, payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to enqueue cleanup trigger")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "enqueued"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError 根据错误类型返回不同的 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	var statusCode int
	switch {
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrDuplicateReservation),
		errors.Is(err, domain.ErrInvalidQuantity):
		statusCode = http.StatusBadRequest
	case errors.Is(err, domain.ErrLockContention):
		statusCode = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrStockNotFound):
		statusCode = http.StatusNotFound
	default:
		statusCode = http.StatusInternalServerError // 存储层意外错误
	}
	http.Error(w, err.Error(), statusCode)
}
