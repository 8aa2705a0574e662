package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depot/internal/service/inventory/application"
	"depot/internal/service/inventory/domain"
)

// stubService 按预设的返回值应答，记录收到的参数。
type stubService struct {
	reserveErr  error
	settleErr   error
	cleanupErr  error
	cleaned     int
	stock       map[int64]int
	lastCommand *application.ReserveCommand
	lastOrderID string
	lastBatch   int
}

func (s *stubService) Reserve(ctx context.Context, cmd *application.ReserveCommand) (*application.ReserveResult, error) {
	s.lastCommand = cmd
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	return &application.ReserveResult{ReservationID: 1, ExpiredAt: time.Now().Add(domain.ReservationTTL)}, nil
}

func (s *stubService) Confirm(ctx context.Context, orderID string) (*application.OrderResult, error) {
	s.lastOrderID = orderID
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	return &application.OrderResult{OrderID: orderID, Count: 1, Products: []int64{101}}, nil
}

func (s *stubService) Release(ctx context.Context, orderID string) (*application.OrderResult, error) {
	return s.Confirm(ctx, orderID)
}

func (s *stubService) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	s.lastBatch = batchSize
	return s.cleaned, s.cleanupErr
}

func (s *stubService) GetStock(ctx context.Context, productID int64) (int, error) {
	return s.stock[productID], nil
}

func (s *stubService) BatchGetStocks(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		out[id] = s.stock[id]
	}
	return out, nil
}

func newTestMux(service ReservationService) *http.ServeMux {
	mux := http.NewServeMux()
	NewInventoryHandler(service, nil).RegisterRoutes(mux)
	return mux
}

func doRequest(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleReserve(t *testing.T) {
	stub := &stubService{}
	mux := newTestMux(stub)

	rec := doRequest(mux, http.MethodPost, "/inventory/reserve",
		`{"product_id":101,"quantity":4,"order_id":"O1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result application.ReserveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1), result.ReservationID)

	require.NotNil(t, stub.lastCommand)
	assert.Equal(t, int64(101), stub.lastCommand.ProductID)
	assert.Equal(t, 4, stub.lastCommand.Quantity)
	assert.Equal(t, "O1", stub.lastCommand.OrderID)
}

func TestHandleReserveBadBody(t *testing.T) {
	rec := doRequest(newTestMux(&stubService{}), http.MethodPost, "/inventory/reserve", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrInsufficientStock, http.StatusBadRequest},
		{domain.ErrDuplicateReservation, http.StatusBadRequest},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.ErrLockContention, http.StatusTooManyRequests},
		{domain.ErrStockNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			mux := newTestMux(&stubService{reserveErr: tc.err})
			rec := doRequest(mux, http.MethodPost, "/inventory/reserve",
				`{"product_id":1,"quantity":1,"order_id":"O1"}`)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestHandleConfirmAndRelease(t *testing.T) {
	stub := &stubService{}
	mux := newTestMux(stub)

	rec := doRequest(mux, http.MethodPost, "/inventory/confirm/O42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "O42", stub.lastOrderID)

	var result application.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "O42", result.OrderID)
	assert.Equal(t, []int64{101}, result.Products)

	rec = doRequest(mux, http.MethodPost, "/inventory/release/O43", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "O43", stub.lastOrderID)
}

func TestHandleConfirmNotFound(t *testing.T) {
	mux := newTestMux(&stubService{settleErr: domain.ErrReservationNotFound})
	rec := doRequest(mux, http.MethodPost, "/inventory/confirm/Ox", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetStock(t *testing.T) {
	mux := newTestMux(&stubService{stock: map[int64]int{7: 33}})

	rec := doRequest(mux, http.MethodGet, "/inventory/stock/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body["product_id"])
	assert.Equal(t, int64(33), body["available_stock"])

	rec = doRequest(mux, http.MethodGet, "/inventory/stock/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatchGetStocks(t *testing.T) {
	mux := newTestMux(&stubService{stock: map[int64]int{1: 5, 2: 0}})

	rec := doRequest(mux, http.MethodPost, "/inventory/stock/batch", `[1,2]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]int{"1": 5, "2": 0}, body)
}

func TestHandleManualCleanup(t *testing.T) {
	stub := &stubService{cleaned: 12}
	mux := newTestMux(stub)

	rec := doRequest(mux, http.MethodPost, "/inventory/cleanup/manual?batch_size=50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, stub.lastBatch)

	var result application.CleanupResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 12, result.Cleaned)

	rec = doRequest(mux, http.MethodPost, "/inventory/cleanup/manual?batch_size=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 缺省批大小
	doRequest(mux, http.MethodPost, "/inventory/cleanup/manual", "")
	assert.Equal(t, application.DefaultSweepBatchSize, stub.lastBatch)
}

func TestHandleAsyncCleanupUnconfigured(t *testing.T) {
	// 未配置消息队列时异步通道明确拒绝，而不是悄悄退化为同步
	rec := doRequest(newTestMux(&stubService{}), http.MethodPost, "/inventory/cleanup/async", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
