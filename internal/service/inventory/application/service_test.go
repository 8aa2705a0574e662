package application_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"depot/internal/service/inventory/application"
	"depot/internal/service/inventory/domain"
	"depot/internal/service/inventory/domain/port"
)

// ---- 内存版 StockStore/StockTx/StockReader ----
// Begin 到 Commit/Rollback 之间持有全局锁，模拟行锁的串行化效果。

type memState struct {
	stocks       map[int64]*domain.StockRecord
	reservations map[int64]*domain.Reservation
	logs         []*domain.ChangeLogEntry
	nextID       int64
}

func (st memState) clone() memState {
	out := memState{
		stocks:       make(map[int64]*domain.StockRecord, len(st.stocks)),
		reservations: make(map[int64]*domain.Reservation, len(st.reservations)),
		logs:         append([]*domain.ChangeLogEntry(nil), st.logs...),
		nextID:       st.nextID,
	}
	for id, s := range st.stocks {
		c := *s
		out.stocks[id] = &c
	}
	for id, r := range st.reservations {
		c := *r
		out.reservations[id] = &c
	}
	return out
}

type memStore struct {
	mu        sync.Mutex
	state     memState
	failApply map[int64]error
	commits   int
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			stocks:       map[int64]*domain.StockRecord{},
			reservations: map[int64]*domain.Reservation{},
		},
		failApply: map[int64]error{},
	}
}

func (s *memStore) seedStock(productID int64, available, reserved int) {
	s.state.stocks[productID] = &domain.StockRecord{
		ProductID: productID,
		Available: available,
		Reserved:  reserved,
	}
}

func (s *memStore) seedReservation(r *domain.Reservation) {
	s.state.nextID++
	r.ID = s.state.nextID
	c := *r
	s.state.reservations[r.ID] = &c
}

func (s *memStore) stock(productID int64) *domain.StockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.state.stocks[productID]
	return &c
}

func (s *memStore) reservation(id int64) *domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.state.reservations[id]
	return &c
}

func (s *memStore) logEntries() []*domain.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.ChangeLogEntry(nil), s.state.logs...)
}

func (s *memStore) Begin(ctx context.Context) (port.StockTx, error) {
	s.mu.Lock()
	return &memTx{s: s, work: s.state.clone()}, nil
}

func (s *memStore) ActiveReservationProducts(ctx context.Context, orderID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]struct{}{}
	for _, r := range s.state.reservations {
		if r.OrderID == orderID && r.Status == domain.StatusReserved {
			seen[r.ProductID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) AvailableStock(ctx context.Context, productID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.state.stocks[productID]; ok {
		return rec.Available, nil
	}
	return 0, nil
}

func (s *memStore) AvailableStocks(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		if rec, ok := s.state.stocks[id]; ok {
			out[id] = rec.Available
		} else {
			out[id] = 0
		}
	}
	return out, nil
}

type memTx struct {
	s    *memStore
	work memState
	done bool
}

func (t *memTx) LockStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	rec, ok := t.work.stocks[productID]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	c := *rec
	return &c, nil
}

func (t *memTx) ApplyStock(ctx context.Context, productID int64, availableDelta, reservedDelta int) error {
	if err := t.s.failApply[productID]; err != nil {
		return err
	}
	rec, ok := t.work.stocks[productID]
	if !ok {
		return domain.ErrStockNotFound
	}
	rec.Available += availableDelta
	rec.Reserved += reservedDelta
	if rec.Available < 0 || rec.Reserved < 0 {
		return fmt.Errorf("check constraint violated on product %d", productID)
	}
	rec.Version++
	return nil
}

func (t *memTx) ReservationExists(ctx context.Context, orderID string, productID int64) (bool, error) {
	for _, r := range t.work.reservations {
		if r.OrderID == orderID && r.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	for _, ex := range t.work.reservations {
		if ex.OrderID == r.OrderID && ex.ProductID == r.ProductID {
			return domain.ErrDuplicateReservation
		}
	}
	t.work.nextID++
	r.ID = t.work.nextID
	c := *r
	t.work.reservations[r.ID] = &c
	return nil
}

func (t *memTx) ActiveReservations(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	for _, r := range t.work.reservations {
		if r.OrderID == orderID && r.Status == domain.StatusReserved {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *memTx) LockExpiredReservations(ctx context.Context, limit int, now time.Time) ([]*domain.Reservation, error) {
	var out []*domain.Reservation
	for _, r := range t.work.reservations {
		if r.Expired(now) {
			c := *r
			out = append(out, &c)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ExpiredAt.Before(out[i].ExpiredAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) SaveReservationStatus(ctx context.Context, r *domain.Reservation) error {
	stored, ok := t.work.reservations[r.ID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	stored.Status = r.Status
	stored.UpdatedAt = r.UpdatedAt
	return nil
}

func (t *memTx) AppendChangeLog(ctx context.Context, entry *domain.ChangeLogEntry) error {
	c := *entry
	t.work.logs = append(t.work.logs, &c)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	t.s.state = t.work
	t.s.commits++
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.rollbacks++
	t.s.mu.Unlock()
	return nil
}

// ---- 内存缓存与互斥锁 ----

type fakeCache struct {
	mu            sync.Mutex
	reader        port.StockReader
	values        map[int64]int
	invalidations [][]int64
}

func newFakeCache(reader port.StockReader) *fakeCache {
	return &fakeCache{reader: reader, values: map[int64]int{}}
}

func (c *fakeCache) Get(ctx context.Context, productID int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[productID]; ok {
		return v, nil
	}
	v, err := c.reader.AvailableStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	c.values[productID] = v
	return v, nil
}

func (c *fakeCache) BatchGet(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(productIDs))
	for _, id := range productIDs {
		v, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func (c *fakeCache) Invalidate(ctx context.Context, productIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations = append(c.invalidations, append([]int64(nil), productIDs...))
	for _, id := range productIDs {
		delete(c.values, id)
	}
}

type fakeMutex struct {
	mu        sync.Mutex
	held      map[int64]bool
	contended map[int64]bool
	acquired  []int64
}

func newFakeMutex() *fakeMutex {
	return &fakeMutex{held: map[int64]bool{}, contended: map[int64]bool{}}
}

func (m *fakeMutex) TryAcquire(ctx context.Context, productID int64, lease time.Duration) (port.MutexToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contended[productID] || m.held[productID] {
		return port.MutexToken{}, domain.ErrLockContention
	}
	m.held[productID] = true
	m.acquired = append(m.acquired, productID)
	return port.MutexToken{Key: strconv.FormatInt(productID, 10), Value: "token"}, nil
}

func (m *fakeMutex) Release(ctx context.Context, token port.MutexToken) error {
	if token.Key == "" {
		return nil
	}
	id, err := strconv.ParseInt(token.Key, 10, 64)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, id)
	return nil
}

func newTestEngine(store *memStore, cache port.StockCache, mutex port.ProductMutex) *application.ReservationEngine {
	return application.NewReservationEngine(store, store, cache, mutex, otel.Tracer("test"))
}

// ---- 用例 ----

func TestReserveConfirmLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(101, 10, 0)
	engine := newTestEngine(store, nil, nil)

	res, err := engine.Reserve(ctx, &application.ReserveCommand{ProductID: 101, Quantity: 4, OrderID: "O1"})
	require.NoError(t, err)
	assert.Greater(t, res.ReservationID, int64(0))
	assert.True(t, res.ExpiredAt.After(time.Now()))

	stock := store.stock(101)
	assert.Equal(t, 6, stock.Available)
	assert.Equal(t, 4, stock.Reserved)

	logs := store.logEntries()
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ChangeReserve, logs[0].Kind)
	assert.Equal(t, -4, logs[0].Quantity)
	assert.Equal(t, 10, logs[0].BeforeAvailable)
	assert.Equal(t, 6, logs[0].AfterAvailable)
	assert.Equal(t, "order_service_O1", logs[0].Operator)
	assert.Equal(t, "order_service", logs[0].Source)

	// 同一 (订单, 商品) 重复预占被拒绝，状态不变
	_, err = engine.Reserve(ctx, &application.ReserveCommand{ProductID: 101, Quantity: 4, OrderID: "O1"})
	require.ErrorIs(t, err, domain.ErrDuplicateReservation)
	stock = store.stock(101)
	assert.Equal(t, 6, stock.Available)
	assert.Equal(t, 4, stock.Reserved)

	order, err := engine.Confirm(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.Count)
	assert.Equal(t, []int64{101}, order.Products)

	stock = store.stock(101)
	assert.Equal(t, 6, stock.Available)
	assert.Equal(t, 0, stock.Reserved)
	assert.Equal(t, domain.StatusConfirmed, store.reservation(res.ReservationID).Status)

	logs = store.logEntries()
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ChangeConfirm, logs[1].Kind)
	assert.Equal(t, 0, logs[1].Quantity)
	assert.Equal(t, 6, logs[1].BeforeAvailable)
	assert.Equal(t, 6, logs[1].AfterAvailable)

	// 终态后再次结清视为未找到，幂等
	_, err = engine.Release(ctx, "O1")
	require.ErrorIs(t, err, domain.ErrReservationNotFound)
	_, err = engine.Confirm(ctx, "O1")
	require.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(7, 10, 0)
	engine := newTestEngine(store, nil, nil)

	res, err := engine.Reserve(ctx, &application.ReserveCommand{ProductID: 7, Quantity: 5, OrderID: "O2"})
	require.NoError(t, err)

	_, err = engine.Release(ctx, "O2")
	require.NoError(t, err)

	stock := store.stock(7)
	assert.Equal(t, 10, stock.Available)
	assert.Equal(t, 0, stock.Reserved)
	assert.Equal(t, domain.StatusReleased, store.reservation(res.ReservationID).Status)

	logs := store.logEntries()
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ChangeRelease, logs[1].Kind)
	assert.Equal(t, 5, logs[1].Quantity)
	assert.Equal(t, 5, logs[1].BeforeAvailable)
	assert.Equal(t, 10, logs[1].AfterAvailable)
}

func TestReserveValidation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(1, 6, 0)
	engine := newTestEngine(store, nil, nil)

	_, err := engine.Reserve(ctx, &application.ReserveCommand{ProductID: 1, Quantity: 7, OrderID: "O3"})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 6, store.stock(1).Available)
	assert.Empty(t, store.logEntries())

	_, err = engine.Reserve(ctx, &application.ReserveCommand{ProductID: 1, Quantity: 0, OrderID: "O3"})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = engine.Reserve(ctx, &application.ReserveCommand{ProductID: 1, Quantity: -2, OrderID: "O3"})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = engine.Reserve(ctx, &application.ReserveCommand{ProductID: 999, Quantity: 1, OrderID: "O3"})
	require.ErrorIs(t, err, domain.ErrStockNotFound)
}

func TestSettleUnknownOrder(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(newMemStore(), nil, nil)

	_, err := engine.Confirm(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrReservationNotFound)
	_, err = engine.Release(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestSettleAcquiresMutexesInProductOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	mutex := newFakeMutex()
	now := time.Now()
	for _, id := range []int64{42, 7, 19} {
		store.seedStock(id, 0, 2)
		store.seedReservation(domain.NewReservation("O9", id, 2, now))
	}
	engine := newTestEngine(store, nil, mutex)

	order, err := engine.Confirm(ctx, "O9")
	require.NoError(t, err)
	assert.Equal(t, 3, order.Count)
	assert.Equal(t, []int64{7, 19, 42}, order.Products)

	// 无论预占写入顺序如何，互斥锁始终按商品ID升序获取
	assert.Equal(t, []int64{7, 19, 42}, mutex.acquired)
	assert.Empty(t, mutex.held)
}

func TestReserveLockContention(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(5, 10, 0)
	mutex := newFakeMutex()
	mutex.contended[5] = true
	engine := newTestEngine(store, nil, mutex)

	_, err := engine.Reserve(ctx, &application.ReserveCommand{ProductID: 5, Quantity: 1, OrderID: "O4"})
	require.ErrorIs(t, err, domain.ErrLockContention)
	assert.Zero(t, store.commits, "contention must fail before any transaction")
	assert.Equal(t, 10, store.stock(5).Available)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(88, 10, 0)
	engine := newTestEngine(store, nil, nil)

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Reserve(ctx, &application.ReserveCommand{
				ProductID: 88,
				Quantity:  3,
				OrderID:   fmt.Sprintf("order-%d", i),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}

	assert.Equal(t, 3, succeeded)
	stock := store.stock(88)
	assert.Equal(t, 1, stock.Available)
	assert.Equal(t, 9, stock.Reserved)
}

func TestCleanupExpiredInBatches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newFakeCache(store)
	now := time.Now()
	for i := int64(1); i <= 5; i++ {
		store.seedStock(i, 0, 1)
		r := domain.NewReservation(fmt.Sprintf("stale-%d", i), i, 1, now.Add(-time.Hour))
		r.ExpiredAt = now.Add(-time.Hour + time.Duration(i)*time.Minute)
		store.seedReservation(r)
	}
	engine := newTestEngine(store, cache, nil)

	cleaned, err := engine.CleanupExpired(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, cleaned)

	for i := int64(1); i <= 5; i++ {
		stock := store.stock(i)
		assert.Equal(t, 1, stock.Available)
		assert.Equal(t, 0, stock.Reserved)
	}
	for _, entry := range store.logEntries() {
		assert.Equal(t, domain.ChangeRelease, entry.Kind)
		assert.Equal(t, "system", entry.Operator)
		assert.Equal(t, "cleanup", entry.Source)
	}

	// 每批提交后失效该批涉及的商品缓存：2 + 2 + 1
	require.Len(t, cache.invalidations, 3)
	assert.Len(t, cache.invalidations[0], 2)
	assert.Len(t, cache.invalidations[1], 2)
	assert.Len(t, cache.invalidations[2], 1)

	// 再次清理是空转
	cleaned, err = engine.CleanupExpired(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, cleaned)
}

func TestCleanupBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()
	for i, id := range []int64{11, 22} {
		store.seedStock(id, 0, 1)
		r := domain.NewReservation(fmt.Sprintf("stale-%d", id), id, 1, now.Add(-time.Hour))
		r.ExpiredAt = now.Add(-time.Hour + time.Duration(i)*time.Minute)
		store.seedReservation(r)
	}
	store.failApply[22] = errors.New("storage offline")
	engine := newTestEngine(store, nil, nil)

	// 两条同批：第二条失败导致整批回滚
	cleaned, err := engine.CleanupExpired(ctx, 5)
	require.Error(t, err)
	assert.Zero(t, cleaned)
	for _, id := range []int64{11, 22} {
		stock := store.stock(id)
		assert.Equal(t, 0, stock.Available, "product %d", id)
		assert.Equal(t, 1, stock.Reserved, "product %d", id)
	}

	// 批大小为 1：第一批提交保持生效，第二批失败后终止
	cleaned, err = engine.CleanupExpired(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, 1, store.stock(11).Available)
	assert.Equal(t, 1, store.stock(22).Reserved)
}

func TestStockReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(101, 10, 0)
	store.seedStock(102, 3, 0)
	cache := newFakeCache(store)
	engine := newTestEngine(store, cache, nil)

	// 预热缓存
	got, err := engine.GetStock(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	// 变更提交后缓存被失效，后续读取回源到新值
	_, err = engine.Reserve(ctx, &application.ReserveCommand{ProductID: 101, Quantity: 4, OrderID: "O7"})
	require.NoError(t, err)
	require.Len(t, cache.invalidations, 1)
	assert.Equal(t, []int64{101}, cache.invalidations[0])

	got, err = engine.GetStock(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 6, got)

	batch, err := engine.BatchGetStocks(ctx, []int64{101, 102, 999})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{101: 6, 102: 3, 999: 0}, batch)
}

func TestGetStockWithoutCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedStock(1, 4, 0)
	engine := newTestEngine(store, nil, nil)

	got, err := engine.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, got)

	got, err = engine.GetStock(ctx, 404)
	require.NoError(t, err)
	assert.Zero(t, got)
}
