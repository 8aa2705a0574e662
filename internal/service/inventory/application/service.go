// internal/service/inventory/application/service.go
package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"depot/internal/pkg/logger"
	"depot/internal/service/inventory/domain"
	"depot/internal/service/inventory/domain/port"
)

const (
	// MutexLease 是商品互斥锁的租约时长
	MutexLease = 10 * time.Second
	// DefaultSweepBatchSize 是清理任务的默认批大小
	DefaultSweepBatchSize = 500

	sweepOperator = "system"
	sweepSource   = "cleanup"
	orderSource   = "order_service"
)

// ReservationEngine 编排预占/确认/释放和过期清理四个用例。
// 每个用例的路径都是：互斥锁准入 → 行锁读 → 校验 → 台账+库存+审计
// 同事务变更 → 提交 → 缓存失效 → 互斥锁释放。
type ReservationEngine struct {
	store  port.StockStore
	reader port.StockReader
	cache  port.StockCache // 可为 nil：未配置缓存时直读存储
	mutex  port.ProductMutex
	tracer trace.Tracer
	now    func() time.Time
}

// NewReservationEngine 创建一个新的库存引擎实例。
// mutex 传 nil 时退化为无准入闸门（port.NopMutex）。
func NewReservationEngine(
	store port.StockStore,
	reader port.StockReader,
	cache port.StockCache,
	mutex port.ProductMutex,
	tracer trace.Tracer,
) *ReservationEngine {
	if mutex == nil {
		mutex = port.NopMutex{}
	}
	return &ReservationEngine{
		store:  store,
		reader: reader,
		cache:  cache,
		mutex:  mutex,
		tracer: tracer,
		now:    time.Now,
	}
}

// Reserve 预占库存：扣减可用、增加预占，并写入预占记录和审计日志。
// 步骤 3-7（校验到审计）要么全部生效要么全部回滚。
func (e *ReservationEngine) Reserve(ctx context.Context, cmd *ReserveCommand) (result *ReserveResult, err error) {
	ctx, span := e.tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	start := e.now()
	defer func() { observe("reserve", start, err) }()

	span.SetAttributes(
		attribute.Int64("product.id", cmd.ProductID),
		attribute.Int("reserve.quantity", cmd.Quantity),
		attribute.String("order.id", cmd.OrderID),
	)

	if cmd.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	// 1. 准入闸门：竞争时立即失败，调用方退避重试
	token, err := e.mutex.TryAcquire(ctx, cmd.ProductID, MutexLease)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer e.mutex.Release(ctx, token)

	tx, err := e.store.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// 2. 行锁读库存，这是唯一的正确性保证
	stock, err := tx.LockStock(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	if !stock.CanReserve(cmd.Quantity) {
		return nil, domain.ErrInsufficientStock
	}

	// 3. 显式查重，唯一索引兜底
	exists, err := tx.ReservationExists(ctx, cmd.OrderID, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateReservation
	}

	if err = tx.ApplyStock(ctx, cmd.ProductID, -cmd.Quantity, cmd.Quantity); err != nil {
		return nil, err
	}

	reservation := domain.NewReservation(cmd.OrderID, cmd.ProductID, cmd.Quantity, e.now())
	if err = tx.CreateReservation(ctx, reservation); err != nil {
		return nil, err
	}

	if err = tx.AppendChangeLog(ctx, &domain.ChangeLogEntry{
		ProductID:       cmd.ProductID,
		OrderID:         cmd.OrderID,
		Kind:            domain.ChangeReserve,
		Quantity:        -cmd.Quantity,
		BeforeAvailable: stock.Available,
		AfterAvailable:  stock.Available - cmd.Quantity,
		Operator:        fmt.Sprintf("order_service_%s", cmd.OrderID),
		Source:          orderSource,
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	// 提交后再失效缓存：先删后提交会让并发读以提交前的值回填
	e.invalidate(ctx, cmd.ProductID)

	logger.Ctx(ctx).Info().
		Str("order_id", cmd.OrderID).
		Int64("product_id", cmd.ProductID).
		Int("quantity", cmd.Quantity).
		Msg("stock reserved")

	return &ReserveResult{
		ReservationID: reservation.ID,
		ExpiredAt:     reservation.ExpiredAt,
	}, nil
}

// Confirm 确认订单下所有预占：扣减预占量（可用量在预占时已扣），
// 预占记录转入 CONFIRMED 终态。整个订单一次提交。
func (e *ReservationEngine) Confirm(ctx context.Context, orderID string) (*OrderResult, error) {
	return e.settleOrder(ctx, "inventory.Confirm", "confirm", orderID, domain.StatusConfirmed)
}

// Release 释放订单下所有预占：归还可用量、扣减预占量，
// 预占记录转入 RELEASED 终态。
func (e *ReservationEngine) Release(ctx context.Context, orderID string) (*OrderResult, error) {
	return e.settleOrder(ctx, "inventory.Release", "release", orderID, domain.StatusReleased)
}

// settleOrder 是 Confirm 和 Release 的共同骨架，二者只差库存增量方向、
// 目标状态和审计类型。
func (e *ReservationEngine) settleOrder(
	ctx context.Context,
	spanName, opName, orderID string,
	target domain.ReservationStatus,
) (result *OrderResult, err error) {
	ctx, span := e.tracer.Start(ctx, spanName)
	defer span.End()
	start := e.now()
	defer func() { observe(opName, start, err) }()

	span.SetAttributes(attribute.String("order.id", orderID))

	// 1. 预读涉及的商品集合，按商品ID升序获取全部互斥锁。
	// 固定的获取顺序消除了跨订单的互斥层死锁环。
	productIDs, err := e.store.ActiveReservationProducts(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(productIDs) == 0 {
		return nil, domain.ErrReservationNotFound
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	tokens := make([]port.MutexToken, 0, len(productIDs))
	defer func() {
		for _, token := range tokens {
			e.mutex.Release(ctx, token)
		}
	}()
	for _, productID := range productIDs {
		token, acqErr := e.mutex.TryAcquire(ctx, productID, MutexLease)
		if acqErr != nil {
			span.RecordError(acqErr)
			return nil, acqErr
		}
		tokens = append(tokens, token)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// 2. 事务内重新加载作为权威数据；并发方已结清则视为未找到
	reservations, err := tx.ActiveReservations(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(reservations) == 0 {
		return nil, domain.ErrReservationNotFound
	}

	touched := make(map[int64]struct{}, len(reservations))
	for _, r := range reservations {
		if err = e.settleReservation(ctx, tx, r, target); err != nil {
			return nil, err
		}
		touched[r.ProductID] = struct{}{}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	touchedIDs := sortedKeys(touched)
	e.invalidate(ctx, touchedIDs...)

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("status", string(target)).
		Int("reservations", len(reservations)).
		Msg("order reservations settled")

	return &OrderResult{OrderID: orderID, Count: len(reservations), Products: touchedIDs}, nil
}

// settleReservation 在持锁范围内结清一条预占记录。
func (e *ReservationEngine) settleReservation(
	ctx context.Context,
	tx port.StockTx,
	r *domain.Reservation,
	target domain.ReservationStatus,
) error {
	stock, err := tx.LockStock(ctx, r.ProductID)
	if err != nil {
		return err
	}

	entry := &domain.ChangeLogEntry{
		ProductID: r.ProductID,
		OrderID:   r.OrderID,
		Operator:  fmt.Sprintf("order_service_%s", r.OrderID),
		Source:    orderSource,
	}

	switch target {
	case domain.StatusConfirmed:
		// 可用量在预占时已扣减，这里只消掉预占量
		if err := tx.ApplyStock(ctx, r.ProductID, 0, -r.Quantity); err != nil {
			return err
		}
		entry.Kind = domain.ChangeConfirm
		entry.Quantity = 0
		entry.BeforeAvailable = stock.Available
		entry.AfterAvailable = stock.Available
	case domain.StatusReleased:
		if err := tx.ApplyStock(ctx, r.ProductID, r.Quantity, -r.Quantity); err != nil {
			return err
		}
		entry.Kind = domain.ChangeRelease
		entry.Quantity = r.Quantity
		entry.BeforeAvailable = stock.Available
		entry.AfterAvailable = stock.Available + r.Quantity
	default:
		return domain.ErrInvalidTransition
	}

	if err := r.TransitionTo(target, e.now()); err != nil {
		return err
	}
	if err := tx.SaveReservationStatus(ctx, r); err != nil {
		return err
	}
	return tx.AppendChangeLog(ctx, entry)
}

// CleanupExpired 批量回收过期预占。每一批是一个独立事务、
// 显式地全有或全无：批内任何一条失败都回滚整批并终止本次清理，
// 此前已提交的批次保持生效，返回值是已提交的总条数。
func (e *ReservationEngine) CleanupExpired(ctx context.Context, batchSize int) (int, error) {
	ctx, span := e.tracer.Start(ctx, "inventory.CleanupExpired")
	defer span.End()
	start := e.now()

	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	span.SetAttributes(attribute.Int("sweep.batch_size", batchSize))

	total := 0
	for {
		n, touched, err := e.sweepBatch(ctx, batchSize)
		if err != nil {
			observe("cleanup", start, err)
			logger.Ctx(ctx).Error().Err(err).Int("cleaned", total).
				Msg("cleanup batch failed, aborting sweep")
			return total, err
		}
		total += n
		sweepReclaimedTotal.Add(float64(n))
		e.invalidate(ctx, touched...)

		if n < batchSize {
			break
		}
	}

	observe("cleanup", start, nil)
	logger.Ctx(ctx).Info().Int("cleaned", total).Msg("expired reservation sweep finished")
	return total, nil
}

// sweepBatch 处理一批过期预占。SKIP LOCKED 圈选保证并发清理实例
// 永远不会认领到同一条记录。
func (e *ReservationEngine) sweepBatch(ctx context.Context, batchSize int) (n int, touched []int64, err error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	expired, err := tx.LockExpiredReservations(ctx, batchSize, e.now())
	if err != nil {
		return 0, nil, err
	}
	if len(expired) == 0 {
		err = tx.Commit()
		return 0, nil, err
	}

	touchedSet := make(map[int64]struct{}, len(expired))
	for _, r := range expired {
		stock, lockErr := tx.LockStock(ctx, r.ProductID)
		if lockErr != nil {
			err = fmt.Errorf("sweep reservation %d (order %s): %w", r.ID, r.OrderID, lockErr)
			return 0, nil, err
		}
		if err = tx.ApplyStock(ctx, r.ProductID, r.Quantity, -r.Quantity); err != nil {
			return 0, nil, err
		}
		if err = r.TransitionTo(domain.StatusReleased, e.now()); err != nil {
			return 0, nil, err
		}
		if err = tx.SaveReservationStatus(ctx, r); err != nil {
			return 0, nil, err
		}
		if err = tx.AppendChangeLog(ctx, &domain.ChangeLogEntry{
			ProductID:       r.ProductID,
			OrderID:         r.OrderID,
			Kind:            domain.ChangeRelease,
			Quantity:        r.Quantity,
			BeforeAvailable: stock.Available,
			AfterAvailable:  stock.Available + r.Quantity,
			Operator:        sweepOperator,
			Source:          sweepSource,
		}); err != nil {
			return 0, nil, err
		}
		touchedSet[r.ProductID] = struct{}{}
	}

	if err = tx.Commit(); err != nil {
		return 0, nil, err
	}
	return len(expired), sortedKeys(touchedSet), nil
}

// GetStock 查询单个商品的可用库存（经缓存）。
func (e *ReservationEngine) GetStock(ctx context.Context, productID int64) (int, error) {
	ctx, span := e.tracer.Start(ctx, "inventory.GetStock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	if e.cache == nil {
		return e.reader.AvailableStock(ctx, productID)
	}
	return e.cache.Get(ctx, productID)
}

// BatchGetStocks 批量查询可用库存（经缓存）。
func (e *ReservationEngine) BatchGetStocks(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	ctx, span := e.tracer.Start(ctx, "inventory.BatchGetStocks")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(productIDs)))

	if e.cache == nil {
		return e.reader.AvailableStocks(ctx, productIDs)
	}
	return e.cache.BatchGet(ctx, productIDs)
}

func (e *ReservationEngine) invalidate(ctx context.Context, productIDs ...int64) {
	if e.cache == nil || len(productIDs) == 0 {
		return
	}
	e.cache.Invalidate(ctx, productIDs...)
}

func sortedKeys(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
