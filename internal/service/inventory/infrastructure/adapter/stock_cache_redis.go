// internal/service/inventory/infrastructure/adapter/stock_cache_redis.go
package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"depot/internal/pkg/logger"
	"depot/internal/pkg/redis"
	"depot/internal/service/inventory/domain/port"
)

// StockCacheRedis 是 port.StockCache 的 Redis 实现：旁路读缓存，
// 未命中时回源存储并以固定 TTL 写入，写路径只删除、从不更新缓存。
// Redis 不可用时所有读取退化为直读存储，而不是失败。
type StockCacheRedis struct {
	redisClient *redis.Client
	reader      port.StockReader
	ttl         time.Duration

	// 未命中回源用 singleflight 去重，避免同一商品的并发未命中打穿存储
	group singleflight.Group
}

// NewStockCacheRedis 创建一个新的缓存适配器实例。
func NewStockCacheRedis(redisClient *redis.Client, reader port.StockReader, ttl time.Duration) *StockCacheRedis {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &StockCacheRedis{redisClient: redisClient, reader: reader, ttl: ttl}
}

func stockCacheKey(productID int64) string {
	return fmt.Sprintf("stock:available:%d", productID)
}

// Get 返回商品可用库存。命中直接返回，未命中回源并回填缓存。
func (c *StockCacheRedis) Get(ctx context.Context, productID int64) (int, error) {
	key := stockCacheKey(productID)

	cached, err := c.redisClient.GetClient().Get(ctx, key).Result()
	switch {
	case err == nil:
		if v, convErr := strconv.Atoi(cached); convErr == nil {
			return v, nil
		}
		// 脏数据当作未命中处理，回源后覆盖
	case err != goredis.Nil:
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).
			Msg("stock cache unavailable, falling back to store")
		return c.reader.AvailableStock(ctx, productID)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		available, err := c.reader.AvailableStock(ctx, productID)
		if err != nil {
			return 0, err
		}
		if err := c.redisClient.GetClient().Set(ctx, key, available, c.ttl).Err(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).
				Msg("failed to populate stock cache")
		}
		return available, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// BatchGet 批量读取：一次 MGET + 一次多行回源 + pipeline 逐键回填。
func (c *StockCacheRedis) BatchGet(ctx context.Context, productIDs []int64) (map[int64]int, error) {
	result := make(map[int64]int, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = stockCacheKey(id)
	}

	cached, err := c.redisClient.GetClient().MGet(ctx, keys...).Result()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("stock cache unavailable, falling back to store")
		return c.reader.AvailableStocks(ctx, productIDs)
	}

	var missed []int64
	for i, raw := range cached {
		s, ok := raw.(string)
		if !ok {
			missed = append(missed, productIDs[i])
			continue
		}
		v, convErr := strconv.Atoi(s)
		if convErr != nil {
			missed = append(missed, productIDs[i])
			continue
		}
		result[productIDs[i]] = v
	}

	if len(missed) == 0 {
		return result, nil
	}

	loaded, err := c.reader.AvailableStocks(ctx, missed)
	if err != nil {
		return nil, err
	}

	pipe := c.redisClient.GetClient().Pipeline()
	for _, id := range missed {
		available := loaded[id]
		result[id] = available
		pipe.Set(ctx, stockCacheKey(id), available, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to populate stock cache batch")
	}
	return result, nil
}

// Invalidate 删除给定商品的缓存项。删除失败只记录日志：
// 此时缓存后端通常已不可用，读取路径会随之退化为直读存储。
func (c *StockCacheRedis) Invalidate(ctx context.Context, productIDs ...int64) {
	if len(productIDs) == 0 {
		return
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = stockCacheKey(id)
	}
	if err := c.redisClient.GetClient().Del(ctx, keys...).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Ints64("product_ids", productIDs).
			Msg("failed to invalidate stock cache")
	}
}
