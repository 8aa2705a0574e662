// internal/service/inventory/infrastructure/adapter/mutex_redis.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"depot/internal/pkg/logger"
	"depot/internal/pkg/redis"
	"depot/internal/service/inventory/domain"
	"depot/internal/service/inventory/domain/port"
)

const unlockScriptName = "unlock_inventory_mutex"

// unlockScript 校验持有者后删除锁，避免误删他人租约。
// KEYS[1]: 锁 Key
// ARGV[1]: 持有者 token
var unlockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// MutexRedisAdapter 是 port.ProductMutex 的 Redis 实现：
// SET NX PX 的短租约准入闸门，竞争时立即失败，从不等待。
// 后端故障时放行而不是拒绝——互斥层只是优化，正确性由行锁保证。
type MutexRedisAdapter struct {
	redisClient *redis.Client
}

// NewMutexRedisAdapter 创建互斥锁适配器，注册释放脚本。
func NewMutexRedisAdapter(redisClient *redis.Client) (*MutexRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, fmt.Errorf("failed to load mutex unlock script: %w", err)
	}
	return &MutexRedisAdapter{redisClient: redisClient}, nil
}

func mutexKey(productID int64) string {
	return fmt.Sprintf("lock:inventory:%d", productID)
}

// TryAcquire 尝试获取商品互斥锁。
func (a *MutexRedisAdapter) TryAcquire(ctx context.Context, productID int64, lease time.Duration) (port.MutexToken, error) {
	key := mutexKey(productID)
	token := uuid.NewString()

	ok, err := a.redisClient.GetClient().SetNX(ctx, key, token, lease).Result()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).
			Msg("mutex backend unavailable, admitting without gate")
		return port.MutexToken{}, nil
	}
	if !ok {
		return port.MutexToken{}, domain.ErrLockContention
	}
	return port.MutexToken{Key: key, Value: token}, nil
}

// Release 释放持有的锁。空 token（放行或未配置）直接返回。
func (a *MutexRedisAdapter) Release(ctx context.Context, token port.MutexToken) error {
	if token.Key == "" {
		return nil
	}
	_, err := a.redisClient.RunScript(ctx, unlockScriptName, []string{token.Key}, token.Value)
	if err != nil {
		// 租约到期后锁自行消失，释放失败不影响后续获取
		logger.Ctx(ctx).Warn().Err(err).Str("key", token.Key).Msg("failed to release mutex")
	}
	return err
}
