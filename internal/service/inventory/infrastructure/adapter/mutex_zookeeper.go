// internal/service/inventory/infrastructure/adapter/mutex_zookeeper.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"depot/internal/pkg/logger"
	"depot/internal/service/inventory/domain"
	"depot/internal/service/inventory/domain/port"
	"depot/internal/zookeeper"
)

// MutexZookeeperAdapter 是 port.ProductMutex 的 ZooKeeper 实现。
// 临时节点即租约：lease 参数在这里只是名义值，实际上界是会话超时，
// 持有者崩溃后节点随会话消失。
type MutexZookeeperAdapter struct {
	conn *zookeeper.Conn
}

// NewMutexZookeeperAdapter 创建 ZooKeeper 互斥锁适配器。
func NewMutexZookeeperAdapter(conn *zookeeper.Conn) *MutexZookeeperAdapter {
	return &MutexZookeeperAdapter{conn: conn}
}

// TryAcquire 尝试获取商品互斥锁，竞争时立即返回 domain.ErrLockContention。
func (a *MutexZookeeperAdapter) TryAcquire(ctx context.Context, productID int64, lease time.Duration) (port.MutexToken, error) {
	resource := fmt.Sprintf("product-%d", productID)
	lock, err := zookeeper.NewTryLock(a.conn, resource)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).
			Msg("mutex backend unavailable, admitting without gate")
		return port.MutexToken{}, nil
	}

	token := uuid.NewString()
	if err := lock.TryAcquire(token); err != nil {
		if errors.Is(err, zookeeper.ErrLockHeld) {
			return port.MutexToken{}, domain.ErrLockContention
		}
		logger.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).
			Msg("mutex backend unavailable, admitting without gate")
		return port.MutexToken{}, nil
	}
	return port.MutexToken{Key: resource, Value: token}, nil
}

// Release 释放持有的锁。空 token（放行）直接返回。
func (a *MutexZookeeperAdapter) Release(ctx context.Context, token port.MutexToken) error {
	if token.Key == "" {
		return nil
	}
	lock, err := zookeeper.NewTryLock(a.conn, token.Key)
	if err != nil {
		return err
	}
	return lock.Release(token.Value)
}
