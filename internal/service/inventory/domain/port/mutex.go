// internal/service/inventory/domain/port/mutex.go
package port

import (
	"context"
	"time"
)

// MutexToken 标识一次成功的互斥锁持有，释放时校验归属。
type MutexToken struct {
	Key   string
	Value string
}

// ProductMutex 是商品粒度的集群级短租约互斥锁。
// 语义是快速失败：竞争时立即返回 domain.ErrLockContention，从不等待。
// 它只是降低行锁风暴的准入闸门，正确性从不依赖它。
type ProductMutex interface {
	TryAcquire(ctx context.Context, productID int64, lease time.Duration) (MutexToken, error)
	Release(ctx context.Context, token MutexToken) error
}

// NopMutex 是未配置互斥后端时的空实现，所有获取都直接放行。
type NopMutex struct{}

func (NopMutex) TryAcquire(ctx context.Context, productID int64, lease time.Duration) (MutexToken, error) {
	return MutexToken{}, nil
}

func (NopMutex) Release(ctx context.Context, token MutexToken) error { return nil }
