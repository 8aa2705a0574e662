// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/inventory_locks" // 所有库存互斥锁的根节点
)

// ErrLockHeld 表示锁已被其他会话持有。
var ErrLockHeld = errors.New("lock is held by another session")

// TryLock 是一个快速失败的互斥锁：尝试在锁根下创建临时节点，
// 节点已存在则立即返回 ErrLockHeld，从不排队等待。
// 节点数据写入持有者 token，释放时校验归属。
type TryLock struct {
	conn *Conn
	path string // 锁节点路径，例如 /inventory_locks/product-123
}

// NewTryLock 创建一个新的锁实例。
func NewTryLock(conn *Conn, resourceID string) (*TryLock, error) {
	// 确保根节点存在
	// 在生产环境中，这个操作通常由初始化脚本完成
	if exists, _, err := conn.Exists(lockRoot); err == nil && !exists {
		_, createErr := conn.Create(lockRoot, []byte(""), 0, zk.WorldACL(zk.PermAll))
		if createErr != nil && createErr != zk.ErrNodeExists {
			return nil, fmt.Errorf("create lock root node: %w", createErr)
		}
	}
	return &TryLock{
		conn: conn,
		path: lockRoot + "/" + resourceID,
	}, nil
}

// TryAcquire 尝试获取锁。成功创建临时节点即持有锁，
// 锁随会话结束自动消失，这就是租约的上界。
func (l *TryLock) TryAcquire(token string) error {
	_, err := l.conn.Create(l.path, []byte(token), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("create lock node %s: %w", l.path, err)
	}
	return nil
}

// Release 校验 token 归属后删除锁节点。
// 节点已不存在（会话超时被清理）不视为错误。
func (l *TryLock) Release(token string) error {
	data, stat, err := l.conn.Get(l.path)
	if err == zk.ErrNoNode {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock node %s: %w", l.path, err)
	}
	if string(data) != token {
		// 锁已被其他会话重新持有，不能删除
		return nil
	}
	if err := l.conn.Delete(l.path, stat.Version); err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("delete lock node %s: %w", l.path, err)
	}
	return nil
}
