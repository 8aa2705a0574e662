// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 封装一条 ZooKeeper 会话连接。
// 临时节点的存活与会话绑定：持有者崩溃后会话超时即自动清理。
type Conn struct {
	*zk.Conn
}

// Connect 建立 ZooKeeper 会话。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if sessionTimeout <= 0 {
		sessionTimeout = 10 * time.Second
	}
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to zookeeper %v: %w", servers, err)
	}
	return &Conn{Conn: conn}, nil
}
