package zookeeper

import (
	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// Conn is the subset of *zk.Conn used by the driver.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	Close()
}

var _ Conn = (*zk.Conn)(nil)

// zapLogger routes the zk client log lines to zap.
type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l zapLogger) Printf(format string, args ...any) {
	l.logger.Infof(format, args...)
}
