// Package driver defines the interface for coordination backend implementations.
// It provides a common interface for ZooKeeper and for key-value stores
// (etcd, Tarantool config storage) adapted to a node tree.
package driver

import (
	"context"
	"errors"

	"github.com/tarantool/go-coordination/node"
	"github.com/tarantool/go-coordination/watch"
)

var (
	// ErrNodeExists is returned when a node is created at an occupied path.
	ErrNodeExists = errors.New("node already exists")
	// ErrNoNode is returned when the target node (or the parent of a created node) is absent.
	ErrNoNode = errors.New("node does not exist")
	// ErrNotEmpty is returned when a node with children is deleted.
	ErrNotEmpty = errors.New("node has children")
	// ErrNotConnected is returned when the session is known to be down.
	ErrNotConnected = errors.New("not connected")
	// ErrUnsupported is returned when the backend cannot serve the request.
	ErrUnsupported = errors.New("operation is not supported by the backend")
	// ErrClosed is returned when the driver has been closed.
	ErrClosed = errors.New("driver is closed")
)

// Driver is the interface that coordination backends must implement.
// All blocking methods wait for the backend to answer or ctx to end.
type Driver interface {
	// Create creates a node and returns its actual path.
	// When createParents is set, missing ancestors are created as empty persistent nodes.
	Create(ctx context.Context, path string, data []byte, mode node.Mode, createParents bool) (string, error)

	// Set overwrites the node data and returns the updated metadata.
	Set(ctx context.Context, path string, data []byte) (node.Stat, error)

	// Get returns the node data and metadata.
	Get(ctx context.Context, path string) ([]byte, node.Stat, error)

	// Delete removes a node without children.
	Delete(ctx context.Context, path string) error

	// Exists returns the node metadata and whether the node is present.
	Exists(ctx context.Context, path string) (node.Stat, bool, error)

	// Children returns the sorted names of the immediate children of a node.
	Children(ctx context.Context, path string) ([]string, error)

	// WatchChildren starts watching the immediate children of parent.
	// The initial snapshot is loaded before the method returns and is never
	// reported on the channel. The channel is closed after the returned stop
	// function is called, ctx is done or the driver is closed.
	WatchChildren(ctx context.Context, parent string) (<-chan watch.Event, func(), error)

	// Connected reports a best-effort connectivity snapshot without I/O.
	Connected() bool

	// Close releases the session and every active watch.
	Close() error
}
