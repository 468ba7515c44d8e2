// Package tkv provides a Tarantool config storage implementation of the
// key-value backend. Config storage has no client sessions, so ephemeral
// nodes are not supported.
package tkv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"
	"github.com/tarantool/go-tarantool/v2/pool"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/driver/kvtree"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
	"github.com/tarantool/go-coordination/tx"
)

// DoerWatcher is an interface that combines tarantool.Doer and NewWatcher method.
// tarantool.Connection and pool.ConnectionAdapter implement this interface.
type DoerWatcher interface {
	tarantool.Doer

	NewWatcher(key string, callback tarantool.WatchCallback) (tarantool.Watcher, error)
}

// Backend is a Tarantool config storage implementation of the key-value backend.
type Backend struct {
	conn DoerWatcher
}

var (
	_ kvtree.Backend = &Backend{} //nolint:exhaustruct

	// ErrUnexpectedResponse is returned when the response from tarantool has unexpected format.
	ErrUnexpectedResponse = errors.New("unexpected response from tarantool")
)

const (
	txnFunction    = "config.storage.txn"
	watchKeyPrefix = "config.storage:"
)

// New creates a backend over an established connection.
func New(doer DoerWatcher) *Backend {
	return &Backend{conn: doer}
}

// Config holds the connection parameters of Connect.
type Config struct {
	Addresses []string
	User      string
	Password  string
	Timeout   time.Duration
}

// Connect connects to the config storage instances and returns a backend
// sending requests to a writable instance of the pool.
func Connect(ctx context.Context, cfg Config) (*Backend, error) {
	instances := make([]pool.Instance, 0, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		instances = append(instances, pool.Instance{
			Name: fmt.Sprintf("instance-%d", i),
			Dialer: &tarantool.NetDialer{
				Address:  addr,
				User:     cfg.User,
				Password: cfg.Password,
				RequiredProtocolInfo: tarantool.ProtocolInfo{
					Auth:     tarantool.AutoAuth,
					Version:  tarantool.ProtocolVersion(0),
					Features: nil,
				},
			},
			Opts: tarantool.Opts{
				Timeout:       cfg.Timeout,
				Reconnect:     time.Second,
				MaxReconnects: 0,
				RateLimit:     0,
				RLimitAction:  tarantool.RLimitAction(0),
				Concurrency:   0,
				SkipSchema:    false,
				Notify:        nil,
				Handle:        nil,
				Logger:        nil,
			},
		})
	}

	connPool, err := pool.Connect(ctx, instances)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tarantool pool: %w", err)
	}

	return New(pool.NewConnectorAdapter(connPool, pool.RW)), nil
}

// Execute executes a transactional operation with conditional logic.
// It processes predicates to determine whether to execute thenOps or elseOps.
func (b *Backend) Execute(
	ctx context.Context,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (tx.Response, error) {
	if err := checkSupported(thenOps, elseOps); err != nil {
		return tx.Response{}, err
	}

	txnArg := newTxnRequest(predicates, thenOps, elseOps)

	req := tarantool.NewCallRequest(txnFunction).
		Args([]any{txnArg}).Context(ctx)

	var result []txnResponse

	switch err := b.conn.Do(req).GetTyped(&result); {
	case err != nil:
		return tx.Response{}, fmt.Errorf("failed to execute transaction: %w", err)
	case len(result) != 1:
		return tx.Response{}, fmt.Errorf("%w: expected 1 response, got %d", ErrUnexpectedResponse, len(result))
	}

	return result[0].asTxnResponse(), nil
}

// Watch notifies about changes of a key, or of every key under a prefix
// when key ends with "/". Pending notifications are coalesced.
func (b *Backend) Watch(ctx context.Context, key []byte) (<-chan kvtree.Notification, func(), error) {
	rvChan := make(chan kvtree.Notification, 1)

	watcher, err := b.conn.NewWatcher(watchKeyPrefix+string(key), func(_ tarantool.WatchEvent) {
		select {
		case rvChan <- kvtree.Notification{Prefix: key, Value: nil, Deleted: false}:
		default:
		}
	})
	if err != nil {
		close(rvChan)
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	var (
		isStopped = make(chan struct{})
		stopOnce  sync.Once
	)

	go func() {
		defer func() {
			// No callback runs after Unregister returns.
			watcher.Unregister()
			close(rvChan)
		}()

		select {
		case <-ctx.Done():
		case <-isStopped:
		}
	}()

	return rvChan, func() { stopOnce.Do(func() { close(isStopped) }) }, nil
}

// Connected reports the connection state when the connection exposes it.
func (b *Backend) Connected() bool {
	if conn, ok := b.conn.(interface{ ConnectedNow() bool }); ok {
		return conn.ConnectedNow()
	}

	return true
}

// Close closes the connection when the backend has a closable one.
func (b *Backend) Close() error {
	conn, ok := b.conn.(interface{ Close() error })
	if !ok {
		return nil
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close tarantool connection: %w", err)
	}

	return nil
}

func checkSupported(opLists ...[]operation.Operation) error {
	for _, ops := range opLists {
		for _, op := range ops {
			if op.IsEphemeral() {
				return fmt.Errorf("%w: ephemeral key %q", driver.ErrUnsupported, op.Key())
			}
		}
	}

	return nil
}
