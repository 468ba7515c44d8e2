// Package zookeeper implements the coordination driver on top of a ZooKeeper
// ensemble using github.com/go-zookeeper/zk.
//
// Operations interrupted by a connection loss are retried with a fixed delay
// until they succeed or their context ends. Child watches are kept by a cache
// that re-arms the one-shot ZooKeeper watches after every notification.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/go-zookeeper/zk"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/internal/options"
	"github.com/tarantool/go-coordination/node"
)

// Config holds the connection parameters of Connect.
type Config struct {
	// Servers is the list of host:port addresses of the ensemble.
	Servers []string
	// SessionTimeout is the session timeout negotiated with the server.
	SessionTimeout time.Duration
	// ConnectionTimeout bounds dialing and waiting for the first session.
	ConnectionTimeout time.Duration
}

// Driver is a ZooKeeper implementation of the driver interface.
type Driver struct {
	conn     Conn
	settings settings
	logger   *zap.Logger
	closed   *atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	nextID uint64
	caches map[uint64]*childCache
}

var (
	_ driver.Driver = &Driver{} //nolint:exhaustruct

	acl = zk.WorldACL(zk.PermAll) //nolint:gochecknoglobals
)

// Connect dials the ensemble and waits for a session to be established.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Driver, error) {
	s := options.ApplyOptions[settings](defaultSettings, opts)

	dialer := func(network, address string, _ time.Duration) (net.Conn, error) {
		return net.DialTimeout(network, address, cfg.ConnectionTimeout)
	}

	conn, events, err := zk.Connect(cfg.Servers, cfg.SessionTimeout,
		zk.WithDialer(dialer),
		zk.WithLogger(zapLogger{logger: s.logger.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	if err := awaitSession(ctx, events, cfg.ConnectionTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	return New(conn, events, opts...), nil
}

func awaitSession(ctx context.Context, events <-chan zk.Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", driver.ErrNotConnected, ctx.Err())
		case <-timer.C:
			return fmt.Errorf("%w: no session established within %s", driver.ErrNotConnected, timeout)
		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: connection closed", driver.ErrNotConnected)
			}

			switch event.State { //nolint:exhaustive
			case zk.StateHasSession:
				return nil
			case zk.StateAuthFailed:
				return fmt.Errorf("%w: authentication failed", driver.ErrNotConnected)
			}
		}
	}
}

// New creates a driver over an established connection. Session events are
// read from events until the driver is closed or the channel is closed.
func New(conn Conn, events <-chan zk.Event, opts ...Option) *Driver {
	s := options.ApplyOptions[settings](defaultSettings, opts)

	drv := &Driver{
		conn:     conn,
		settings: s,
		logger:   s.logger.With(zap.String("backend", "zookeeper")),
		closed:   atomic.NewBool(false),
		done:     make(chan struct{}),
		wg:       sync.WaitGroup{},
		mu:       sync.Mutex{},
		nextID:   0,
		caches:   make(map[uint64]*childCache),
	}

	if events != nil {
		drv.wg.Add(1)

		go drv.sessionLoop(events)
	}

	return drv
}

func (d *Driver) sessionLoop(events <-chan zk.Event) {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			if event.Type != zk.EventSession {
				continue
			}

			d.logger.Debug("session state changed", zap.Stringer("state", event.State))

			d.mu.Lock()
			for _, cache := range d.caches {
				cache.pushState(event.State)
			}
			d.mu.Unlock()
		}
	}
}

// Create creates a node and returns its path.
func (d *Driver) Create(
	ctx context.Context,
	path string,
	data []byte,
	mode node.Mode,
	createParents bool,
) (string, error) {
	if err := d.check(path); err != nil {
		return "", err
	}

	if path == node.Root {
		return "", fmt.Errorf("%w: %s", driver.ErrNodeExists, path)
	}

	if createParents {
		for _, ancestor := range node.Ancestors(path) {
			err := d.do(ctx, func() error {
				_, err := d.conn.Create(ancestor, nil, 0, acl)
				return err
			})
			if err != nil && !errors.Is(err, driver.ErrNodeExists) {
				return "", fmt.Errorf("failed to create parent %q: %w", ancestor, err)
			}
		}
	}

	var flags int32
	if mode == node.ModeEphemeral {
		flags = zk.FlagEphemeral
	}

	var created string

	err := d.do(ctx, func() error {
		var err error

		created, err = d.conn.Create(path, data, flags, acl)

		return err
	})
	if err != nil {
		return "", err
	}

	return created, nil
}

// Set overwrites the node data regardless of its version.
func (d *Driver) Set(ctx context.Context, path string, data []byte) (node.Stat, error) {
	if err := d.check(path); err != nil {
		return node.Stat{}, err
	}

	var stat *zk.Stat

	err := d.do(ctx, func() error {
		var err error

		stat, err = d.conn.Set(path, data, -1)

		return err
	})
	if err != nil {
		return node.Stat{}, err
	}

	return statOf(stat), nil
}

// Get returns the node data and metadata.
func (d *Driver) Get(ctx context.Context, path string) ([]byte, node.Stat, error) {
	if err := d.check(path); err != nil {
		return nil, node.Stat{}, err
	}

	var (
		data []byte
		stat *zk.Stat
	)

	err := d.do(ctx, func() error {
		var err error

		data, stat, err = d.conn.Get(path)

		return err
	})
	if err != nil {
		return nil, node.Stat{}, err
	}

	return data, statOf(stat), nil
}

// Delete removes a node regardless of its version.
func (d *Driver) Delete(ctx context.Context, path string) error {
	if err := d.check(path); err != nil {
		return err
	}

	if path == node.Root {
		return fmt.Errorf("%w: the root cannot be deleted", node.ErrInvalidPath)
	}

	return d.do(ctx, func() error {
		return d.conn.Delete(path, -1)
	})
}

// Exists returns the node metadata and whether it is present.
func (d *Driver) Exists(ctx context.Context, path string) (node.Stat, bool, error) {
	if err := d.check(path); err != nil {
		return node.Stat{}, false, err
	}

	var (
		exists bool
		stat   *zk.Stat
	)

	err := d.do(ctx, func() error {
		var err error

		exists, stat, err = d.conn.Exists(path)

		return err
	})
	if err != nil {
		return node.Stat{}, false, err
	}

	if !exists {
		return node.Stat{}, false, nil
	}

	return statOf(stat), true, nil
}

// Children returns the sorted names of the immediate children.
func (d *Driver) Children(ctx context.Context, path string) ([]string, error) {
	if err := d.check(path); err != nil {
		return nil, err
	}

	var names []string

	err := d.do(ctx, func() error {
		var err error

		names, _, err = d.conn.Children(path)

		return err
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	return names, nil
}

// Connected reports whether the client currently holds a session.
func (d *Driver) Connected() bool {
	return !d.closed.Load() && d.conn.State() == zk.StateHasSession
}

// Close stops every child watch and closes the session. Closing twice is a no-op.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	caches := make([]*childCache, 0, len(d.caches))

	for id, cache := range d.caches {
		caches = append(caches, cache)
		delete(d.caches, id)
	}
	d.mu.Unlock()

	for _, cache := range caches {
		cache.stop()
	}

	close(d.done)
	d.conn.Close()
	d.wg.Wait()

	return nil
}

func (d *Driver) check(path string) error {
	if d.closed.Load() {
		return driver.ErrClosed
	}

	return node.Validate(path)
}

// do runs op, retrying it while it fails with a connection loss. Errors are
// mapped to the driver sentinels.
func (d *Driver) do(ctx context.Context, op func() error) error {
	var opErr error

	// The retrier waits between 1.5 and 2 times its bounds, so halving them
	// keeps every wait within [3/4 retryDelay, retryDelay).
	half := max(d.settings.retryDelay/2, 1)
	retrier := retry.NewRetrier(d.settings.maxRetries, half, half)

	err := retrier.RunContext(ctx, func(_ context.Context) error {
		opErr = op()
		if !isConnectionLoss(opErr) || d.closed.Load() {
			return nil
		}

		d.logger.Debug("operation interrupted by connection loss, retrying", zap.Error(opErr))

		return opErr
	})

	switch {
	case opErr != nil:
		return mapError(opErr)
	case err != nil:
		return fmt.Errorf("%w: %w", driver.ErrNotConnected, err)
	default:
		return nil
	}
}

func isConnectionLoss(err error) bool {
	return errors.Is(err, zk.ErrConnectionClosed) ||
		errors.Is(err, zk.ErrNoServer) ||
		errors.Is(err, zk.ErrSessionExpired) ||
		errors.Is(err, zk.ErrSessionMoved)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, zk.ErrNoNode):
		return fmt.Errorf("%w: %w", driver.ErrNoNode, err)
	case errors.Is(err, zk.ErrNodeExists):
		return fmt.Errorf("%w: %w", driver.ErrNodeExists, err)
	case errors.Is(err, zk.ErrNotEmpty):
		return fmt.Errorf("%w: %w", driver.ErrNotEmpty, err)
	case errors.Is(err, zk.ErrInvalidPath), errors.Is(err, zk.ErrBadArguments):
		return fmt.Errorf("%w: %w", node.ErrInvalidPath, err)
	case errors.Is(err, zk.ErrClosing):
		return fmt.Errorf("%w: %w", driver.ErrClosed, err)
	case isConnectionLoss(err):
		return fmt.Errorf("%w: %w", driver.ErrNotConnected, err)
	default:
		return fmt.Errorf("zookeeper request failed: %w", err)
	}
}

func statOf(stat *zk.Stat) node.Stat {
	if stat == nil {
		return node.Stat{}
	}

	return node.Stat{
		Version:     int64(stat.Version),
		Revision:    stat.Mzxid,
		DataLength:  int(stat.DataLength),
		NumChildren: int(stat.NumChildren),
		Ephemeral:   stat.EphemeralOwner != 0,
		Created:     time.UnixMilli(stat.Ctime),
		Modified:    time.UnixMilli(stat.Mtime),
	}
}
