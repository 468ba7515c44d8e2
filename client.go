package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/internal/options"
	"github.com/tarantool/go-coordination/node"
)

// Client is a coordination service client.
// Blocking methods return ErrNotConnected when the session is down at call
// time and ErrClosed after Close.
type Client interface {
	// CreatePersistent creates a persistent node, creating missing parents.
	// An existing node is left untouched and is not an error.
	CreatePersistent(ctx context.Context, path, data string) error

	// CreateEphemeral creates a node bound to the client session and returns
	// its path. The parent must exist.
	CreateEphemeral(ctx context.Context, path, data string) (string, error)

	// SetData overwrites the data of an existing node.
	SetData(ctx context.Context, path, data string) (node.Stat, error)

	// GetData returns the data of a node.
	GetData(ctx context.Context, path string) (string, error)

	// Delete removes a node without children.
	Delete(ctx context.Context, path string) error

	// Exists returns the node metadata and whether the node is present.
	Exists(ctx context.Context, path string) (node.Stat, bool, error)

	// Children returns the sorted names of the immediate children of a node.
	Children(ctx context.Context, path string) ([]string, error)

	// IsConnected reports whether the session is currently up. It does no I/O.
	IsConnected() bool

	// WatchChildren delivers the changes of the immediate children of parent
	// to listener until the watch or the client is closed. Children present
	// at registration are not reported. A missing parent is created.
	WatchChildren(ctx context.Context, parent string, listener Listener) (*Watch, error)

	// Close stops delivery, releases every watch and closes the session.
	// The listener call in progress, if any, is awaited.
	Close() error
}

type client struct {
	driver     driver.Driver
	logger     *zap.Logger
	metrics    *metrics
	dispatcher *dispatcher
	closing    *atomic.Bool

	mu      sync.Mutex
	nextID  uint64
	watches map[uint64]*Watch
	pumps   sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Client = &client{} //nolint:exhaustruct
)

// New creates a client over drv and starts its delivery goroutine.
// The client owns drv and closes it on Close.
func New(drv driver.Driver, opts ...Option) Client {
	s := options.ApplyOptions[settings](defaultSettings, opts)

	c := &client{ //nolint:exhaustruct
		driver:  drv,
		logger:  s.logger,
		metrics: newMetrics(s.registerer),
		closing: atomic.NewBool(false),
		watches: make(map[uint64]*Watch),
	}

	c.dispatcher = newDispatcher(c, c.closing, s, c.metrics)
	c.dispatcher.start()

	return c
}

func (c *client) check() error {
	if c.closing.Load() {
		return ErrClosed
	}

	if !c.driver.Connected() {
		return ErrNotConnected
	}

	return nil
}

func (c *client) CreatePersistent(ctx context.Context, path, data string) error {
	if err := c.check(); err != nil {
		return err
	}

	_, err := c.driver.Create(ctx, path, []byte(data), node.ModePersistent, true)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyExists):
		c.logger.Warn("node already exists", zap.String("path", path))
		return nil
	default:
		return fmt.Errorf("create persistent node %q: %w", path, err)
	}
}

func (c *client) CreateEphemeral(ctx context.Context, path, data string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}

	created, err := c.driver.Create(ctx, path, []byte(data), node.ModeEphemeral, false)
	if err != nil {
		return "", fmt.Errorf("create ephemeral node %q: %w", path, err)
	}

	return created, nil
}

func (c *client) SetData(ctx context.Context, path, data string) (node.Stat, error) {
	if err := c.check(); err != nil {
		return node.Stat{}, err
	}

	stat, err := c.driver.Set(ctx, path, []byte(data))
	if err != nil {
		return node.Stat{}, fmt.Errorf("set data %q: %w", path, err)
	}

	return stat, nil
}

func (c *client) GetData(ctx context.Context, path string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}

	data, _, err := c.driver.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("get data %q: %w", path, err)
	}

	return string(data), nil
}

func (c *client) Delete(ctx context.Context, path string) error {
	if err := c.check(); err != nil {
		return err
	}

	if err := c.driver.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}

	return nil
}

func (c *client) Exists(ctx context.Context, path string) (node.Stat, bool, error) {
	if err := c.check(); err != nil {
		return node.Stat{}, false, err
	}

	stat, exists, err := c.driver.Exists(ctx, path)
	if err != nil {
		return node.Stat{}, false, fmt.Errorf("stat %q: %w", path, err)
	}

	return stat, exists, nil
}

func (c *client) Children(ctx context.Context, path string) ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	names, err := c.driver.Children(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list children %q: %w", path, err)
	}

	return names, nil
}

func (c *client) IsConnected() bool {
	return !c.closing.Load() && c.driver.Connected()
}

func (c *client) WatchChildren(ctx context.Context, parent string, listener Listener) (*Watch, error) {
	if listener == nil {
		return nil, ErrNilListener
	}

	if err := c.check(); err != nil {
		return nil, err
	}

	if err := node.Validate(parent); err != nil {
		return nil, fmt.Errorf("watch children %q: %w", parent, err)
	}

	_, err := c.driver.Create(ctx, parent, nil, node.ModePersistent, true)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return nil, fmt.Errorf("watch children %q: %w", parent, err)
	}

	events, stop, err := c.driver.WatchChildren(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("watch children %q: %w", parent, err)
	}

	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		stop()

		return nil, ErrClosed
	}

	c.nextID++
	w := newWatch(c, c.nextID, parent, listener, stop)
	c.watches[w.id] = w
	c.pumps.Add(1)
	c.mu.Unlock()

	go c.pump(w, events)

	c.logger.Info("watching children", zap.String("parent", parent))

	return w, nil
}

func (c *client) forget(id uint64) {
	c.mu.Lock()
	delete(c.watches, id)
	c.mu.Unlock()
}

func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		c.mu.Lock()
		watches := make([]*Watch, 0, len(c.watches))

		for id, w := range c.watches {
			watches = append(watches, w)
			delete(c.watches, id)
		}
		c.mu.Unlock()

		for _, w := range watches {
			w.release()
		}

		c.pumps.Wait()
		c.dispatcher.stop()

		if err := c.driver.Close(); err != nil {
			c.closeErr = fmt.Errorf("close driver: %w", err)
		}

		c.logger.Info("client closed")
	})

	return c.closeErr
}
