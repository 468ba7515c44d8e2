package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/node"
	"github.com/tarantool/go-coordination/watch"
)

// wakeup is a fired zk watch tagged with the generation it was armed in.
// Watches of older generations were superseded by a resync.
type wakeup struct {
	gen   uint64
	event zk.Event
}

// childCache mirrors the immediate children of a node with their data.
// A children watch tracks membership and a data watch per child tracks
// updates; every fired watch is re-armed before the node is re-read.
type childCache struct {
	drv    *Driver
	logger *zap.Logger
	parent string
	cache  *watch.Cache
	out    chan watch.Event

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	wakeups chan wakeup
	gen     uint64
	armed   map[string]bool

	stateMu     sync.Mutex
	states      []zk.State
	stateSignal chan struct{}
	lastState   zk.State
}

// WatchChildren starts a child cache for parent. The snapshot loaded while
// arming the watches seeds the cache and is not reported.
func (d *Driver) WatchChildren(ctx context.Context, parent string) (<-chan watch.Event, func(), error) {
	if err := d.check(parent); err != nil {
		return nil, nil, err
	}

	cacheCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	cache := &childCache{
		drv:         d,
		logger:      d.logger.With(zap.String("parent", parent)),
		parent:      parent,
		cache:       watch.NewCache(parent),
		out:         make(chan watch.Event, d.settings.eventBufferSize),
		ctx:         cacheCtx,
		cancel:      cancel,
		wakeups:     make(chan wakeup),
		gen:         1,
		armed:       make(map[string]bool),
		stateMu:     sync.Mutex{},
		states:      nil,
		stateSignal: make(chan struct{}, 1),
		lastState:   zk.StateHasSession,
	}

	snapshot, exists, err := cache.load(ctx)
	if err == nil && !exists {
		err = fmt.Errorf("%w: %s", driver.ErrNoNode, parent)
	}

	if err != nil {
		cancel()
		return nil, nil, err
	}

	cache.cache.Seed(snapshot)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.caches[id] = cache
	d.mu.Unlock()

	go cache.run()

	stop := func() {
		d.mu.Lock()
		delete(d.caches, id)
		d.mu.Unlock()

		cache.stop()
	}

	return cache.out, stop, nil
}

func (c *childCache) stop() {
	c.cancel()
}

func (c *childCache) pushState(state zk.State) {
	c.stateMu.Lock()
	c.states = append(c.states, state)
	c.stateMu.Unlock()

	select {
	case c.stateSignal <- struct{}{}:
	default:
	}
}

func (c *childCache) takeStates() []zk.State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	states := c.states
	c.states = nil

	return states
}

func (c *childCache) run() {
	defer close(c.out)

	for {
		select {
		case <-c.ctx.Done():
			return
		case w := <-c.wakeups:
			if w.gen != c.gen {
				continue
			}

			if err := c.handle(w.event); err != nil {
				if c.ctx.Err() != nil {
					return
				}

				c.logger.Warn("failed to refresh children", zap.Stringer("event", w.event.Type), zap.Error(err))
			}
		case <-c.stateSignal:
			for _, state := range c.takeStates() {
				c.onSession(state)
			}
		}
	}
}

func (c *childCache) handle(event zk.Event) error {
	if event.Path == c.parent {
		switch event.Type { //nolint:exhaustive
		case zk.EventNodeChildrenChanged, zk.EventNodeCreated, zk.EventNodeDeleted:
			return c.refreshChildren()
		case zk.EventNotWatching:
			return c.resync()
		default:
			return nil
		}
	}

	switch event.Type { //nolint:exhaustive
	case zk.EventNodeDeleted:
		delete(c.armed, event.Path)

		if removed, ok := c.cache.Remove(event.Path); ok {
			c.emit(removed)
		}
	case zk.EventNodeDataChanged:
		delete(c.armed, event.Path)

		return c.refreshChild(event.Path)
	case zk.EventNotWatching:
		return c.resync()
	}

	return nil
}

func (c *childCache) onSession(state zk.State) {
	prev := c.lastState
	c.lastState = state

	switch state { //nolint:exhaustive
	case zk.StateDisconnected:
		if prev == zk.StateHasSession {
			c.emit(watch.Structural(watch.EventConnectionSuspended))
		}
	case zk.StateExpired:
		c.emit(watch.Structural(watch.EventConnectionLost))
	case zk.StateHasSession:
		if prev == zk.StateHasSession {
			return
		}

		c.emit(watch.Structural(watch.EventConnectionReconnected))

		if prev == zk.StateExpired {
			if err := c.resync(); err != nil && c.ctx.Err() == nil {
				c.logger.Warn("failed to resync children after session expiry", zap.Error(err))
			}
		}
	}
}

// resync re-arms every watch and reports the difference with the cached state.
func (c *childCache) resync() error {
	c.gen++
	c.armed = make(map[string]bool)

	snapshot, exists, err := c.load(c.ctx)
	if err != nil {
		return err
	}

	if !exists {
		snapshot = nil
	}

	c.emit(c.cache.Apply(snapshot)...)

	return nil
}

func (c *childCache) refreshChildren() error {
	names, exists, err := c.armChildren(c.ctx)
	if err != nil {
		return err
	}

	if !exists {
		c.emit(c.cache.Apply(nil)...)
		return nil
	}

	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		present[node.Join(c.parent, name)] = struct{}{}
	}

	for _, path := range c.cache.Paths() {
		if _, ok := present[path]; ok {
			continue
		}

		delete(c.armed, path)

		if removed, ok := c.cache.Remove(path); ok {
			c.emit(removed)
		}
	}

	var added []watch.ChildData

	for _, name := range names {
		path := node.Join(c.parent, name)
		if _, cached := c.cache.Get(path); cached {
			continue
		}

		child, exists, err := c.armData(c.ctx, path)
		if err != nil {
			return err
		}

		if exists {
			added = append(added, child)
		}
	}

	// New children are reported in the order they were last written.
	watch.SortByRevision(added)

	for _, child := range added {
		if event, ok := c.cache.Put(child); ok {
			c.emit(event)
		}
	}

	return nil
}

func (c *childCache) refreshChild(path string) error {
	child, exists, err := c.armData(c.ctx, path)
	if err != nil {
		return err
	}

	if !exists {
		if removed, ok := c.cache.Remove(path); ok {
			c.emit(removed)
		}

		return nil
	}

	if event, ok := c.cache.Put(child); ok {
		c.emit(event)
	}

	return nil
}

// load arms the children watch and a data watch per child and returns the
// children read while doing so.
func (c *childCache) load(ctx context.Context) ([]watch.ChildData, bool, error) {
	names, exists, err := c.armChildren(ctx)
	if err != nil || !exists {
		return nil, exists, err
	}

	snapshot := make([]watch.ChildData, 0, len(names))

	for _, name := range names {
		child, ok, err := c.armData(ctx, node.Join(c.parent, name))
		if err != nil {
			return nil, false, err
		}

		if ok {
			snapshot = append(snapshot, child)
		}
	}

	return snapshot, true, nil
}

// armChildren sets a children watch on the parent. A missing parent gets an
// existence watch instead, so its creation is noticed.
func (c *childCache) armChildren(ctx context.Context) ([]string, bool, error) {
	var (
		names  []string
		events <-chan zk.Event
		exists bool
	)

	err := c.drv.do(ctx, func() error {
		for {
			var err error

			names, _, events, err = c.drv.conn.ChildrenW(c.parent)
			if !errors.Is(err, zk.ErrNoNode) {
				exists = err == nil
				return err
			}

			exists, _, events, err = c.drv.conn.ExistsW(c.parent)
			if err != nil || !exists {
				return err
			}
			// Created in between: arm the children watch again.
		}
	})
	if err != nil {
		return nil, false, err
	}

	c.forward(events)

	return names, exists, nil
}

// armData reads a child with a data watch unless one is already armed.
func (c *childCache) armData(ctx context.Context, path string) (watch.ChildData, bool, error) {
	var (
		data   []byte
		stat   *zk.Stat
		events <-chan zk.Event
	)

	err := c.drv.do(ctx, func() error {
		var err error

		if c.armed[path] {
			data, stat, err = c.drv.conn.Get(path)
		} else {
			data, stat, events, err = c.drv.conn.GetW(path)
		}

		return err
	})

	switch {
	case errors.Is(err, driver.ErrNoNode):
		return watch.ChildData{}, false, nil
	case err != nil:
		return watch.ChildData{}, false, err
	}

	if events != nil {
		c.armed[path] = true
		c.forward(events)
	}

	return watch.ChildData{Path: path, Data: data, Stat: statOf(stat)}, true, nil
}

// forward moves the single event of a zk watch into the cache loop.
func (c *childCache) forward(events <-chan zk.Event) {
	if events == nil {
		return
	}

	gen := c.gen

	go func() {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}

			select {
			case c.wakeups <- wakeup{gen: gen, event: event}:
			case <-c.ctx.Done():
			}
		case <-c.ctx.Done():
		}
	}()
}

func (c *childCache) emit(events ...watch.Event) {
	for _, event := range events {
		select {
		case c.out <- event:
		case <-c.ctx.Done():
			return
		}
	}
}
