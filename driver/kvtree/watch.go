package kvtree

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/node"
	"github.com/tarantool/go-coordination/watch"
)

// WatchChildren watches the immediate children of parent.
// The backend watch is armed before the initial snapshot is read, so no
// change between the two is lost; the snapshot itself is never reported.
func (d *Driver) WatchChildren(ctx context.Context, parent string) (<-chan watch.Event, func(), error) {
	if err := d.check(parent); err != nil {
		return nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	notifications, stopBackend, err := d.backend.Watch(watchCtx, prefix(parent))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to watch %q: %w", parent, err)
	}

	snapshot, exists, err := d.children(ctx, parent)
	if err == nil && !exists {
		err = fmt.Errorf("%w: %s", driver.ErrNoNode, parent)
	}

	if err != nil {
		stopBackend()
		cancel()

		return nil, nil, err
	}

	cache := watch.NewCache(parent)
	cache.Seed(snapshot)

	events := make(chan watch.Event, d.settings.eventBufferSize)

	var once sync.Once

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stop := func() {
		once.Do(func() {
			cancel()

			d.mu.Lock()
			delete(d.watches, id)
			d.mu.Unlock()
		})
	}
	d.watches[id] = stop
	d.mu.Unlock()

	go func() {
		defer close(events)
		defer stopBackend()

		d.refreshLoop(watchCtx, cache, notifications, events)
	}()

	return events, stop, nil
}

// refreshLoop applies backend changes to the cache in arrival order and
// forwards the resulting notifications. Resync notifications re-read the
// children and forward the difference with the cached state.
func (d *Driver) refreshLoop(
	ctx context.Context,
	cache *watch.Cache,
	notifications <-chan Notification,
	events chan<- watch.Event,
) {
	logger := d.settings.logger.With(zap.String("parent", cache.Parent()))

	for {
		var notification Notification

		select {
		case <-ctx.Done():
			return
		case next, ok := <-notifications:
			if !ok {
				return
			}

			notification = next
		}

		var changes []watch.Event

		if notification.Resync() {
			snapshot, err := d.resyncSnapshot(ctx, cache.Parent())
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				logger.Warn("failed to refresh children", zap.Error(err))

				continue
			}

			changes = cache.Apply(snapshot)
		} else if change, ok := applyChange(cache, notification); ok {
			changes = []watch.Event{change}
		}

		for _, event := range changes {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Driver) resyncSnapshot(ctx context.Context, parent string) ([]watch.ChildData, error) {
	snapshot, exists, err := d.children(ctx, parent)
	if err != nil {
		return nil, err
	}

	if !exists && parent != node.Root {
		return nil, nil
	}

	return snapshot, nil
}

// applyChange updates the cache with a single key change. Changes of other
// keys than immediate children, and changes older than the cached state, are
// ignored.
func applyChange(cache *watch.Cache, notification Notification) (watch.Event, bool) {
	value := notification.Value
	path := string(value.Key)

	if !node.IsChildOf(path, cache.Parent()) {
		return watch.Event{}, false
	}

	cached, known := cache.Get(path)
	if known && cached.Stat.Revision > value.ModRevision {
		return watch.Event{}, false
	}

	if notification.Deleted {
		return cache.Remove(path)
	}

	numChildren := 0
	if known {
		numChildren = cached.Stat.NumChildren
	}

	return cache.Put(watch.ChildData{
		Path: path,
		Data: value.Value,
		Stat: statOf(*value, numChildren),
	})
}
