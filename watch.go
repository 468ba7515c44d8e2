package coordination

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/node"
	"github.com/tarantool/go-coordination/watch"
)

// Watch is a child watch registration returned by Client.WatchChildren.
type Watch struct {
	client   *client
	id       uint64
	parent   string
	listener Listener
	stop     func()

	closed   *atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func newWatch(c *client, id uint64, parent string, listener Listener, stop func()) *Watch {
	return &Watch{
		client:   c,
		id:       id,
		parent:   parent,
		listener: listener,
		stop:     stop,
		closed:   atomic.NewBool(false),
		stopOnce: sync.Once{},
		done:     make(chan struct{}),
	}
}

// Path returns the watched parent path.
func (w *Watch) Path() string {
	return w.parent
}

// Close cancels the registration. Changes that are queued but not yet
// delivered are dropped; a listener call in progress is not interrupted.
// Closing twice is a no-op.
func (w *Watch) Close() {
	w.client.forget(w.id)
	w.release()
	<-w.done
}

func (w *Watch) release() {
	w.stopOnce.Do(func() {
		w.closed.Store(true)
		w.stop()
	})
}

// pump moves the driver notifications of w into the delivery queue.
func (c *client) pump(w *Watch, events <-chan watch.Event) {
	defer c.pumps.Done()
	defer close(w.done)

	logger := c.logger.With(zap.String("parent", w.parent))

	for event := range events {
		change, ok := translate(w.parent, event)
		if !ok {
			c.metrics.discarded.Inc()
			logger.Debug("notification discarded", zap.Stringer("type", event.Type))

			continue
		}

		if !c.dispatcher.enqueue(delivery{watch: w, event: change}) {
			logger.Debug("change dropped on close", zap.String("path", change.Path()))
		}
	}
}

// translate maps a driver notification to a change event. Notifications
// without a child of parent are not changes.
func translate(parent string, event watch.Event) (ChangeEvent, bool) {
	if event.Data == nil || !node.IsChildOf(event.Data.Path, parent) {
		return ChangeEvent{}, false
	}

	var kind Kind

	switch event.Type { //nolint:exhaustive
	case watch.EventChildAdded:
		kind = KindAdded
	case watch.EventChildUpdated:
		kind = KindUpdated
	case watch.EventChildRemoved:
		kind = KindRemoved
	default:
		return ChangeEvent{}, false
	}

	return NewChangeEvent(event.Data.Path, string(event.Data.Data), kind), true
}
