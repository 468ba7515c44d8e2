package coordination

import (
	"fmt"

	"github.com/Workiva/go-datastructures/queue"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// delivery is a change waiting for its listener.
type delivery struct {
	watch *Watch
	event ChangeEvent
}

// dispatcher invokes listeners from a single goroutine, in the order the
// changes were queued.
type dispatcher struct {
	queue   *queue.Queue
	client  Client
	closing *atomic.Bool
	logger  *zap.Logger
	metrics *metrics
	done    chan struct{}
}

func newDispatcher(client Client, closing *atomic.Bool, s settings, m *metrics) *dispatcher {
	return &dispatcher{
		queue:   queue.New(s.queueHint),
		client:  client,
		closing: closing,
		logger:  s.logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	go d.run()
}

// enqueue schedules a delivery. It reports false once the dispatcher is stopped.
func (d *dispatcher) enqueue(item delivery) bool {
	return d.queue.Put(item) == nil
}

// stop drops the pending deliveries and waits for the running listener call.
func (d *dispatcher) stop() {
	dropped := d.queue.Dispose()
	if len(dropped) > 0 {
		d.logger.Debug("dropped undelivered changes", zap.Int("count", len(dropped)))
	}

	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		items, err := d.queue.Get(1)
		if err != nil {
			return
		}

		for _, item := range items {
			if next, ok := item.(delivery); ok {
				d.deliver(next)
			}
		}
	}
}

func (d *dispatcher) deliver(item delivery) {
	if d.closing.Load() || item.watch.closed.Load() {
		return
	}

	d.metrics.delivered.WithLabelValues(item.event.Kind().String()).Inc()

	err := d.invoke(item.watch.listener, item.event)
	if err == nil {
		return
	}

	d.metrics.listenerFailures.Inc()
	d.logger.Error("listener failed",
		zap.String("parent", item.watch.parent),
		zap.String("path", item.event.Path()),
		zap.Stringer("kind", item.event.Kind()),
		zap.Error(newListenerError(item.event, err)),
	)
}

func (d *dispatcher) invoke(listener Listener, event ChangeEvent) (err error) { //nolint:nonamedreturns
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", errListenerPanic, recovered)
		}
	}()

	return listener.NodeChanged(d.client, event)
}
