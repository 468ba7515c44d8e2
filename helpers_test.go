package coordination_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coordination "github.com/tarantool/go-coordination"
	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/driver/dummy"
	"github.com/tarantool/go-coordination/driver/kvtree"
	"github.com/tarantool/go-coordination/node"
	"github.com/tarantool/go-coordination/watch"
)

const (
	defaultWaitTimeout = 5 * time.Second
	quietPeriod        = 100 * time.Millisecond
)

func newMemoryClient(t *testing.T, opts ...coordination.Option) (coordination.Client, *dummy.Backend) {
	t.Helper()

	backend := dummy.New()
	client := coordination.New(kvtree.New(backend), opts...)

	t.Cleanup(func() { _ = client.Close() })

	return client, backend
}

// recorder is a listener that collects the delivered changes.
type recorder struct {
	events chan coordination.ChangeEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(chan coordination.ChangeEvent, 1024)}
}

func (r *recorder) NodeChanged(_ coordination.Client, event coordination.ChangeEvent) error {
	r.events <- event
	return nil
}

func (r *recorder) next(t *testing.T) coordination.ChangeEvent {
	t.Helper()

	select {
	case event := <-r.events:
		return event
	case <-time.After(defaultWaitTimeout):
		t.Fatal("timeout waiting for change event")
	}

	return coordination.ChangeEvent{}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()

	select {
	case event := <-r.events:
		t.Fatalf("unexpected change event: %s", event)
	case <-time.After(quietPeriod):
	}
}

// scriptedDriver is a driver whose single child watch is fed by the test.
type scriptedDriver struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	createErr error
	closeErr  error

	events   chan watch.Event
	stopOnce sync.Once
}

var _ driver.Driver = &scriptedDriver{} //nolint:exhaustruct

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{ //nolint:exhaustruct
		connected: true,
		events:    make(chan watch.Event, 1024),
	}
}

func (d *scriptedDriver) Create(_ context.Context, path string, _ []byte, _ node.Mode, _ bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return path, d.createErr
}

func (d *scriptedDriver) Set(_ context.Context, _ string, _ []byte) (node.Stat, error) {
	return node.Stat{}, nil
}

func (d *scriptedDriver) Get(_ context.Context, _ string) ([]byte, node.Stat, error) {
	return nil, node.Stat{}, driver.ErrNoNode
}

func (d *scriptedDriver) Delete(_ context.Context, _ string) error {
	return nil
}

func (d *scriptedDriver) Exists(_ context.Context, _ string) (node.Stat, bool, error) {
	return node.Stat{}, false, nil
}

func (d *scriptedDriver) Children(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (d *scriptedDriver) WatchChildren(_ context.Context, _ string) (<-chan watch.Event, func(), error) {
	return d.events, func() { d.stopOnce.Do(func() { close(d.events) }) }, nil
}

func (d *scriptedDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connected && !d.closed
}

func (d *scriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true

	return d.closeErr
}

func (d *scriptedDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

func (d *scriptedDriver) push(eventType watch.EventType, path, data string) {
	d.events <- watch.Event{
		Type: eventType,
		Data: &watch.ChildData{Path: path, Data: []byte(data), Stat: node.Stat{}},
	}
}

func newScriptedClient(t *testing.T, opts ...coordination.Option) (coordination.Client, *scriptedDriver) {
	t.Helper()

	drv := newScriptedDriver()
	client := coordination.New(drv, opts...)

	t.Cleanup(func() { _ = client.Close() })

	return client, drv
}

func mustWatch(
	t *testing.T,
	client coordination.Client,
	parent string,
	listener coordination.Listener,
) *coordination.Watch {
	t.Helper()

	w, err := client.WatchChildren(context.Background(), parent, listener)
	require.NoError(t, err)

	return w
}
