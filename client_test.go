package coordination_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coordination "github.com/tarantool/go-coordination"
	"github.com/tarantool/go-coordination/config"
	"github.com/tarantool/go-coordination/watch"
)

func TestClient_CreatePersistentIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	require.NoError(t, client.CreatePersistent(ctx, "/config/db", "v1"))
	require.NoError(t, client.CreatePersistent(ctx, "/config/db", "v2"))

	data, err := client.GetData(ctx, "/config/db")
	require.NoError(t, err)
	assert.Equal(t, "v1", data)

	stat, exists, err := client.Exists(ctx, "/config")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, stat.NumChildren)
}

func TestClient_CreatePersistentWrapsFailures(t *testing.T) {
	t.Parallel()

	client, drv := newScriptedClient(t)
	drv.createErr = errors.New("disk full")

	err := client.CreatePersistent(context.Background(), "/a", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `create persistent node "/a"`)
	assert.Contains(t, err.Error(), "disk full")
}

func TestClient_CreateEphemeralConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, backend := newMemoryClient(t)

	path, err := client.CreateEphemeral(ctx, "/leader", "node-1")
	require.NoError(t, err)
	assert.Equal(t, "/leader", path)

	_, err = client.CreateEphemeral(ctx, "/leader", "node-2")
	require.ErrorIs(t, err, coordination.ErrAlreadyExists)

	data, err := client.GetData(ctx, "/leader")
	require.NoError(t, err)
	assert.Equal(t, "node-1", data)

	stat, _, err := client.Exists(ctx, "/leader")
	require.NoError(t, err)
	assert.True(t, stat.Ephemeral)

	backend.ExpireSession()

	_, exists, err := client.Exists(ctx, "/leader")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_CreateEphemeralNeedsParent(t *testing.T) {
	t.Parallel()

	client, _ := newMemoryClient(t)

	_, err := client.CreateEphemeral(context.Background(), "/missing/member", "")
	require.ErrorIs(t, err, coordination.ErrNotFound)
}

func TestClient_ReadWriteDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	_, err := client.SetData(ctx, "/absent", "x")
	require.ErrorIs(t, err, coordination.ErrNotFound)

	_, err = client.GetData(ctx, "/absent")
	require.ErrorIs(t, err, coordination.ErrNotFound)

	require.ErrorIs(t, client.Delete(ctx, "/absent"), coordination.ErrNotFound)

	_, exists, err := client.Exists(ctx, "/absent")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.CreatePersistent(ctx, "/app/b", ""))
	require.NoError(t, client.CreatePersistent(ctx, "/app/a", ""))

	stat, err := client.SetData(ctx, "/app/a", "payload")
	require.NoError(t, err)
	assert.Equal(t, len("payload"), stat.DataLength)

	data, err := client.GetData(ctx, "/app/a")
	require.NoError(t, err)
	assert.Equal(t, "payload", data)

	names, err := client.Children(ctx, "/app")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.ErrorIs(t, client.Delete(ctx, "/app"), coordination.ErrNotEmpty)
	require.NoError(t, client.Delete(ctx, "/app/a"))

	_, err = client.GetData(ctx, "bad path")
	require.ErrorIs(t, err, coordination.ErrInvalidPath)
}

func TestClient_NotConnected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, backend := newMemoryClient(t)

	require.NoError(t, client.CreatePersistent(ctx, "/p", ""))

	backend.SetConnected(false)
	assert.False(t, client.IsConnected())

	require.ErrorIs(t, client.CreatePersistent(ctx, "/p/a", ""), coordination.ErrNotConnected)

	_, err := client.CreateEphemeral(ctx, "/p/b", "")
	require.ErrorIs(t, err, coordination.ErrNotConnected)

	_, err = client.SetData(ctx, "/p", "")
	require.ErrorIs(t, err, coordination.ErrNotConnected)

	_, err = client.GetData(ctx, "/p")
	require.ErrorIs(t, err, coordination.ErrNotConnected)

	require.ErrorIs(t, client.Delete(ctx, "/p"), coordination.ErrNotConnected)

	_, _, err = client.Exists(ctx, "/p")
	require.ErrorIs(t, err, coordination.ErrNotConnected)

	_, err = client.Children(ctx, "/p")
	require.ErrorIs(t, err, coordination.ErrNotConnected)

	_, err = client.WatchChildren(ctx, "/p", newRecorder())
	require.ErrorIs(t, err, coordination.ErrNotConnected)

	backend.SetConnected(true)
	assert.True(t, client.IsConnected())

	_, err = client.GetData(ctx, "/p")
	require.NoError(t, err)
}

func TestClient_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, drv := newScriptedClient(t)
	drv.closeErr = errors.New("session already gone")

	err := client.Close()
	require.ErrorContains(t, err, "session already gone")
	assert.True(t, drv.isClosed())
	assert.False(t, client.IsConnected())

	require.Equal(t, err, client.Close())

	_, err = client.GetData(ctx, "/p")
	require.ErrorIs(t, err, coordination.ErrClosed)

	_, err = client.WatchChildren(ctx, "/p", newRecorder())
	require.ErrorIs(t, err, coordination.ErrClosed)
}

func TestClient_WatchNoReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	require.NoError(t, client.CreatePersistent(ctx, "/services/order/existing-1", "a"))
	require.NoError(t, client.CreatePersistent(ctx, "/services/order/existing-2", "b"))

	rec := newRecorder()
	mustWatch(t, client, "/services/order", rec)

	rec.none(t)

	_, err := client.CreateEphemeral(ctx, "/services/order/node-1", "host=10.0.0.1")
	require.NoError(t, err)

	event := rec.next(t)
	assert.Equal(t, coordination.NewChangeEvent("/services/order/node-1", "host=10.0.0.1", coordination.KindAdded), event)

	rec.none(t)
}

func TestClient_WatchMapsChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	rec := newRecorder()
	w := mustWatch(t, client, "/services/order", rec)
	assert.Equal(t, "/services/order", w.Path())

	// The missing parent is created by the watch.
	_, exists, err := client.Exists(ctx, "/services/order")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.CreatePersistent(ctx, "/services/order/node-1", "host=10.0.0.1"))
	assert.Equal(t, coordination.KindAdded, rec.next(t).Kind())

	_, err = client.SetData(ctx, "/services/order/node-1", "host=10.0.0.2")
	require.NoError(t, err)

	event := rec.next(t)
	assert.Equal(t, coordination.KindUpdated, event.Kind())
	assert.Equal(t, "host=10.0.0.2", event.Payload())

	require.NoError(t, client.Delete(ctx, "/services/order/node-1"))

	event = rec.next(t)
	assert.Equal(t, coordination.KindRemoved, event.Kind())
	assert.Equal(t, "/services/order/node-1", event.Path())
	assert.Equal(t, "host=10.0.0.2", event.Payload())
}

func TestClient_WatchIgnoresGrandchildren(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	require.NoError(t, client.CreatePersistent(ctx, "/p/a", ""))

	rec := newRecorder()
	mustWatch(t, client, "/p", rec)

	require.NoError(t, client.CreatePersistent(ctx, "/p/a/deep", "x"))
	rec.none(t)
}

func TestClient_WatchOrdering(t *testing.T) {
	t.Parallel()

	client, drv := newScriptedClient(t)

	rec := newRecorder()
	mustWatch(t, client, "/p", rec)

	const count = 200

	drv.push(watch.EventChildAdded, "/p/a", "0")

	for i := 1; i < count; i++ {
		drv.push(watch.EventChildUpdated, "/p/a", strconv.Itoa(i))
	}

	drv.push(watch.EventChildRemoved, "/p/a", strconv.Itoa(count-1))

	assert.Equal(t, coordination.KindAdded, rec.next(t).Kind())

	for i := 1; i < count; i++ {
		event := rec.next(t)
		require.Equal(t, coordination.KindUpdated, event.Kind())
		require.Equal(t, strconv.Itoa(i), event.Payload())
	}

	assert.Equal(t, coordination.KindRemoved, rec.next(t).Kind())
}

func TestClient_WatchKeepsCreationOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	require.NoError(t, client.CreatePersistent(ctx, "/svc", ""))

	rec := newRecorder()
	mustWatch(t, client, "/svc", rec)

	names := []string{"z", "y", "x", "w", "v", "u", "t", "s"}
	for _, name := range names {
		_, err := client.CreateEphemeral(ctx, "/svc/"+name, name)
		require.NoError(t, err)
	}

	_, err := client.CreateEphemeral(ctx, "/svc/tmp", "")
	require.NoError(t, err)
	require.NoError(t, client.Delete(ctx, "/svc/tmp"))

	for _, name := range names {
		assert.Equal(t, coordination.NewChangeEvent("/svc/"+name, name, coordination.KindAdded), rec.next(t))
	}

	assert.Equal(t, coordination.NewChangeEvent("/svc/tmp", "", coordination.KindAdded), rec.next(t))
	assert.Equal(t, coordination.NewChangeEvent("/svc/tmp", "", coordination.KindRemoved), rec.next(t))
	rec.none(t)
}

func TestClient_WatchDiscardsNonChanges(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	client, drv := newScriptedClient(t, coordination.WithMetrics(registry))

	rec := newRecorder()
	mustWatch(t, client, "/p", rec)

	drv.events <- watch.Structural(watch.EventInitialized)
	drv.events <- watch.Structural(watch.EventConnectionSuspended)
	drv.events <- watch.Event{Type: watch.EventChildAdded, Data: nil}
	drv.push(watch.EventChildAdded, "/other/a", "x")
	drv.push(watch.EventChildAdded, "/p/a/deep", "x")
	drv.push(watch.EventChildAdded, "/p/a", "x")

	assert.Equal(t, coordination.NewChangeEvent("/p/a", "x", coordination.KindAdded), rec.next(t))
	rec.none(t)

	expected := `
# HELP coordination_watch_events_discarded_total Driver notifications that carry no child change.
# TYPE coordination_watch_events_discarded_total counter
coordination_watch_events_discarded_total 5
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"coordination_watch_events_discarded_total"))
}

func TestClient_ListenerFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	client, drv := newScriptedClient(t, coordination.WithMetrics(registry))

	delivered := make(chan coordination.ChangeEvent, 10)

	mustWatch(t, client, "/p", coordination.ListenerFunc(
		func(_ coordination.Client, event coordination.ChangeEvent) error {
			delivered <- event

			switch event.Path() {
			case "/p/fails":
				return errors.New("listener error")
			case "/p/panics":
				panic("listener panic")
			default:
				return nil
			}
		}))

	drv.push(watch.EventChildAdded, "/p/fails", "")
	drv.push(watch.EventChildAdded, "/p/panics", "")
	drv.push(watch.EventChildAdded, "/p/works", "")

	for _, path := range []string{"/p/fails", "/p/panics", "/p/works"} {
		select {
		case event := <-delivered:
			assert.Equal(t, path, event.Path())
		case <-time.After(defaultWaitTimeout):
			t.Fatalf("timeout waiting for %s", path)
		}
	}

	expected := `
# HELP coordination_watch_listener_failures_total Listener calls that returned an error or panicked.
# TYPE coordination_watch_listener_failures_total counter
coordination_watch_listener_failures_total 2
`
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(registry, strings.NewReader(expected),
			"coordination_watch_listener_failures_total") == nil
	}, defaultWaitTimeout, 10*time.Millisecond)
}

func TestClient_ListenerUsesClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	payloads := make(chan string, 1)

	mustWatch(t, client, "/p", coordination.ListenerFunc(
		func(c coordination.Client, event coordination.ChangeEvent) error {
			data, err := c.GetData(ctx, event.Path())
			payloads <- data

			return err
		}))

	require.NoError(t, client.CreatePersistent(ctx, "/p/a", "from-store"))

	select {
	case data := <-payloads:
		assert.Equal(t, "from-store", data)
	case <-time.After(defaultWaitTimeout):
		t.Fatal("timeout waiting for listener")
	}
}

func TestClient_CloseSingleWatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newMemoryClient(t)

	first, second := newRecorder(), newRecorder()
	w := mustWatch(t, client, "/svc", first)
	mustWatch(t, client, "/svc", second)

	w.Close()
	w.Close()

	require.NoError(t, client.CreatePersistent(ctx, "/svc/a", "x"))

	assert.Equal(t, "/svc/a", second.next(t).Path())
	first.none(t)
}

func TestClient_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	client, drv := newScriptedClient(t)

	var (
		entered   = make(chan struct{})
		release   = make(chan struct{})
		delivered = make(chan coordination.ChangeEvent, 10)
	)

	mustWatch(t, client, "/p", coordination.ListenerFunc(
		func(_ coordination.Client, event coordination.ChangeEvent) error {
			delivered <- event

			if event.Path() == "/p/0" {
				close(entered)
				<-release
			}

			return nil
		}))

	for i := range 3 {
		drv.push(watch.EventChildAdded, fmt.Sprintf("/p/%d", i), "")
	}

	select {
	case <-entered:
	case <-time.After(defaultWaitTimeout):
		t.Fatal("timeout waiting for the first delivery")
	}

	closed := make(chan error, 1)

	go func() { closed <- client.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned before the running listener call finished")
	case <-time.After(quietPeriod):
	}

	close(release)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(defaultWaitTimeout):
		t.Fatal("timeout waiting for close")
	}

	assert.True(t, drv.isClosed())
	require.Len(t, delivered, 1)
}

func TestClient_WatchValidation(t *testing.T) {
	t.Parallel()

	client, _ := newMemoryClient(t)

	_, err := client.WatchChildren(context.Background(), "/p", nil)
	require.ErrorIs(t, err, coordination.ErrNilListener)

	_, err = client.WatchChildren(context.Background(), "p/", newRecorder())
	require.ErrorIs(t, err, coordination.ErrInvalidPath)
}

func TestClient_SharedRegisterer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := prometheus.NewRegistry()

	first, _ := newMemoryClient(t, coordination.WithMetrics(registry))
	second, _ := newMemoryClient(t, coordination.WithMetrics(registry))

	for _, client := range []coordination.Client{first, second} {
		rec := newRecorder()
		mustWatch(t, client, "/p", rec)

		require.NoError(t, client.CreatePersistent(ctx, "/p/a", ""))
		rec.next(t)
	}

	expected := `
# HELP coordination_watch_events_delivered_total Child changes handed to listeners, by kind.
# TYPE coordination_watch_events_delivered_total counter
coordination_watch_events_delivered_total{kind="ADDED"} 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"coordination_watch_events_delivered_total"))
}

func TestConnect_Memory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cfg := config.Default()
	cfg.Backend = config.BackendMemory

	client, err := coordination.Connect(ctx, cfg)
	require.NoError(t, err)

	defer func() { require.NoError(t, client.Close()) }()

	assert.True(t, client.IsConnected())
	require.NoError(t, client.CreatePersistent(ctx, "/a", "b"))

	cfg.Backend = "consul"
	_, err = coordination.Connect(ctx, cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
