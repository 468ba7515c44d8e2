// Package testing provides fake implementations of tarantool.Doer and
// watcher interfaces for tests.
package testing

import (
	"sync"

	"github.com/tarantool/go-tarantool/v2"
)

// MockDoerWithWatcher is a fake tarantool connection: requests are recorded
// and answered with an error, watchers are registered and fired manually.
type MockDoerWithWatcher struct {
	mu sync.Mutex

	// Requests is a slice of received requests.
	Requests []tarantool.Request
	// DoErr is returned by every request.
	DoErr error
	// WatchErr is returned by NewWatcher when set.
	WatchErr error

	watchers map[string][]*MockWatcher
}

// NewMockDoerWithWatcher returns a new fake connection failing requests with doErr.
func NewMockDoerWithWatcher(doErr error) *MockDoerWithWatcher {
	return &MockDoerWithWatcher{
		mu:       sync.Mutex{},
		Requests: nil,
		DoErr:    doErr,
		WatchErr: nil,
		watchers: make(map[string][]*MockWatcher),
	}
}

// Do records the request and returns a future failed with DoErr.
func (m *MockDoerWithWatcher) Do(req tarantool.Request) *tarantool.Future {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	fut := tarantool.NewFuture(req)
	fut.SetError(m.DoErr)

	return fut
}

// NewWatcher registers a watcher for key.
func (m *MockDoerWithWatcher) NewWatcher(key string, callback tarantool.WatchCallback) (tarantool.Watcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WatchErr != nil {
		return nil, m.WatchErr
	}

	watcher := &MockWatcher{
		mu:           sync.Mutex{},
		key:          key,
		cb:           callback,
		unregistered: false,
	}

	m.watchers[key] = append(m.watchers[key], watcher)

	return watcher, nil
}

// Fire calls the callbacks of every registered watcher for key and returns
// how many were called.
func (m *MockDoerWithWatcher) Fire(key string) int {
	m.mu.Lock()
	watchers := append([]*MockWatcher(nil), m.watchers[key]...)
	m.mu.Unlock()

	fired := 0

	for _, watcher := range watchers {
		if watcher.fire() {
			fired++
		}
	}

	return fired
}

// Watchers returns the watchers registered for key.
func (m *MockDoerWithWatcher) Watchers(key string) []*MockWatcher {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*MockWatcher(nil), m.watchers[key]...)
}

// MockWatcher is a watcher registered on MockDoerWithWatcher.
type MockWatcher struct {
	mu           sync.Mutex
	key          string
	cb           tarantool.WatchCallback
	unregistered bool
}

func (w *MockWatcher) fire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unregistered {
		return false
	}

	w.cb(tarantool.WatchEvent{Key: w.key}) //nolint:exhaustruct

	return true
}

// Unregister stops the watcher.
func (w *MockWatcher) Unregister() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.unregistered = true
}

// Unregistered reports whether Unregister was called.
func (w *MockWatcher) Unregistered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.unregistered
}
