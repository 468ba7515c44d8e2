// Package dummy provides an in-memory implementation of the key-value
// backend for demonstration and tests. Combined with kvtree it acts as an
// in-memory coordination service.
package dummy

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/tarantool/go-coordination/driver/kvtree"
	"github.com/tarantool/go-coordination/kv"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
	"github.com/tarantool/go-coordination/tx"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("dummy backend is closed")

type watcherPrefix struct {
	id       uint64
	watchers map[uint64]*watcher
}

// watcher buffers the notifications of one watch, so writers never block
// and no change is dropped.
type watcher struct {
	mu      sync.Mutex
	pending []kvtree.Notification
	signal  chan struct{}
}

func (w *watcher) push(notification kvtree.Notification) {
	w.mu.Lock()
	w.pending = append(w.pending, notification)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) take() []kvtree.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := w.pending
	w.pending = nil

	return pending
}

// dummyStorage is a thread-safe structure that holds the
// key-value storage and watch channels.
type dummyStorage struct {
	storage          map[string]kv.KeyValue
	watchChanStorage map[string]watcherPrefix
	modRevision      int64
	connected        bool
	closed           bool
	mu               sync.RWMutex
}

// Backend is an in-memory key-value backend with a single session.
type Backend struct {
	data dummyStorage
}

var (
	_ kvtree.Backend = &Backend{} //nolint:exhaustruct
)

// New creates an empty connected backend.
func New() *Backend {
	return &Backend{
		data: dummyStorage{
			storage:          make(map[string]kv.KeyValue),
			watchChanStorage: make(map[string]watcherPrefix),
			modRevision:      1,
			connected:        true,
			closed:           false,
			mu:               sync.RWMutex{},
		},
	}
}

// Execute executes the operations of one branch atomically.
func (d *Backend) Execute(
	_ context.Context,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (tx.Response, error) {
	// We use a mutex to ensure that the execution of
	// operations is atomic and thread-safe.
	d.data.mu.Lock()
	defer d.data.mu.Unlock()

	if d.data.closed {
		return tx.Response{}, ErrClosed
	}

	ops := elseOps

	success := d.checkPredicates(predicates)
	if success {
		ops = thenOps
	}

	opsResults := d.executeOps(ops)

	return tx.Response{
		Succeeded: success,
		Results:   opsResults,
	}, nil
}

// Watch notifies about changes of a key, or of every key under a prefix
// when key ends with "/".
func (d *Backend) Watch(ctx context.Context, key []byte) (<-chan kvtree.Notification, func(), error) {
	d.data.mu.RLock()
	closed := d.data.closed
	d.data.mu.RUnlock()

	if closed {
		return nil, nil, ErrClosed
	}

	ch, cancel := d.addWatcher(ctx, string(key))

	return ch, cancel, nil
}

// Connected reports the simulated connectivity.
func (d *Backend) Connected() bool {
	d.data.mu.RLock()
	defer d.data.mu.RUnlock()

	return d.data.connected && !d.data.closed
}

// SetConnected changes the simulated connectivity. Operations keep working;
// only the connectivity snapshot is affected.
func (d *Backend) SetConnected(connected bool) {
	d.data.mu.Lock()
	defer d.data.mu.Unlock()

	d.data.connected = connected
}

// ExpireSession removes every ephemeral key, as if the session had expired.
func (d *Backend) ExpireSession() {
	d.data.mu.Lock()
	defer d.data.mu.Unlock()

	var expired []string

	for key, value := range d.data.storage {
		if value.Ephemeral {
			expired = append(expired, key)
		}
	}

	if len(expired) == 0 {
		return
	}

	sort.Strings(expired)

	for _, key := range expired {
		d.delete(key)
	}

	d.data.modRevision++
}

// Close ends the session: ephemeral keys are removed and further operations fail.
func (d *Backend) Close() error {
	d.ExpireSession()

	d.data.mu.Lock()
	defer d.data.mu.Unlock()

	d.data.closed = true

	return nil
}

func (d *Backend) get(key string) (kv.KeyValue, bool) {
	val, ok := d.data.storage[key]

	return val, ok
}

func (d *Backend) put(key string, value []byte, ephemeral bool) {
	stored := kv.KeyValue{
		Key:         []byte(key),
		Value:       value,
		ModRevision: d.data.modRevision,
		Ephemeral:   ephemeral,
	}
	d.data.storage[key] = stored

	d.notifyWatchers(key, stored, false)
}

func (d *Backend) delete(key string) (kv.KeyValue, bool) {
	prevKv, ok := d.data.storage[key]
	delete(d.data.storage, key)

	if ok {
		d.notifyWatchers(key, kv.KeyValue{
			Key:         []byte(key),
			Value:       nil,
			ModRevision: d.data.modRevision,
			Ephemeral:   prevKv.Ephemeral,
		}, true)
	}

	return prevKv, ok
}

func isPrefix(str string) bool {
	return str == "" || str[len(str)-1] == '/'
}

// checkPredicates checks if the given predicates are satisfied by
// the current state of the storage. An absent key has revision 0.
func (d *Backend) checkPredicates(predicates []predicate.Predicate) bool {
	for _, pred := range predicates {
		val, exists := d.data.storage[string(pred.Key())]

		var ok bool

		switch pred.Target() {
		case predicate.TargetVersion:
			ok = checkVersion(pred, val, exists)
		case predicate.TargetValue:
			ok = checkValue(pred, val, exists)
		default:
			ok = false
		}

		if !ok {
			return false
		}
	}

	return true
}

func checkVersion(pred predicate.Predicate, val kv.KeyValue, exists bool) bool {
	version, ok := pred.Value().(int64)
	if !ok {
		return false
	}

	revision := int64(0)
	if exists {
		revision = val.ModRevision
	}

	switch pred.Operation() {
	case predicate.OpEqual:
		return revision == version
	case predicate.OpNotEqual:
		return revision != version
	case predicate.OpGreater:
		return revision > version
	case predicate.OpLess:
		return revision < version
	default:
		return false
	}
}

func checkValue(pred predicate.Predicate, val kv.KeyValue, exists bool) bool {
	var value []byte

	switch v := pred.Value().(type) {
	case []byte:
		value = v
	case string:
		value = []byte(v)
	default:
		return false
	}

	switch pred.Operation() { //nolint:exhaustive
	case predicate.OpEqual:
		return exists && bytes.Equal(val.Value, value)
	case predicate.OpNotEqual:
		return !exists || !bytes.Equal(val.Value, value)
	default:
		return false
	}
}

func (d *Backend) getAllByPrefix(prefix string) []kv.KeyValue {
	var prefixValues []kv.KeyValue

	for k, v := range d.data.storage {
		if strings.HasPrefix(k, prefix) {
			prefixValues = append(prefixValues, v)
		}
	}

	sort.Slice(prefixValues, func(i, j int) bool {
		return bytes.Compare(prefixValues[i].Key, prefixValues[j].Key) < 0
	})

	return prefixValues
}

func (d *Backend) executeOps(ops []operation.Operation) []tx.RequestResponse {
	result := make([]tx.RequestResponse, 0, len(ops))
	mutable := false

	for _, eop := range ops {
		switch eop.Type() {
		case operation.TypePut:
			ephemeral := eop.IsEphemeral()
			if prev, ok := d.get(string(eop.Key())); ok && eop.KeepsSession() {
				ephemeral = prev.Ephemeral
			}

			d.put(string(eop.Key()), eop.Value(), ephemeral)

			mutable = true

			result = append(result, tx.RequestResponse{
				Values: nil,
			})
		case operation.TypeDelete:
			var values []kv.KeyValue

			if eop.IsPrefix() {
				prefixValues := d.getAllByPrefix(string(eop.Key()))
				for _, pv := range prefixValues {
					d.delete(string(pv.Key))
				}

				values = prefixValues
				if len(prefixValues) > 0 {
					mutable = true
				}
			} else {
				val, ok := d.delete(string(eop.Key()))
				if ok {
					values = []kv.KeyValue{val}
					mutable = true
				}
			}

			result = append(result, tx.RequestResponse{
				Values: values,
			})
		case operation.TypeGet:
			var values []kv.KeyValue
			if eop.IsPrefix() {
				values = d.getAllByPrefix(string(eop.Key()))
			} else if val, ok := d.get(string(eop.Key())); ok {
				values = []kv.KeyValue{val}
			}

			result = append(result, tx.RequestResponse{
				Values: values,
			})
		}
	}

	if mutable {
		d.data.modRevision++
	}

	return result
}

func (d *Backend) addWatcher(ctx context.Context, key string) (chan kvtree.Notification, func()) {
	d.data.mu.Lock()
	defer d.data.mu.Unlock()

	if _, exists := d.data.watchChanStorage[key]; !exists {
		d.data.watchChanStorage[key] = watcherPrefix{
			id:       0,
			watchers: make(map[uint64]*watcher),
		}
	}

	prefixWatchers := d.data.watchChanStorage[key]
	prefixWatchers.id++

	wid := prefixWatchers.id
	wch := make(chan kvtree.Notification)
	w := &watcher{mu: sync.Mutex{}, pending: nil, signal: make(chan struct{}, 1)}

	prefixWatchers.watchers[wid] = w
	d.data.watchChanStorage[key] = prefixWatchers

	var (
		isStoppedOnce = sync.Once{}
		isStopped     = make(chan struct{})
	)

	go func() {
		defer func() {
			d.data.mu.Lock()
			defer d.data.mu.Unlock()

			delete(d.data.watchChanStorage[key].watchers, wid)
			close(wch)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-isStopped:
				return
			case <-w.signal:
			}

			for _, notification := range w.take() {
				select {
				case wch <- notification:
				case <-ctx.Done():
					return
				case <-isStopped:
					return
				}
			}
		}
	}()

	return wch, func() { isStoppedOnce.Do(func() { close(isStopped) }) }
}

// notifyWatchers queues a change notification for every watcher whose key
// or prefix matches the changed key.
func (d *Backend) notifyWatchers(key string, value kv.KeyValue, deleted bool) {
	for prefix, prefixWatchers := range d.data.watchChanStorage {
		if strings.HasPrefix(key, prefix) && isPrefix(prefix) || key == prefix {
			for _, w := range prefixWatchers.watchers {
				w.push(kvtree.Notification{
					Prefix:  []byte(prefix),
					Value:   &value,
					Deleted: deleted,
				})
			}
		}
	}
}
