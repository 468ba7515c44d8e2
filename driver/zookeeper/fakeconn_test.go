package zookeeper_test

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

type fakeNode struct {
	data []byte
	stat zk.Stat
}

// fakeConn is an in-memory ZooKeeper tree with one-shot watches.
type fakeConn struct {
	mu            sync.Mutex
	nodes         map[string]*fakeNode
	zxid          int64
	state         zk.State
	failures      int
	dataWatches   map[string][]chan zk.Event
	childWatches  map[string][]chan zk.Event
	existWatches  map[string][]chan zk.Event
	closed        bool
	getWCalls     int
	childrenCalls int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		mu:            sync.Mutex{},
		nodes:         map[string]*fakeNode{"/": {data: nil, stat: zk.Stat{}}}, //nolint:exhaustruct
		zxid:          0,
		state:         zk.StateHasSession,
		failures:      0,
		dataWatches:   make(map[string][]chan zk.Event),
		childWatches:  make(map[string][]chan zk.Event),
		existWatches:  make(map[string][]chan zk.Event),
		closed:        false,
		getWCalls:     0,
		childrenCalls: 0,
	}
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}

	return path[:idx]
}

// failNext makes the next n requests fail with a connection loss.
func (f *fakeConn) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures = n
}

func (f *fakeConn) fail() error {
	if f.closed {
		return zk.ErrClosing
	}

	if f.failures > 0 {
		f.failures--
		return zk.ErrConnectionClosed
	}

	return nil
}

func fire(watches map[string][]chan zk.Event, path string, eventType zk.EventType) {
	for _, ch := range watches[path] {
		ch <- zk.Event{Type: eventType, State: zk.StateHasSession, Path: path} //nolint:exhaustruct
		close(ch)
	}

	delete(watches, path)
}

func addWatch(watches map[string][]chan zk.Event, path string) <-chan zk.Event {
	ch := make(chan zk.Event, 1)
	watches[path] = append(watches[path], ch)

	return ch
}

func (f *fakeConn) children(path string) []string {
	var names []string

	for p := range f.nodes {
		if p != "/" && parentOf(p) == path {
			names = append(names, p[strings.LastIndex(p, "/")+1:])
		}
	}

	sort.Strings(names)

	return names
}

func (f *fakeConn) Create(path string, data []byte, flags int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return "", err
	}

	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}

	parent := parentOf(path)
	if _, ok := f.nodes[parent]; !ok {
		return "", zk.ErrNoNode
	}

	f.zxid++

	var owner int64
	if flags&zk.FlagEphemeral != 0 {
		owner = 1
	}

	now := time.Now().UnixMilli()
	f.nodes[path] = &fakeNode{
		data: data,
		stat: zk.Stat{ //nolint:exhaustruct
			Czxid:          f.zxid,
			Mzxid:          f.zxid,
			Ctime:          now,
			Mtime:          now,
			EphemeralOwner: owner,
			DataLength:     int32(len(data)), //nolint:gosec
		},
	}
	f.nodes[parent].stat.NumChildren++

	fire(f.existWatches, path, zk.EventNodeCreated)
	fire(f.childWatches, parent, zk.EventNodeChildrenChanged)

	return path, nil
}

func (f *fakeConn) Set(path string, data []byte, _ int32) (*zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return nil, err
	}

	n, ok := f.nodes[path]
	if !ok {
		return nil, zk.ErrNoNode
	}

	f.zxid++
	n.data = data
	n.stat.Version++
	n.stat.Mzxid = f.zxid
	n.stat.DataLength = int32(len(data)) //nolint:gosec

	fire(f.dataWatches, path, zk.EventNodeDataChanged)
	fire(f.existWatches, path, zk.EventNodeDataChanged)

	stat := n.stat

	return &stat, nil
}

func (f *fakeConn) get(path string) ([]byte, *zk.Stat, error) {
	if err := f.fail(); err != nil {
		return nil, nil, err
	}

	n, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}

	stat := n.stat

	return n.data, &stat, nil
}

func (f *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.get(path)
}

func (f *fakeConn) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, stat, err := f.get(path)
	if err != nil {
		return nil, nil, nil, err
	}

	f.getWCalls++

	return data, stat, addWatch(f.dataWatches, path), nil
}

func (f *fakeConn) Delete(path string, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}

	return f.delete(path)
}

func (f *fakeConn) delete(path string) error {
	if _, ok := f.nodes[path]; !ok {
		return zk.ErrNoNode
	}

	if len(f.children(path)) > 0 {
		return zk.ErrNotEmpty
	}

	f.zxid++

	delete(f.nodes, path)

	parent := parentOf(path)
	f.nodes[parent].stat.NumChildren--

	fire(f.dataWatches, path, zk.EventNodeDeleted)
	fire(f.existWatches, path, zk.EventNodeDeleted)
	fire(f.childWatches, path, zk.EventNodeDeleted)
	fire(f.childWatches, parent, zk.EventNodeChildrenChanged)

	return nil
}

func (f *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return false, nil, err
	}

	n, ok := f.nodes[path]
	if !ok {
		return false, nil, nil
	}

	stat := n.stat

	return true, &stat, nil
}

func (f *fakeConn) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return false, nil, nil, err
	}

	ch := addWatch(f.existWatches, path)

	n, ok := f.nodes[path]
	if !ok {
		return false, nil, ch, nil
	}

	stat := n.stat

	return true, &stat, ch, nil
}

func (f *fakeConn) Children(path string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return nil, nil, err
	}

	n, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}

	stat := n.stat

	return f.children(path), &stat, nil
}

func (f *fakeConn) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return nil, nil, nil, err
	}

	n, ok := f.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}

	f.childrenCalls++

	stat := n.stat

	return f.children(path), &stat, addWatch(f.childWatches, path), nil
}

func (f *fakeConn) State() zk.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeConn) setState(state zk.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = state
}

// expireSession drops the ephemeral nodes without notifications and
// invalidates every watch, as the client does when the session expires.
func (f *fakeConn) expireSession() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for path, n := range f.nodes {
		if n.stat.EphemeralOwner != 0 {
			delete(f.nodes, path)
			f.nodes[parentOf(path)].stat.NumChildren--
		}
	}

	for _, watches := range []map[string][]chan zk.Event{f.dataWatches, f.childWatches, f.existWatches} {
		for path := range watches {
			fire(watches, path, zk.EventNotWatching)
		}
	}
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.state = zk.StateDisconnected
}
