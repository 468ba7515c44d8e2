// Package kvtree implements the coordination driver on top of a transactional
// key-value backend. Every node is stored under its own path as key; parents
// are plain keys holding their own data, and children are found by prefix.
package kvtree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/internal/options"
	"github.com/tarantool/go-coordination/kv"
	"github.com/tarantool/go-coordination/node"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
	txPkg "github.com/tarantool/go-coordination/tx"
	"github.com/tarantool/go-coordination/watch"
)

// Driver is a node-tree implementation of the driver interface over a Backend.
type Driver struct {
	backend  Backend
	settings settings
	closed   *atomic.Bool

	mu      sync.Mutex
	nextID  uint64
	watches map[uint64]func()
}

var (
	_ driver.Driver = &Driver{} //nolint:exhaustruct

	errShortResponse = errors.New("backend returned fewer results than operations")
)

// New creates a new driver over the given backend.
func New(backend Backend, opts ...Option) *Driver {
	return &Driver{
		backend:  backend,
		settings: options.ApplyOptions[settings](defaultSettings, opts),
		closed:   atomic.NewBool(false),
		mu:       sync.Mutex{},
		nextID:   0,
		watches:  make(map[uint64]func()),
	}
}

func (d *Driver) tx(ctx context.Context) txPkg.Tx {
	return newTx(ctx, d.backend)
}

func key(path string) []byte {
	return []byte(path)
}

func prefix(path string) []byte {
	return []byte(node.ChildPrefix(path))
}

// Create creates a node and returns its path.
func (d *Driver) Create(
	ctx context.Context,
	path string,
	data []byte,
	mode node.Mode,
	createParents bool,
) (string, error) {
	if err := d.check(path); err != nil {
		return "", err
	}

	if path == node.Root {
		return "", fmt.Errorf("%w: %s", driver.ErrNodeExists, path)
	}

	if createParents {
		for _, ancestor := range node.Ancestors(path) {
			_, err := d.tx(ctx).
				If(predicate.Absent(key(ancestor))).
				Then(operation.Put(key(ancestor), nil)).
				Commit()
			if err != nil {
				return "", fmt.Errorf("failed to create parent %q: %w", ancestor, err)
			}
		}
	} else if parent := node.Parent(path); parent != node.Root {
		_, exists, err := d.Exists(ctx, parent)
		if err != nil {
			return "", err
		}

		if !exists {
			return "", fmt.Errorf("%w: parent %s", driver.ErrNoNode, parent)
		}
	}

	var opts []operation.Option
	if mode == node.ModeEphemeral {
		opts = append(opts, operation.WithEphemeral())
	}

	resp, err := d.tx(ctx).
		If(predicate.Absent(key(path))).
		Then(operation.Put(key(path), data, opts...)).
		Commit()
	if err != nil {
		return "", fmt.Errorf("failed to create %q: %w", path, err)
	}

	if !resp.Succeeded {
		return "", fmt.Errorf("%w: %s", driver.ErrNodeExists, path)
	}

	return path, nil
}

// Set overwrites the node data, keeping its session binding.
func (d *Driver) Set(ctx context.Context, path string, data []byte) (node.Stat, error) {
	if err := d.check(path); err != nil {
		return node.Stat{}, err
	}

	resp, err := d.tx(ctx).
		If(predicate.Present(key(path))).
		Then(
			operation.Put(key(path), data, operation.WithKeepSession()),
			operation.Get(key(path)),
			operation.Get(prefix(path)),
		).
		Commit()
	if err != nil {
		return node.Stat{}, fmt.Errorf("failed to set %q: %w", path, err)
	}

	if !resp.Succeeded {
		return node.Stat{}, fmt.Errorf("%w: %s", driver.ErrNoNode, path)
	}

	value, ok := single(resp, 1)
	if !ok {
		return node.Stat{}, fmt.Errorf("%w: %s", driver.ErrNoNode, path)
	}

	return statOf(value, countChildren(path, resp.Results[2].Values)), nil
}

// Get returns the node data and metadata.
func (d *Driver) Get(ctx context.Context, path string) ([]byte, node.Stat, error) {
	value, stat, exists, err := d.read(ctx, path)
	if err != nil {
		return nil, node.Stat{}, err
	}

	if !exists {
		return nil, node.Stat{}, fmt.Errorf("%w: %s", driver.ErrNoNode, path)
	}

	return value.Value, stat, nil
}

// Exists returns the node metadata and whether it is present.
func (d *Driver) Exists(ctx context.Context, path string) (node.Stat, bool, error) {
	_, stat, exists, err := d.read(ctx, path)

	return stat, exists, err
}

// Delete removes a node that has no children.
func (d *Driver) Delete(ctx context.Context, path string) error {
	if err := d.check(path); err != nil {
		return err
	}

	if path == node.Root {
		return fmt.Errorf("%w: the root cannot be deleted", node.ErrInvalidPath)
	}

	resp, err := d.tx(ctx).
		If(predicate.Present(key(path))).
		Then(operation.Get(prefix(path))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", path, err)
	}

	switch {
	case !resp.Succeeded:
		return fmt.Errorf("%w: %s", driver.ErrNoNode, path)
	case len(resp.Results) > 0 && len(resp.Results[0].Values) > 0:
		return fmt.Errorf("%w: %s", driver.ErrNotEmpty, path)
	}

	resp, err = d.tx(ctx).
		If(predicate.Present(key(path))).
		Then(operation.Delete(key(path))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", path, err)
	}

	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", driver.ErrNoNode, path)
	}

	return nil
}

// Children returns the sorted names of the immediate children.
func (d *Driver) Children(ctx context.Context, path string) ([]string, error) {
	children, exists, err := d.children(ctx, path)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoNode, path)
	}

	names := make([]string, 0, len(children))
	for _, child := range children {
		names = append(names, node.Name(child.Path))
	}

	sort.Strings(names)

	return names, nil
}

// Connected reports whether the backend is reachable and the driver is open.
func (d *Driver) Connected() bool {
	return !d.closed.Load() && d.backend.Connected()
}

// Close stops every watch and closes the backend. Closing twice is a no-op.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	stops := make([]func(), 0, len(d.watches))

	for id, stop := range d.watches {
		stops = append(stops, stop)
		delete(d.watches, id)
	}
	d.mu.Unlock()

	for _, stop := range stops {
		stop()
	}

	if err := d.backend.Close(); err != nil {
		return fmt.Errorf("failed to close backend: %w", err)
	}

	return nil
}

func (d *Driver) check(path string) error {
	if d.closed.Load() {
		return driver.ErrClosed
	}

	return node.Validate(path)
}

// read loads a node with its descendants in a single transaction.
func (d *Driver) read(ctx context.Context, path string) (kv.KeyValue, node.Stat, bool, error) {
	if err := d.check(path); err != nil {
		return kv.KeyValue{}, node.Stat{}, false, err
	}

	resp, err := d.tx(ctx).
		Then(operation.Get(key(path)), operation.Get(prefix(path))).
		Commit()
	if err != nil {
		return kv.KeyValue{}, node.Stat{}, false, fmt.Errorf("failed to read %q: %w", path, err)
	}

	if len(resp.Results) < 2 { //nolint:mnd
		return kv.KeyValue{}, node.Stat{}, false, fmt.Errorf("failed to read %q: %w", path, errShortResponse)
	}

	numChildren := countChildren(path, resp.Results[1].Values)

	if path == node.Root {
		root := kv.KeyValue{Key: key(path), Value: nil, ModRevision: 0, Ephemeral: false}

		return root, statOf(root, numChildren), true, nil
	}

	value, ok := single(resp, 0)
	if !ok {
		return kv.KeyValue{}, node.Stat{}, false, nil
	}

	return value, statOf(value, numChildren), true, nil
}

// children returns the immediate children of path and whether path exists.
func (d *Driver) children(ctx context.Context, path string) ([]watch.ChildData, bool, error) {
	if err := d.check(path); err != nil {
		return nil, false, err
	}

	resp, err := d.tx(ctx).
		Then(operation.Get(key(path)), operation.Get(prefix(path))).
		Commit()
	if err != nil {
		return nil, false, fmt.Errorf("failed to list %q: %w", path, err)
	}

	if len(resp.Results) < 2 { //nolint:mnd
		return nil, false, fmt.Errorf("failed to list %q: %w", path, errShortResponse)
	}

	_, exists := single(resp, 0)
	exists = exists || path == node.Root

	var children []watch.ChildData

	for _, value := range resp.Results[1].Values {
		childPath := string(value.Key)
		if !node.IsChildOf(childPath, path) {
			continue
		}

		children = append(children, watch.ChildData{
			Path: childPath,
			Data: value.Value,
			Stat: statOf(value, countChildren(childPath, resp.Results[1].Values)),
		})
	}

	return children, exists, nil
}

func single(resp txPkg.Response, idx int) (kv.KeyValue, bool) {
	if len(resp.Results) <= idx || len(resp.Results[idx].Values) == 0 {
		return kv.KeyValue{}, false
	}

	return resp.Results[idx].Values[0], true
}

func countChildren(path string, descendants []kv.KeyValue) int {
	count := 0

	for _, value := range descendants {
		if node.IsChildOf(string(value.Key), path) {
			count++
		}
	}

	return count
}

func statOf(value kv.KeyValue, numChildren int) node.Stat {
	return node.Stat{
		Version:     value.ModRevision,
		Revision:    value.ModRevision,
		DataLength:  len(value.Value),
		NumChildren: numChildren,
		Ephemeral:   value.Ephemeral,
		Created:     time.Time{},
		Modified:    time.Time{},
	}
}
