// Package etcd provides an etcd implementation of the key-value backend.
// Combined with kvtree it turns an etcd cluster into a coordination service;
// ephemeral nodes are bound to a session lease kept alive by the backend.
package etcd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc/connectivity"

	"github.com/tarantool/go-coordination/driver/kvtree"
	"github.com/tarantool/go-coordination/internal/options"
	"github.com/tarantool/go-coordination/kv"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
	"github.com/tarantool/go-coordination/tx"
)

// Client defines the minimal interface needed for etcd operations.
// This allows for easier testing and mock implementations.
type Client interface {
	// Txn creates a new transaction.
	Txn(ctx context.Context) etcd.Txn
}

// Leaser is the part of the etcd lease API used for the session lease.
type Leaser interface {
	Grant(ctx context.Context, ttl int64) (*etcd.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id etcd.LeaseID) (<-chan *etcd.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id etcd.LeaseID) (*etcd.LeaseRevokeResponse, error)
}

// Watcher defines the interface for watching etcd changes.
type Watcher interface {
	// Watch watches for changes on a key (using etcd's signature).
	Watch(ctx context.Context, key string, opts ...etcd.OpOption) etcd.WatchChan
	// Close closes the watcher.
	Close() error
}

// WatcherFactory creates new watchers from a client.
type WatcherFactory interface {
	// NewWatcher creates a new watcher.
	NewWatcher(client Client) Watcher
}

// Backend is an etcd implementation of the key-value backend.
type Backend struct {
	client         Client
	leaser         Leaser
	watcherFactory WatcherFactory
	connected      func() bool
	closeClient    func() error
	settings       settings

	sessionCtx    context.Context //nolint:containedctx
	cancelSession context.CancelFunc
	closed        *atomic.Bool

	mu    sync.Mutex
	lease etcd.LeaseID
}

var (
	_ kvtree.Backend = &Backend{} //nolint:exhaustruct

	// Static error definitions to avoid dynamic errors.
	errUnsupportedPredicateTarget  = errors.New("unsupported predicate target")
	errValuePredicateRequiresBytes = errors.New("value predicate requires []byte or string value")
	errUnsupportedValueOperation   = errors.New("unsupported operation for value predicate")
	errVersionPredicateRequiresInt = errors.New("version predicate requires int64 value")
	errUnsupportedVersionOperation = errors.New("unsupported operation for version predicate")
	errUnsupportedOperationType    = errors.New("unsupported operation type")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("etcd backend is closed")
)

// etcdClientAdapter wraps etcd.Client to implement our Client interface.
type etcdClientAdapter struct {
	client *etcd.Client
}

func (a *etcdClientAdapter) Txn(ctx context.Context) etcd.Txn {
	return a.client.Txn(ctx)
}

// etcdWatcherAdapter wraps etcd.Watcher to implement our Watcher interface.
type etcdWatcherAdapter struct {
	watcher etcd.Watcher
}

func (a *etcdWatcherAdapter) Watch(ctx context.Context, key string, opts ...etcd.OpOption) etcd.WatchChan {
	return a.watcher.Watch(ctx, key, opts...)
}

func (a *etcdWatcherAdapter) Close() error {
	if err := a.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}

	return nil
}

// etcdWatcherFactory implements WatcherFactory for etcd clients.
type etcdWatcherFactory struct{}

func (f *etcdWatcherFactory) NewWatcher(client Client) Watcher {
	if adapter, ok := client.(*etcdClientAdapter); ok {
		return &etcdWatcherAdapter{
			watcher: etcd.NewWatcher(adapter.client),
		}
	}

	return &noopWatcher{}
}

// noopWatcher is a no-op implementation of Watcher for non-etcd clients.
type noopWatcher struct{}

func (w *noopWatcher) Watch(_ context.Context, _ string, _ ...etcd.OpOption) etcd.WatchChan {
	ch := make(chan etcd.WatchResponse)
	close(ch)

	return ch
}

func (w *noopWatcher) Close() error {
	return nil
}

// New creates a backend over an existing etcd client. The backend takes
// ownership of the client and closes it on Close.
func New(client *etcd.Client, opts ...Option) *Backend {
	connected := func() bool {
		conn := client.ActiveConnection()
		return conn != nil && conn.GetState() == connectivity.Ready
	}

	return newBackend(&etcdClientAdapter{client: client}, client, &etcdWatcherFactory{}, connected, client.Close, opts...)
}

func newBackend(
	client Client,
	leaser Leaser,
	factory WatcherFactory,
	connected func() bool,
	closeClient func() error,
	opts ...Option,
) *Backend {
	sessionCtx, cancel := context.WithCancel(context.Background())

	return &Backend{
		client:         client,
		leaser:         leaser,
		watcherFactory: factory,
		connected:      connected,
		closeClient:    closeClient,
		settings:       options.ApplyOptions[settings](defaultSettings, opts),
		sessionCtx:     sessionCtx,
		cancelSession:  cancel,
		closed:         atomic.NewBool(false),
		mu:             sync.Mutex{},
		lease:          etcd.NoLease,
	}
}

// Config holds the connection parameters of Connect.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Connect dials the etcd cluster and returns a backend owning the client.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	client, err := etcd.New(etcd.Config{ //nolint:exhaustruct
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Context:     ctx,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return New(client, opts...), nil
}

// Execute executes a transactional operation with conditional logic.
// It processes predicates to determine whether to execute thenOps or elseOps.
func (b *Backend) Execute(
	ctx context.Context,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (tx.Response, error) {
	if b.closed.Load() {
		return tx.Response{}, ErrClosed
	}

	lease := etcd.NoLease
	if needsLease(thenOps) || needsLease(elseOps) {
		var err error

		lease, err = b.sessionLease(ctx)
		if err != nil {
			return tx.Response{}, err
		}
	}

	txn := b.client.Txn(ctx)

	convertedPredicates, err := predicatesToCmps(predicates)
	if err != nil {
		return tx.Response{}, fmt.Errorf("failed to convert predicates: %w", err)
	}

	txn.If(convertedPredicates...)

	thenEtcdOps, err := operationsToEtcdOps(thenOps, lease)
	if err != nil {
		return tx.Response{}, fmt.Errorf("failed to convert then operations: %w", err)
	}

	txn.Then(thenEtcdOps...)

	elseEtcdOps, err := operationsToEtcdOps(elseOps, lease)
	if err != nil {
		return tx.Response{}, fmt.Errorf("failed to convert else operations: %w", err)
	}

	txn.Else(elseEtcdOps...)

	resp, err := txn.Commit()
	if err != nil {
		return tx.Response{}, fmt.Errorf("transaction failed: %w", err)
	}

	return etcdResponseToTxResponse(resp), nil
}

const (
	eventChannelSize = 100
)

// Watch notifies about changes of a key, or of every key under a prefix
// when key ends with "/".
func (b *Backend) Watch(ctx context.Context, key []byte) (<-chan kvtree.Notification, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrClosed
	}

	eventCh := make(chan kvtree.Notification, eventChannelSize)

	parentWatcher := b.watcherFactory.NewWatcher(b.client)

	var opts []etcd.OpOption
	if bytes.HasSuffix(key, []byte("/")) {
		opts = append(opts, etcd.WithPrefix())
	}

	watchChan := parentWatcher.Watch(ctx, string(key), opts...)

	go func() {
		defer close(eventCh)

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}

				for _, notification := range watchNotifications(key, watchResp, b.settings.logger) {
					select {
					case eventCh <- notification:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	var once sync.Once

	return eventCh, func() {
		once.Do(func() { _ = parentWatcher.Close() })
	}, nil
}

// watchNotifications converts a watch response to change notifications in
// revision order. A failed response asks the watcher to re-read the prefix.
func watchNotifications(key []byte, resp etcd.WatchResponse, logger *zap.Logger) []kvtree.Notification {
	if err := resp.Err(); err != nil {
		logger.Warn("etcd watch failure", zap.ByteString("key", key), zap.Error(err))

		return []kvtree.Notification{{Prefix: key, Value: nil, Deleted: false}}
	}

	notifications := make([]kvtree.Notification, 0, len(resp.Events))

	for _, event := range resp.Events {
		if event.Kv == nil {
			continue
		}

		value := convertKeyValue(event.Kv)

		notifications = append(notifications, kvtree.Notification{
			Prefix:  key,
			Value:   &value,
			Deleted: event.Type == mvccpb.DELETE,
		})
	}

	return notifications
}

// Connected reports whether the gRPC connection is ready.
func (b *Backend) Connected() bool {
	return !b.closed.Load() && b.connected()
}

// Close revokes the session lease, which removes every ephemeral key,
// and closes the client.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.cancelSession()

	b.mu.Lock()
	lease := b.lease
	b.lease = etcd.NoLease
	b.mu.Unlock()

	var errs []error

	if lease != etcd.NoLease {
		ctx, cancel := context.WithTimeout(context.Background(), b.settings.revokeTimeout)
		defer cancel()

		if _, err := b.leaser.Revoke(ctx, lease); err != nil {
			errs = append(errs, fmt.Errorf("failed to revoke session lease: %w", err))
		}
	}

	if b.closeClient != nil {
		if err := b.closeClient(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close etcd client: %w", err))
		}
	}

	return errors.Join(errs...)
}

// sessionLease returns the session lease, granting it on first use.
// A lease whose keep-alive stream ended is replaced by a fresh one.
func (b *Backend) sessionLease(ctx context.Context) (etcd.LeaseID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lease != etcd.NoLease {
		return b.lease, nil
	}

	grant, err := b.leaser.Grant(ctx, int64(b.settings.sessionTTL/time.Second))
	if err != nil {
		return etcd.NoLease, fmt.Errorf("failed to grant session lease: %w", err)
	}

	keepAlive, err := b.leaser.KeepAlive(b.sessionCtx, grant.ID)
	if err != nil {
		return etcd.NoLease, fmt.Errorf("failed to keep session lease alive: %w", err)
	}

	b.lease = grant.ID

	go b.keepAlive(grant.ID, keepAlive)

	return grant.ID, nil
}

func (b *Backend) keepAlive(id etcd.LeaseID, responses <-chan *etcd.LeaseKeepAliveResponse) {
	for range responses {
	}

	b.mu.Lock()
	if b.lease == id {
		b.lease = etcd.NoLease
	}
	b.mu.Unlock()

	if !b.closed.Load() {
		b.settings.logger.Warn("etcd session lease expired", zap.Int64("lease", int64(id)))
	}
}

func needsLease(ops []operation.Operation) bool {
	for _, op := range ops {
		if op.Type() == operation.TypePut && op.IsEphemeral() {
			return true
		}
	}

	return false
}

func convertKeyValue(etcdKv *mvccpb.KeyValue) kv.KeyValue {
	return kv.KeyValue{
		Key:         etcdKv.Key,
		Value:       etcdKv.Value,
		ModRevision: etcdKv.ModRevision,
		Ephemeral:   etcdKv.Lease != 0,
	}
}

// etcdResponseToTxResponse converts an etcd transaction response to tx.Response.
func etcdResponseToTxResponse(resp *etcd.TxnResponse) tx.Response {
	results := make([]tx.RequestResponse, 0, len(resp.Responses))

	for _, etcdResp := range resp.Responses {
		var values []kv.KeyValue

		switch {
		case etcdResp.GetResponseRange() != nil:
			for _, etcdKv := range etcdResp.GetResponseRange().Kvs {
				values = append(values, convertKeyValue(etcdKv))
			}
		case etcdResp.GetResponsePut() != nil:
			// Put operations don't return data.
		case etcdResp.GetResponseDeleteRange() != nil:
			for _, etcdKv := range etcdResp.GetResponseDeleteRange().PrevKvs {
				values = append(values, convertKeyValue(etcdKv))
			}
		}

		results = append(results, tx.RequestResponse{
			Values: values,
		})
	}

	return tx.Response{
		Succeeded: resp.Succeeded,
		Results:   results,
	}
}
