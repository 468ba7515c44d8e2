package kvtree

import (
	"context"

	"github.com/tarantool/go-coordination/kv"
	"github.com/tarantool/go-coordination/operation"
	"github.com/tarantool/go-coordination/predicate"
	"github.com/tarantool/go-coordination/tx"
)

// Notification reports a change under a watched key or prefix.
//
// Backends that know the changed key send one notification per change, in
// commit order. Backends that only know that something changed send
// notifications with a nil Value; watchers then re-read the prefix.
type Notification struct {
	// Prefix is the watched key or prefix.
	Prefix []byte
	// Value is the changed key. For a put it holds the new value; for a
	// delete its ModRevision is the revision of the delete.
	Value *kv.KeyValue
	// Deleted is set when the key was removed.
	Deleted bool
}

// Resync reports whether the notification carries no change, so the watched
// prefix has to be read again.
func (n Notification) Resync() bool {
	return n.Value == nil
}

// Backend is a transactional key-value store with prefix watches.
// Keys ending with "/" in operations and watches denote prefixes.
type Backend interface {
	// Execute executes a transactional operation with conditional logic.
	// The transaction will execute thenOps if all predicates evaluate to true,
	// otherwise it will execute elseOps.
	Execute(
		ctx context.Context,
		predicates []predicate.Predicate,
		thenOps []operation.Operation,
		elseOps []operation.Operation,
	) (tx.Response, error)

	// Watch establishes a watch stream for changes to a specific key or prefix.
	// Changes must not be dropped or reordered; resync notifications may be
	// coalesced. The channel is closed once the returned stop function is
	// called or ctx is done.
	Watch(ctx context.Context, key []byte) (<-chan Notification, func(), error)

	// Connected reports a best-effort connectivity snapshot.
	Connected() bool

	// Close releases the backend connection.
	Close() error
}
