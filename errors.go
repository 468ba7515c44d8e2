package coordination

import (
	"errors"
	"fmt"

	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/node"
)

var (
	// ErrAlreadyExists is returned when a node is created at an occupied path.
	ErrAlreadyExists = driver.ErrNodeExists
	// ErrNotFound is returned when the target node does not exist.
	ErrNotFound = driver.ErrNoNode
	// ErrNotEmpty is returned when a node with children is deleted.
	ErrNotEmpty = driver.ErrNotEmpty
	// ErrNotConnected is returned when the session is down at call time.
	ErrNotConnected = driver.ErrNotConnected
	// ErrInvalidPath is returned for malformed node paths.
	ErrInvalidPath = node.ErrInvalidPath
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client is closed")
	// ErrNilListener is returned when a watch is registered without a listener.
	ErrNilListener = errors.New("listener is nil")
	// ErrUnknownBackend is returned by Connect for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown backend")

	errListenerPanic = errors.New("listener panicked")
)

// ListenerError describes a failed listener invocation. It is logged and
// counted, never returned to the caller.
type ListenerError struct {
	// Path is the path of the changed node.
	Path string
	// Kind is the kind of the undelivered change.
	Kind Kind
	// Err is the error returned by the listener, or the recovered panic.
	Err error
}

// Error returns a string representation of the listener error.
func (e ListenerError) Error() string {
	return fmt.Sprintf("listener failed on %s of %q: %s", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying listener error.
func (e ListenerError) Unwrap() error {
	return e.Err
}

func newListenerError(event ChangeEvent, err error) ListenerError {
	return ListenerError{
		Path: event.Path(),
		Kind: event.Kind(),
		Err:  err,
	}
}
