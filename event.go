package coordination

import (
	"fmt"
)

// Kind is the kind of a child change.
type Kind int

const (
	// KindAdded is reported when a child node appears.
	KindAdded Kind = iota + 1
	// KindUpdated is reported when the data of a child node changes.
	KindUpdated
	// KindRemoved is reported when a child node disappears.
	KindRemoved
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "ADDED"
	case KindUpdated:
		return "UPDATED"
	case KindRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// ChangeEvent describes a change of a watched child node.
// It is an immutable value: events compare equal with ==.
type ChangeEvent struct {
	path    string
	payload string
	kind    Kind
}

// NewChangeEvent creates a change event.
func NewChangeEvent(path, payload string, kind Kind) ChangeEvent {
	return ChangeEvent{
		path:    path,
		payload: payload,
		kind:    kind,
	}
}

// Path returns the absolute path of the changed node.
func (e ChangeEvent) Path() string {
	return e.path
}

// Payload returns the node data as text. For removals it is the last known
// data, or empty when none was known.
func (e ChangeEvent) Payload() string {
	return e.payload
}

// Kind returns the kind of the change.
func (e ChangeEvent) Kind() Kind {
	return e.kind
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s (%d bytes)", e.kind, e.path, len(e.payload))
}
