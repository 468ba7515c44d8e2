// Package watch provides the low-level child notification model produced by
// drivers, and the child cache used to turn backend snapshots into
// add/update/remove notifications.
package watch

import (
	"github.com/tarantool/go-coordination/node"
)

// EventType identifies a child notification.
type EventType int

const (
	// EventChildAdded is sent when a child node appears.
	EventChildAdded EventType = iota
	// EventChildUpdated is sent when the data of a child node changes.
	EventChildUpdated
	// EventChildRemoved is sent when a child node disappears.
	EventChildRemoved
	// EventInitialized is sent once the initial snapshot has been loaded.
	EventInitialized
	// EventConnectionSuspended is sent when the connection is lost but the session may recover.
	EventConnectionSuspended
	// EventConnectionReconnected is sent when the connection is re-established.
	EventConnectionReconnected
	// EventConnectionLost is sent when the session is gone.
	EventConnectionLost
)

func (t EventType) String() string {
	switch t {
	case EventChildAdded:
		return "ChildAdded"
	case EventChildUpdated:
		return "ChildUpdated"
	case EventChildRemoved:
		return "ChildRemoved"
	case EventInitialized:
		return "Initialized"
	case EventConnectionSuspended:
		return "ConnectionSuspended"
	case EventConnectionReconnected:
		return "ConnectionReconnected"
	case EventConnectionLost:
		return "ConnectionLost"
	default:
		return "Unknown"
	}
}

// ChildData is a snapshot of a child node.
type ChildData struct {
	// Path is the absolute path of the child.
	Path string
	// Data is the node payload.
	Data []byte
	// Stat is the node metadata at the time of the snapshot.
	Stat node.Stat
}

// Event represents a change notification from a child watch stream.
type Event struct {
	// Type is the kind of notification.
	Type EventType
	// Data is the affected child. It is nil for structural notifications
	// (initialization and connection state changes).
	Data *ChildData
}

// Structural returns a notification that carries no node snapshot.
func Structural(eventType EventType) Event {
	return Event{Type: eventType, Data: nil}
}
