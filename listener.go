package coordination

// Listener receives the child changes of a watched path.
//
// NodeChanged is called from the delivery goroutine of the client, one call
// at a time. A returned error or a panic is logged and does not stop
// delivery of later events. NodeChanged may use the client, but must not
// call its Close method.
type Listener interface {
	NodeChanged(client Client, event ChangeEvent) error
}

// ListenerFunc adapts an ordinary function to the Listener interface.
type ListenerFunc func(client Client, event ChangeEvent) error

// NodeChanged calls f(client, event).
func (f ListenerFunc) NodeChanged(client Client, event ChangeEvent) error {
	return f(client, event)
}
