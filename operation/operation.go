// Package operation provides the key-value operations executed inside
// backend transactions.
package operation

// Type is the kind of a key-value operation.
type Type int

const (
	// TypeGet reads a key, or every key under a prefix.
	TypeGet Type = iota
	// TypePut writes a key.
	TypePut
	// TypeDelete removes a key, or every key under a prefix.
	TypeDelete
)

func (t Type) String() string {
	switch t {
	case TypeGet:
		return "Get"
	case TypePut:
		return "Put"
	case TypeDelete:
		return "Delete"
	}

	return "Unknown"
}

// Option configures an operation.
type Option struct {
	ephemeral   bool
	keepSession bool
}

// WithEphemeral binds a put operation to the backend session, so the key
// disappears when the session ends.
func WithEphemeral() Option {
	return Option{ephemeral: true, keepSession: false}
}

// WithKeepSession makes a put over an existing key keep the key's current
// session binding instead of turning it into a persistent key.
func WithKeepSession() Option {
	return Option{ephemeral: false, keepSession: true}
}

// IsEphemeral reports whether the option binds the key to the session.
func (o Option) IsEphemeral() bool {
	return o.ephemeral
}

// KeepsSession reports whether the option keeps the existing session binding.
func (o Option) KeepsSession() bool {
	return o.keepSession
}

// Operation is a single key-value operation of a transaction branch.
type Operation struct {
	typ     Type
	key     []byte
	value   []byte
	options []Option
}

// Get creates an operation reading a key. A key ending with "/" reads every
// key with that prefix.
func Get(key []byte, opts ...Option) Operation {
	return Operation{typ: TypeGet, key: key, value: nil, options: opts}
}

// Put creates an operation writing a value under a key.
func Put(key []byte, value []byte, opts ...Option) Operation {
	return Operation{typ: TypePut, key: key, value: value, options: opts}
}

// Delete creates an operation removing a key. A key ending with "/" removes
// every key with that prefix.
func Delete(key []byte, opts ...Option) Operation {
	return Operation{typ: TypeDelete, key: key, value: nil, options: opts}
}

// Type returns the operation type.
func (o Operation) Type() Type {
	return o.typ
}

// Key returns the target key.
func (o Operation) Key() []byte {
	return o.key
}

// Value returns the data written by put operations, nil otherwise.
func (o Operation) Value() []byte {
	return o.value
}

// Options returns the operation options.
func (o Operation) Options() []Option {
	return o.options
}

// IsPrefix reports whether the operation targets every key with the key as prefix.
func (o Operation) IsPrefix() bool {
	return len(o.key) == 0 || o.key[len(o.key)-1] == '/'
}

// IsEphemeral reports whether any option binds the key to the session.
func (o Operation) IsEphemeral() bool {
	for _, opt := range o.options {
		if opt.IsEphemeral() {
			return true
		}
	}

	return false
}

// KeepsSession reports whether any option keeps the existing session binding.
func (o Operation) KeepsSession() bool {
	for _, opt := range o.options {
		if opt.KeepsSession() {
			return true
		}
	}

	return false
}
