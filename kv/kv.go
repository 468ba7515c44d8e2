// Package kv provides the key-value records returned by transactional backends.
package kv

// KeyValue represents a key-value pair with revision metadata.
type KeyValue struct {
	// Key is the full key; for node-tree backends it is the node path.
	Key []byte
	// Value is the stored payload.
	Value []byte

	// ModRevision is the revision number of the last modification to this key.
	ModRevision int64
	// Ephemeral reports whether the key is bound to a backend session.
	Ephemeral bool
}
