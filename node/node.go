// Package node describes the coordination tree: slash-delimited absolute
// paths, node creation modes and node metadata.
package node

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Separator delimits path segments.
const Separator = "/"

// Root is the path of the tree root.
const Root = Separator

var (
	// ErrInvalidPath is returned when a path is not a valid absolute node path.
	ErrInvalidPath = errors.New("invalid node path")
)

// Mode describes the lifetime of a created node.
type Mode int

const (
	// ModePersistent nodes survive session disconnection.
	ModePersistent Mode = iota
	// ModeEphemeral nodes exist only for the lifetime of the creating session.
	ModeEphemeral
)

func (m Mode) String() string {
	switch m {
	case ModePersistent:
		return "Persistent"
	case ModeEphemeral:
		return "Ephemeral"
	default:
		return "Unknown"
	}
}

// Stat holds node metadata as reported by the backend.
// Fields a backend does not track are left zero.
type Stat struct {
	// Version is the data version of the node.
	Version int64
	// Revision is the revision (zxid for ZooKeeper) of the last modification.
	Revision int64
	// DataLength is the length of the node payload in bytes.
	DataLength int
	// NumChildren is the number of immediate children.
	NumChildren int
	// Ephemeral reports whether the node is bound to a session.
	Ephemeral bool
	// Created is the node creation time.
	Created time.Time
	// Modified is the time of the last modification.
	Modified time.Time
}

// Validate checks that path is absolute, has no empty segments
// and no trailing separator (except for the root itself).
func Validate(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	case !strings.HasPrefix(path, Separator):
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, path)
	case path == Root:
		return nil
	case strings.HasSuffix(path, Separator):
		return fmt.Errorf("%w: %q has a trailing separator", ErrInvalidPath, path)
	case strings.Contains(path, Separator+Separator):
		return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
	}

	for _, segment := range strings.Split(path[1:], Separator) {
		if segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q has a relative segment", ErrInvalidPath, path)
		}
	}

	return nil
}

// Join appends a child name to a parent path.
func Join(parent, name string) string {
	if parent == Root {
		return Root + name
	}

	return parent + Separator + name
}

// Parent returns the parent path. The parent of the root is the root.
func Parent(path string) string {
	idx := strings.LastIndex(path, Separator)
	if idx <= 0 {
		return Root
	}

	return path[:idx]
}

// Name returns the last segment of the path.
func Name(path string) string {
	return path[strings.LastIndex(path, Separator)+1:]
}

// ChildPrefix returns the prefix shared by every descendant of path.
func ChildPrefix(path string) string {
	if path == Root {
		return Root
	}

	return path + Separator
}

// IsChildOf reports whether path is an immediate child of parent.
func IsChildOf(path, parent string) bool {
	prefix := ChildPrefix(parent)
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return false
	}

	return !strings.Contains(path[len(prefix):], Separator)
}

// Ancestors returns every proper ancestor of path except the root,
// ordered from the top of the tree down.
func Ancestors(path string) []string {
	var ancestors []string

	for parent := Parent(path); parent != Root; parent = Parent(parent) {
		ancestors = append(ancestors, parent)
	}

	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}

	return ancestors
}
