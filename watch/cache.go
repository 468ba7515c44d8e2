package watch

import (
	"bytes"
	"sort"

	"github.com/tarantool/go-coordination/node"
)

// Cache tracks the immediate children of a parent node and computes
// the notifications needed to move from one snapshot to the next.
// Removed children are reported with their last known data.
//
// Cache is not safe for concurrent use.
type Cache struct {
	parent   string
	children map[string]ChildData
}

// NewCache creates an empty cache for the children of parent.
func NewCache(parent string) *Cache {
	return &Cache{
		parent:   parent,
		children: make(map[string]ChildData),
	}
}

// Parent returns the watched parent path.
func (c *Cache) Parent() string {
	return c.parent
}

// Seed replaces the cache content without producing notifications.
// Entries that are not immediate children of the parent are ignored.
func (c *Cache) Seed(snapshot []ChildData) {
	c.children = make(map[string]ChildData, len(snapshot))

	for _, child := range snapshot {
		if node.IsChildOf(child.Path, c.parent) {
			c.children[child.Path] = child
		}
	}
}

// Apply diffs a full snapshot of the children against the cache, updates the
// cache and returns the resulting notifications. Removals come first; added
// and updated children follow in the order of their modification revision,
// which is the order the backend applied them.
func (c *Cache) Apply(snapshot []ChildData) []Event {
	next := make([]ChildData, 0, len(snapshot))
	present := make(map[string]struct{}, len(snapshot))

	for _, child := range snapshot {
		if node.IsChildOf(child.Path, c.parent) {
			next = append(next, child)
			present[child.Path] = struct{}{}
		}
	}

	var events []Event

	for _, path := range c.Paths() {
		if _, ok := present[path]; ok {
			continue
		}

		if event, ok := c.Remove(path); ok {
			events = append(events, event)
		}
	}

	SortByRevision(next)

	for _, child := range next {
		if event, ok := c.Put(child); ok {
			events = append(events, event)
		}
	}

	return events
}

// SortByRevision orders children by modification revision, then by path.
func SortByRevision(children []ChildData) {
	sort.SliceStable(children, func(i, j int) bool {
		if children[i].Stat.Revision != children[j].Stat.Revision {
			return children[i].Stat.Revision < children[j].Stat.Revision
		}

		return children[i].Path < children[j].Path
	})
}

// Put stores a child snapshot. It returns an added notification for a new
// child, an updated notification for a changed one, and false when nothing
// changed or the path is not an immediate child of the parent.
func (c *Cache) Put(child ChildData) (Event, bool) {
	if !node.IsChildOf(child.Path, c.parent) {
		return Event{}, false
	}

	prev, exists := c.children[child.Path]
	c.children[child.Path] = child

	switch {
	case !exists:
		return newEvent(EventChildAdded, child), true
	case changed(prev, child):
		return newEvent(EventChildUpdated, child), true
	default:
		return Event{}, false
	}
}

// Remove drops a child and returns a removal notification carrying the last
// known data. It returns false when the child is not cached.
func (c *Cache) Remove(path string) (Event, bool) {
	prev, exists := c.children[path]
	if !exists {
		return Event{}, false
	}

	delete(c.children, path)

	return newEvent(EventChildRemoved, prev), true
}

// Get returns the cached snapshot of a child.
func (c *Cache) Get(path string) (ChildData, bool) {
	child, ok := c.children[path]
	return child, ok
}

// Paths returns the cached child paths in sorted order.
func (c *Cache) Paths() []string {
	paths := make([]string, 0, len(c.children))
	for path := range c.children {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

// Len returns the number of cached children.
func (c *Cache) Len() int {
	return len(c.children)
}

func changed(prev, next ChildData) bool {
	return prev.Stat.Version != next.Stat.Version ||
		prev.Stat.Revision != next.Stat.Revision ||
		!bytes.Equal(prev.Data, next.Data)
}

func newEvent(eventType EventType, child ChildData) Event {
	return Event{Type: eventType, Data: &child}
}
