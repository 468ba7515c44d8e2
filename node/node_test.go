package node_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarantool/go-coordination/node"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"Root", "/", true},
		{"Simple", "/services", true},
		{"Nested", "/services/order/node-1", true},
		{"Empty", "", false},
		{"Relative", "services", false},
		{"TrailingSeparator", "/services/", false},
		{"EmptySegment", "/services//order", false},
		{"DotSegment", "/services/./order", false},
		{"DotDotSegment", "/services/../order", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := node.Validate(tt.path)
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, node.ErrInvalidPath)
			}
		})
	}
}

func TestJoinAndParent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/services", node.Join("/", "services"))
	assert.Equal(t, "/services/order", node.Join("/services", "order"))

	assert.Equal(t, "/", node.Parent("/services"))
	assert.Equal(t, "/services", node.Parent("/services/order"))
	assert.Equal(t, "/", node.Parent("/"))

	assert.Equal(t, "order", node.Name("/services/order"))
	assert.Equal(t, "services", node.Name("/services"))
}

func TestIsChildOf(t *testing.T) {
	t.Parallel()

	assert.True(t, node.IsChildOf("/services/order/node-1", "/services/order"))
	assert.True(t, node.IsChildOf("/services", "/"))
	assert.False(t, node.IsChildOf("/services/order/node-1/x", "/services/order"))
	assert.False(t, node.IsChildOf("/services/orders", "/services/order"))
	assert.False(t, node.IsChildOf("/services/order", "/services/order"))
	assert.False(t, node.IsChildOf("/", "/"))
}

func TestAncestors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"/a", "/a/b"}, node.Ancestors("/a/b/c"))
	assert.Empty(t, node.Ancestors("/a"))
	assert.Equal(t, "/a/", node.ChildPrefix("/a"))
	assert.Equal(t, "/", node.ChildPrefix("/"))
}

func TestModeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Persistent", node.ModePersistent.String())
	assert.Equal(t, "Ephemeral", node.ModeEphemeral.String())
	assert.Equal(t, "Unknown", node.Mode(42).String())
}
