package discovery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKey(t *testing.T) {
	assert.Equal(t, "/zephyrgossip/nodes/n3", nodeKey("n3"))
}

func TestEncodeAnnouncement(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	val, err := encodeAnnouncement(Announcement{
		ID:        "n1",
		Neighbors: []string{"n2", "n3"},
		Topology:  "mesh",
		Started:   started,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(val), &got))
	assert.Equal(t, "n1", got["id"])
	assert.Equal(t, []any{"n2", "n3"}, got["neighbors"])
	assert.Equal(t, "mesh", got["topology"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["started"])
}
