package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_ChecksumFollowsContent(t *testing.T) {
	a := New("scheduler", map[string]any{"state": "active", "tracked": 2})
	b := New("scheduler", map[string]any{"tracked": 2, "state": "active"})
	c := New("scheduler", map[string]any{"state": "idle", "tracked": 2})

	assert.Len(t, a.Checksum, 64)
	assert.Equal(t, a.Checksum, b.Checksum, "map key order does not matter")
	assert.NotEqual(t, a.Checksum, c.Checksum)
	assert.Equal(t, `"`+a.Checksum+`"`, a.ETag())
}
