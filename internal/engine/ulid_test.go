package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_Format(t *testing.T) {
	id := newULID()
	assert.Len(t, id, 26)
	for _, r := range id {
		assert.Contains(t, crockford32, string(r))
	}
	for _, excluded := range []string{"I", "L", "O", "U"} {
		assert.False(t, strings.Contains(id, excluded), "ULID alphabet must exclude %q", excluded)
	}
}

func TestNewULID_MonotonicWithinSameMillisecond(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = newULID()
	}
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1] < ids[i], "ULIDs must sort lexically in generation order: %q !< %q", ids[i-1], ids[i])
	}
}
