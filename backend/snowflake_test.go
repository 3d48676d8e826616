package backend

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextGeneratesUniqueSortedIdentifiers(t *testing.T) {
	var ids snowflakes

	seen := make(map[string]bool)
	var previous uint64
	for i := 0; i < 1000; i++ {
		id := ids.Next()

		parsed, err := strconv.ParseUint(id, 10, 64)
		require.NoError(t, err)

		assert.False(t, seen[id], "generated the same identifier twice: %s", id)
		seen[id] = true

		assert.Greater(t, parsed, previous, "identifiers should sort in generation order")
		previous = parsed
	}
}

func TestNextEmbedsTimestamp(t *testing.T) {
	var ids snowflakes

	id, err := strconv.ParseUint(ids.Next(), 10, 64)
	require.NoError(t, err)

	// the high bits hold milliseconds since the discord epoch, which for any current
	// date lands well past 2015
	millis := id >> 22
	assert.Greater(t, millis, uint64(0))
}
