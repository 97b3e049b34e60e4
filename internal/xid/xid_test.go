package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewHasPrefixAndUUID(t *testing.T) {
	id := New("sale")
	require.True(t, strings.HasPrefix(id, "sale-"))

	_, err := uuid.Parse(strings.TrimPrefix(id, "sale-"))
	require.NoError(t, err)
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New("p")
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
