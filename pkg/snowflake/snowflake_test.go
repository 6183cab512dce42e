package snowflake

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeRange(t *testing.T) {
	_, err := NewNode(-1)
	assert.ErrorIs(t, err, ErrNodeRange)
	_, err = NewNode(1024)
	assert.ErrorIs(t, err, ErrNodeRange)
	_, err = NewNode(1023)
	assert.NoError(t, err)
}

func TestGenerateIsUniqueAndIncreasing(t *testing.T) {
	n, err := NewNode(7)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	var last int64
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		require.False(t, seen[id], "duplicate id %d", id)
		require.Greater(t, id, last)
		seen[id] = true
		last = id
	}
}

func TestGenerateSurvivesClockSkew(t *testing.T) {
	n, err := NewNode(1)
	require.NoError(t, err)

	clock := int64(1800000000000)
	n.now = func() int64 { return clock }
	first := n.Generate()

	clock -= 5000
	second := n.Generate()
	assert.Greater(t, second, first)
	assert.Equal(t, int64(1800000000000), Time(second))
}

func TestID(t *testing.T) {
	n, err := NewNode(2)
	require.NoError(t, err)
	id := n.ID("msg")
	assert.True(t, strings.HasPrefix(id, "msg_"))
	assert.NotEqual(t, id, n.ID("msg"))
}
