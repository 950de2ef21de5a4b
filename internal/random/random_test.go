package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptedIntn(t *testing.T) {
	s := NewScripted(3, 9, -1)
	assert.Equal(t, 3, s.Intn(8))
	assert.Equal(t, 1, s.Intn(8))
	assert.Equal(t, 7, s.Intn(8))
	assert.Equal(t, 0, s.Intn(8), "exhausted script yields zero")
}

func TestScriptedShuffleIdentityWhenEmpty(t *testing.T) {
	items := []int{1, 2, 3, 4}
	got := Pick[int](NewScripted(), items, 2)
	assert.Equal(t, []int{1, 2}, got)
}

func TestPickScripted(t *testing.T) {
	// First swap exchanges index 3 with index 0, the rest stay in place.
	got := Pick[int](NewScripted(0), []int{1, 2, 3, 4}, 4)
	assert.Equal(t, []int{4, 2, 3, 1}, got)
}

func TestPickDistinct(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	got := Pick[int](NewSeeded(42), items, 6)
	assert.Len(t, got, 6)

	seen := map[int]bool{}
	for _, v := range got {
		assert.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, items, "input must not be reordered")
	assert.Empty(t, Pick[int](NewSeeded(1), items, 0))
	assert.Len(t, Pick[int](NewSeeded(1), items, 20), 8)
}
