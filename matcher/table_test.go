package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairworks/pairworker/common"
)

func TestTableAddRejectsDuplicates(t *testing.T) {
	table := NewTable[string, string]()
	require.NoError(t, table.Add("key1", "val1"))

	err := table.Add("key1", "other")
	assert.ErrorIs(t, err, common.ErrMatchTableElementAlreadyExists)

	// The original value survives the rejected insert.
	v, err := table.MarkMatched("key1")
	require.NoError(t, err)
	assert.Equal(t, "val1", v)
}

func TestTableMarkMatchedIsIdempotent(t *testing.T) {
	table := NewTable[string, string]()
	require.NoError(t, table.Add("key1", "val1"))

	v1, err := table.MarkMatched("key1")
	require.NoError(t, err)
	v2, err := table.MarkMatched("key1")
	require.NoError(t, err)
	assert.Equal(t, "val1", v1)
	assert.Equal(t, "val1", v2)
}

func TestTableMarkMatchedMissingKey(t *testing.T) {
	table := NewTable[string, string]()
	_, err := table.MarkMatched("absent")
	assert.ErrorIs(t, err, common.ErrMatchTableElementDoesNotExist)
}

func TestTableVisitMatched(t *testing.T) {
	table := NewTable[string, string]()
	require.NoError(t, table.Add("a", "1"))
	require.NoError(t, table.Add("b", "2"))
	require.NoError(t, table.Add("c", "3"))

	_, err := table.MarkMatched("a")
	require.NoError(t, err)
	_, err = table.MarkMatched("c")
	require.NoError(t, err)

	seen := map[string]string{}
	table.VisitMatched(func(k, v string) {
		_, dup := seen[k]
		assert.False(t, dup, "visited %s twice", k)
		seen[k] = v
	})
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, seen)
}

func TestTableVisitMatchedEmpty(t *testing.T) {
	table := NewTable[string, string]()
	require.NoError(t, table.Add("a", "1"))

	calls := 0
	table.VisitMatched(func(string, string) { calls++ })
	assert.Zero(t, calls)
}

func TestPrefilterNoFalseNegatives(t *testing.T) {
	f := newPrefilter(1000)
	for i := 0; i < 1000; i++ {
		f.add(string(rune('a'+i%26)) + string(rune('0'+i%10)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, f.mightContain(string(rune('a'+i%26))+string(rune('0'+i%10))))
	}
}
