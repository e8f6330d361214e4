package sample

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndex(t *testing.T) {
	t.Run("dense handles in load order", func(t *testing.T) {
		idx, err := NewIndex([]string{"BRCA-01", "LUAD-02", "SKCM-03"})
		require.NoError(t, err)
		assert.Equal(t, 3, idx.Size())

		for i, id := range []string{"BRCA-01", "LUAD-02", "SKCM-03"} {
			h, err := idx.Resolve(id)
			require.NoError(t, err)
			assert.Equal(t, Handle(i), h)
			assert.Equal(t, id, idx.ID(h))
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := NewIndex([]string{"A", "B", "A"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := NewIndex([]string{"A", "  "})
		require.Error(t, err)
	})
}

func TestIndexResolveUnknown(t *testing.T) {
	idx, err := NewIndex([]string{"A", "B"})
	require.NoError(t, err)

	_, err = idx.Resolve("Z")
	var unknown *UnknownSampleError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Z", unknown.ID)

	set, missing := idx.ResolveAll([]string{"B", "Z", "A", "Y"})
	assert.Equal(t, []Handle{0, 1}, set.Handles())
	assert.Equal(t, []string{"Z", "Y"}, missing)
}

func TestIndexUniverseAndIDs(t *testing.T) {
	idx, err := NewIndex([]string{"A", "B", "C", "D"})
	require.NoError(t, err)

	assert.Equal(t, []Handle{0, 1, 2, 3}, idx.Universe().Handles())
	assert.Equal(t, []string{"B", "D"}, idx.IDsOf(NewSet(3, 1, 9)))
	assert.False(t, idx.Valid(4))
	assert.Equal(t, "", idx.ID(4))

	ids := idx.IDs()
	ids[0] = "mutated"
	assert.Equal(t, "A", idx.ID(0))
}

func TestSetOperations(t *testing.T) {
	var zero Set
	assert.True(t, zero.IsEmpty())
	assert.Equal(t, 0, zero.Len())
	assert.True(t, zero.Equal(NewSet()))
	assert.Equal(t, []Handle{}, zero.Handles())

	s := NewSet(3, 1, 1, 7)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(7))
	assert.False(t, s.Contains(2))
	assert.True(t, s.Equal(NewSet(1, 3, 7)))
	assert.False(t, s.Equal(NewSet(1, 3)))

	assert.Equal(t, []Handle{1, 7}, s.Without(3).Handles())
	assert.Equal(t, []Handle{1, 3, 7}, s.Handles(), "Without must not mutate the receiver")
	assert.Equal(t, []Handle{1, 2, 3, 7}, s.Union(NewSet(2)).Handles())
	assert.Equal(t, []Handle{2, 3, 4}, Range(2, 5).Handles())
	assert.True(t, Range(5, 5).IsEmpty())
}

func TestSetClip(t *testing.T) {
	tests := []struct {
		name    string
		in      Set
		size    int
		kept    []Handle
		dropped []Handle
	}{
		{"all valid", NewSet(0, 3), 4, []Handle{0, 3}, nil},
		{"one out of range", NewSet(1, 3, 99), 4, []Handle{1, 3}, []Handle{99}},
		{"boundary", NewSet(3, 4, 5), 4, []Handle{3}, []Handle{4, 5}},
		{"empty", NewSet(), 4, []Handle{}, nil},
		{"zero size", NewSet(0, 1), 0, []Handle{}, []Handle{0, 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kept, dropped := tc.in.Clip(tc.size)
			assert.Equal(t, tc.kept, kept.Handles())
			assert.Equal(t, tc.dropped, dropped)
		})
	}
}

func TestSetJSON(t *testing.T) {
	data, err := json.Marshal(NewSet(4, 2))
	require.NoError(t, err)
	assert.JSONEq(t, `[2,4]`, string(data))

	var s Set
	require.NoError(t, json.Unmarshal([]byte(`[5,1,5]`), &s))
	assert.Equal(t, []Handle{1, 5}, s.Handles())
}
