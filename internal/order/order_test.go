package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmfscope/server/internal/data/nmf"
	"github.com/nmfscope/server/internal/sample"
)

func testDataset() *nmf.Dataset {
	// C2 has the largest total, then C1.
	return &nmf.Dataset{
		SampleIDs:  []string{"LUAD-1", "BRCA-2", "BRCA-3", "LUAD-4", "ACC_-5"},
		Components: []string{"C1", "C2"},
		H: [][]float64{
			{0.9, 0.1},
			{0.2, 0.8},
			{0.1, 1.0},
			{0.5, 0.4},
			{0.0, 0.6},
		},
		Annotations: map[string][]string{
			"cancer_type":  {"LUAD", "BRCA", "BRCA", "LUAD", "ACC_"},
			"organ_system": {"Thoracic", "Breast", "Breast", "Thoracic", "Endocrine"},
		},
	}
}

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod("Organ_System")
	assert.True(t, ok)
	assert.Equal(t, OrganSystem, m)

	m, ok = ParseMethod("")
	assert.True(t, ok)
	assert.Equal(t, Component, m)

	m, ok = ParseMethod("embryonic_layer")
	assert.False(t, ok)
	assert.Equal(t, Component, m)
}

func TestComponentOrder(t *testing.T) {
	assert.Equal(t, []int{1, 0}, ComponentOrder(testDataset()))
}

func TestCompute(t *testing.T) {
	tests := []struct {
		method Method
		want   []sample.Handle
	}{
		// Winners of C2 by activity (2,1,4) then winners of C1 (0,3).
		{Component, []sample.Handle{2, 1, 4, 0, 3}},
		{Alphabetical, []sample.Handle{4, 1, 2, 0, 3}},
		{CancerType, []sample.Handle{4, 2, 1, 0, 3}},
		{OrganSystem, []sample.Handle{2, 1, 4, 0, 3}},
	}
	for _, tc := range tests {
		t.Run(string(tc.method), func(t *testing.T) {
			got, err := Compute(testDataset(), tc.method)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComputeMissingAnnotationFallsBack(t *testing.T) {
	ds := testDataset()
	delete(ds.Annotations, "organ_system")

	got, err := Compute(ds, OrganSystem)
	require.NoError(t, err)
	want, err := Compute(ds, Component)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestComputeIsPermutation(t *testing.T) {
	for _, m := range []Method{Component, Alphabetical, CancerType, OrganSystem} {
		got, err := Compute(testDataset(), m)
		require.NoError(t, err)
		seen := map[sample.Handle]bool{}
		for _, h := range got {
			seen[h] = true
		}
		assert.Len(t, seen, 5, "method %s", m)
	}
}

func TestComputeUnknownMethod(t *testing.T) {
	_, err := Compute(testDataset(), Method("nope"))
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []string{"c", "a"}, Labels([]string{"a", "b", "c"}, []sample.Handle{2, 0}))
}
