package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystematicDocumentedStride(t *testing.T) {
	plan, err := Systematic(lattesPopulation, 500, 42)
	require.NoError(t, err)

	assert.Equal(t, int64(14782), plan.Stride)
	assert.Len(t, plan.Indices, 500)
	assert.GreaterOrEqual(t, plan.Start, int64(0))
	assert.Less(t, plan.Start, plan.Stride)
	assert.Equal(t, plan.Start, plan.Indices[0])
}

func TestSystematicIsDeterministic(t *testing.T) {
	inputs := []struct {
		n, size int64
		seed    uint64
	}{
		{lattesPopulation, 500, 42},
		{lattesPopulation, 385, 7},
		{1000, 10, 0},
		{17, 17, 99},
		{10, 3, 123456789},
	}

	for _, in := range inputs {
		a, err := Systematic(in.n, in.size, in.seed)
		require.NoError(t, err)
		b, err := Systematic(in.n, in.size, in.seed)
		require.NoError(t, err)

		assert.Equal(t, a.Indices, b.Indices)
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())

		assert.LessOrEqual(t, int64(len(a.Indices)), in.size)
		for i, idx := range a.Indices {
			assert.Less(t, idx, in.n)
			if i > 0 {
				assert.Greater(t, idx, a.Indices[i-1])
				assert.Equal(t, a.Stride, idx-a.Indices[i-1])
			}
		}
	}
}

func TestSystematicSeedChangesStart(t *testing.T) {
	starts := map[int64]bool{}
	for seed := uint64(0); seed < 32; seed++ {
		plan, err := Systematic(lattesPopulation, 500, seed)
		require.NoError(t, err)
		starts[plan.Start] = true
	}
	assert.Greater(t, len(starts), 1)
}

func TestSystematicFullPopulation(t *testing.T) {
	plan, err := Systematic(5, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, plan.Indices)
}

func TestSystematicErrors(t *testing.T) {
	_, err := Systematic(10, 11, 42)
	require.ErrorIs(t, err, ErrInsufficientPopulation)

	_, err = Systematic(0, 1, 42)
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = Systematic(10, 0, 42)
	require.ErrorIs(t, err, ErrInvalidParameter)
}
