package vector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x0tta6bl4/meshfl/pkg/vector"
)

func TestNorm(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 5.0, vector.Norm([]float64{3, 4}), 1e-9)
	assert.Zero(t, vector.Norm(nil))
}

func TestDistance(t *testing.T) {
	t.Parallel()

	d, err := vector.Distance([]float64{1, 1}, []float64{4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-9)

	_, err = vector.Distance([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestPairwiseDistances(t *testing.T) {
	t.Parallel()

	vs := [][]float64{{0, 0}, {3, 4}, {0, 0}}
	d, err := vector.PairwiseDistances(vs)
	require.NoError(t, err)

	assert.Zero(t, d[0][0])
	assert.InDelta(t, 5.0, d[0][1], 1e-9)
	assert.InDelta(t, 5.0, d[1][0], 1e-9)
	assert.Zero(t, d[0][2])

	_, err = vector.PairwiseDistances(nil)
	assert.ErrorIs(t, err, vector.ErrNoVectors)
}

func TestMeanMedian(t *testing.T) {
	t.Parallel()

	vs := [][]float64{{1, 10}, {2, 20}, {9, 60}}

	mean, err := vector.Mean(vs)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, mean[0], 1e-9)
	assert.InDelta(t, 30.0, mean[1], 1e-9)

	median, err := vector.Median(vs)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, median[0], 1e-9)
	assert.InDelta(t, 20.0, median[1], 1e-9)
}

func TestMedianScalar(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.5, vector.MedianScalar([]float64{4, 1, 2, 3}), 1e-9)
	assert.InDelta(t, 2.0, vector.MedianScalar([]float64{3, 1, 2}), 1e-9)
	assert.Zero(t, vector.MedianScalar(nil))
}

func TestStats(t *testing.T) {
	t.Parallel()

	mean, std := vector.Stats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)
}

func TestScaleSub(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float64{2, 4}, vector.Scale([]float64{1, 2}, 2))

	out, err := vector.Sub([]float64{3, 3}, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, out)

	_, err = vector.Sub([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}
