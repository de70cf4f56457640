// Package vector provides coordinate-wise statistics over fixed-shape
// gradient vectors. All functions are pure and allocate their results.
package vector

import (
	"errors"
	"math"
	"sort"
)

var (
	ErrNoVectors         = errors.New("no vectors provided")
	ErrDimensionMismatch = errors.New("vector dimensions do not match")
)

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}

	return math.Sqrt(sum)
}

// Distance returns the L2 distance between a and b.
func Distance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return math.Sqrt(sum), nil
}

// PairwiseDistances returns the symmetric L2 distance matrix between all
// pairs of vectors.
func PairwiseDistances(vs [][]float64) ([][]float64, error) {
	n := len(vs)
	if n == 0 {
		return nil, ErrNoVectors
	}

	distances := make([][]float64, n)
	for i := range distances {
		distances[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := Distance(vs[i], vs[j])
			if err != nil {
				return nil, err
			}
			distances[i][j] = d
			distances[j][i] = d
		}
	}

	return distances, nil
}

// Mean returns the coordinate-wise mean of the vectors.
func Mean(vs [][]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, ErrNoVectors
	}

	dim := len(vs[0])
	out := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(vs))
	}

	return out, nil
}

// Median returns the coordinate-wise median of the vectors.
func Median(vs [][]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, ErrNoVectors
	}

	dim := len(vs[0])
	out := make([]float64, dim)
	column := make([]float64, len(vs))
	for i := 0; i < dim; i++ {
		for j, v := range vs {
			if len(v) != dim {
				return nil, ErrDimensionMismatch
			}
			column[j] = v[i]
		}
		out[i] = MedianScalar(column)
	}

	return out, nil
}

// MedianScalar returns the median of xs, or 0 when xs is empty.
func MedianScalar(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}

// Stats returns the mean and population standard deviation of xs.
func Stats(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}

	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))

	return mean, math.Sqrt(variance)
}

// Scale returns v multiplied by f.
func Scale(v []float64, f float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * f
	}

	return out
}

// Sub returns a - b.
func Sub(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, ErrDimensionMismatch
	}

	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}

	return out, nil
}

// Zeros returns a zero vector of length n.
func Zeros(n int) []float64 {
	return make([]float64, n)
}

// Clone returns a copy of v.
func Clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)

	return out
}
