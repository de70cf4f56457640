package convergence_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x0tta6bl4/meshfl/convergence"
)

func TestNewDetectorValidation(t *testing.T) {
	t.Parallel()

	_, err := convergence.NewDetector(1, 0.001)
	assert.ErrorIs(t, err, convergence.ErrInvalidWindow)

	_, err = convergence.NewDetector(5, -0.1)
	assert.ErrorIs(t, err, convergence.ErrInvalidThreshold)

	d, err := convergence.NewDetector(0, 0)
	require.NoError(t, err)
	converged, _ := d.Check()
	assert.False(t, converged)
}

func TestInsufficientHistory(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(5, 0.001)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		d.Update(1.0, 0.5, 1.0)

		converged, reason := d.Check()
		assert.False(t, converged)
		assert.Equal(t, fmt.Sprintf("insufficient history (%d/5)", i+1), reason)
	}
}

func TestLossPlateau(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(5, 0.001)
	require.NoError(t, err)

	// Loss flat, so relative improvement is below threshold.
	for i := 0; i < 5; i++ {
		d.Update(0.5, 0.9, 1.0)
	}

	converged, reason := d.Check()
	assert.True(t, converged)
	assert.Contains(t, reason, "loss improvement")
}

func TestAccuracyPlateau(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(5, 0.001)
	require.NoError(t, err)

	// Loss still falling, accuracy flat.
	losses := []float64{1.0, 0.8, 0.6, 0.4, 0.2}
	for _, loss := range losses {
		d.Update(loss, 0.9, 1.0)
	}

	converged, reason := d.Check()
	assert.True(t, converged)
	assert.Contains(t, reason, "accuracy improvement")
}

func TestGradientNormCriterion(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(5, 0.001)
	require.NoError(t, err)

	// Loss and accuracy still improving, gradient vanishing.
	losses := []float64{1.0, 0.8, 0.6, 0.4, 0.2}
	accs := []float64{0.5, 0.6, 0.7, 0.8, 0.9}
	for i := range losses {
		norm := 1.0
		if i == len(losses)-1 {
			norm = 1e-6
		}
		d.Update(losses[i], accs[i], norm)
	}

	converged, reason := d.Check()
	assert.True(t, converged)
	assert.Contains(t, reason, "gradient norm")
}

func TestTrainingOngoing(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(5, 0.001)
	require.NoError(t, err)

	losses := []float64{1.0, 0.8, 0.6, 0.4, 0.2}
	accs := []float64{0.5, 0.6, 0.7, 0.8, 0.9}
	for i := range losses {
		d.Update(losses[i], accs[i], 1.0)
	}

	converged, reason := d.Check()
	assert.False(t, converged)
	assert.Equal(t, "training ongoing", reason)
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(3, 0.001)
	require.NoError(t, err)

	// Early plateau scrolls out of the window as improvement resumes.
	d.Update(1.0, 0.5, 1.0)
	d.Update(1.0, 0.5, 1.0)
	d.Update(1.0, 0.5, 1.0)

	converged, _ := d.Check()
	assert.True(t, converged)

	d.Update(0.5, 0.7, 1.0)
	d.Update(0.1, 0.9, 1.0)

	converged, reason := d.Check()
	assert.False(t, converged)
	assert.Equal(t, "training ongoing", reason)
}

func TestReset(t *testing.T) {
	t.Parallel()

	d, err := convergence.NewDetector(3, 0.001)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d.Update(1.0, 0.5, 1.0)
	}
	converged, _ := d.Check()
	assert.True(t, converged)

	d.Reset()
	converged, reason := d.Check()
	assert.False(t, converged)
	assert.Equal(t, "insufficient history (0/3)", reason)
}
