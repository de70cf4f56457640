package update_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/x0tta6bl4/meshfl/update"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		u    update.ModelUpdate
		dim  int
		err  error
	}{
		{
			name: "valid",
			u:    update.ModelUpdate{NodeID: "node-1", Gradient: []float64{1, 2, 3}},
			dim:  3,
		},
		{
			name: "valid without dimension check",
			u:    update.ModelUpdate{NodeID: "node-1", Gradient: []float64{1}},
		},
		{
			name: "missing node id",
			u:    update.ModelUpdate{Gradient: []float64{1}},
			dim:  1,
			err:  update.ErrEmptyNodeID,
		},
		{
			name: "empty gradient",
			u:    update.ModelUpdate{NodeID: "node-1"},
			dim:  1,
			err:  update.ErrEmptyGradient,
		},
		{
			name: "wrong shape",
			u:    update.ModelUpdate{NodeID: "node-1", Gradient: []float64{1, 2}},
			dim:  3,
			err:  update.ErrDimensionMismatch,
		},
		{
			name: "negative staleness",
			u:    update.ModelUpdate{NodeID: "node-1", Gradient: []float64{1}, Staleness: -0.1},
			dim:  1,
			err:  update.ErrInvalidStaleness,
		},
		{
			name: "staleness above one",
			u:    update.ModelUpdate{NodeID: "node-1", Gradient: []float64{1}, Staleness: 1.1},
			dim:  1,
			err:  update.ErrInvalidStaleness,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.u.Validate(tc.dim)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMeanStaleness(t *testing.T) {
	t.Parallel()

	assert.Zero(t, update.MeanStaleness(nil))

	updates := []update.ModelUpdate{
		{Staleness: 0.2},
		{Staleness: 0.4},
	}
	assert.InDelta(t, 0.3, update.MeanStaleness(updates), 1e-9)
}

func TestGradientNorm(t *testing.T) {
	t.Parallel()

	u := update.ModelUpdate{Gradient: []float64{3, 4}}
	assert.InDelta(t, 5.0, u.GradientNorm(), 1e-9)
}
