package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x0tta6bl4/meshfl/byzantine"
	"github.com/x0tta6bl4/meshfl/orchestrator"
	"github.com/x0tta6bl4/meshfl/schedule"
	"github.com/x0tta6bl4/meshfl/update"
)

func makeUpdates(n, dim int, value float64) []update.ModelUpdate {
	updates := make([]update.ModelUpdate, n)
	for i := range updates {
		g := make([]float64, dim)
		for j := range g {
			g[j] = value
		}
		updates[i] = update.ModelUpdate{
			NodeID:      fmt.Sprintf("node-%d", i),
			Gradient:    g,
			RoundNumber: 1,
			NumSamples:  10,
		}
	}

	return updates
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		kind orchestrator.Kind
		err  error
	}{
		{name: "batch", kind: orchestrator.Batch},
		{name: "streaming", kind: orchestrator.Streaming},
		{name: "hierarchical", kind: orchestrator.Hierarchical},
		{name: "bogus", err: orchestrator.ErrUnknownKind},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kind, err := orchestrator.ParseKind(tc.name)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.name, kind.String())
		})
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	t.Parallel()

	_, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidDimension)

	_, err = orchestrator.New(orchestrator.Batch, orchestrator.Options{Dimension: 4, KThreshold: 1.5})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidKThreshold)

	_, err = orchestrator.New(orchestrator.Streaming, orchestrator.Options{Dimension: 4, Momentum: 1.0})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidMomentum)

	_, err = orchestrator.New(orchestrator.Hierarchical, orchestrator.Options{Dimension: 4, NumZones: -1})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidZones)
}

func TestBatchAggregatesUpdates(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{
		Dimension: 4,
		Method:    byzantine.Median,
	})
	require.NoError(t, err)

	gradient, err := o.AggregateUpdates(context.Background(), makeUpdates(5, 4, 0.2))
	require.NoError(t, err)
	require.Len(t, gradient, 4)
	for _, x := range gradient {
		assert.InDelta(t, 0.2, x, 1e-9)
	}
}

func TestBatchEmptyYieldsZeroGradient(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{Dimension: 3})
	require.NoError(t, err)

	gradient, err := o.AggregateUpdates(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, gradient)
}

func TestApplyUpdateStepsModel(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{
		Dimension:   2,
		InitialRate: 0.5,
		Schedule:    schedule.Constant,
	})
	require.NoError(t, err)

	model, err := o.ApplyUpdate([]float64{1.0, 2.0}, 0)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, model[0], 1e-9)
	assert.InDelta(t, -1.0, model[1], 1e-9)

	_, err = o.ApplyUpdate([]float64{1.0}, 0)
	assert.ErrorIs(t, err, update.ErrDimensionMismatch)
}

func TestRateDoesNotAdvanceSchedule(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{Dimension: 2})
	require.NoError(t, err)

	first := o.Rate()
	second := o.Rate()
	assert.Equal(t, first, second)
}

func TestStreamingAccumulatesVelocity(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Streaming, orchestrator.Options{
		Dimension: 2,
		Momentum:  0.5,
	})
	require.NoError(t, err)

	ctx := context.Background()

	v1, err := o.AggregateUpdates(ctx, makeUpdates(2, 2, 1.0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v1[0], 1e-9)

	// velocity = 0.5*1.0 + 1.0 = 1.5, normalized by 2 applied batches.
	v2, err := o.AggregateUpdates(ctx, makeUpdates(2, 2, 1.0))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v2[0], 1e-9)
}

func TestHierarchicalAggregates(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Hierarchical, orchestrator.Options{
		Dimension: 3,
		NumZones:  2,
		Method:    byzantine.Mean,
	})
	require.NoError(t, err)

	gradient, err := o.AggregateUpdates(context.Background(), makeUpdates(6, 3, 0.4))
	require.NoError(t, err)
	require.Len(t, gradient, 3)
	for _, x := range gradient {
		assert.InDelta(t, 0.4, x, 1e-9)
	}

	_, err = o.AggregateUpdates(context.Background(), nil)
	assert.ErrorIs(t, err, orchestrator.ErrNoZoneUpdates)
}

func TestRecordStatsCarriesFlaggedCount(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{
		Dimension: 4,
		Method:    byzantine.Mean,
	})
	require.NoError(t, err)

	updates := makeUpdates(7, 4, 0.01)
	updates = append(updates, update.ModelUpdate{
		NodeID:      "attacker",
		Gradient:    []float64{5, 5, 5, 5},
		RoundNumber: 1,
		NumSamples:  10,
	})

	_, err = o.AggregateUpdates(context.Background(), updates)
	require.NoError(t, err)

	o.RecordStats(orchestrator.RoundStats{
		Round:           1,
		LearningRate:    0.1,
		AggregationTime: 5 * time.Millisecond,
		Duration:        20 * time.Millisecond,
	})

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Flagged)
	assert.InDelta(t, 0.1, history[0].LearningRate, 1e-9)
	assert.Equal(t, 5*time.Millisecond, history[0].AggregationTime)

	// The counter is per round: the next record starts clean.
	o.RecordStats(orchestrator.RoundStats{Round: 2})
	assert.Equal(t, 0, o.History()[1].Flagged)
}

func TestConvergenceTracking(t *testing.T) {
	t.Parallel()

	o, err := orchestrator.New(orchestrator.Batch, orchestrator.Options{
		Dimension:            2,
		WindowSize:           3,
		ConvergenceThreshold: 0.01,
	})
	require.NoError(t, err)

	converged, _ := o.Converged()
	assert.False(t, converged)

	for i := 0; i < 3; i++ {
		o.RecordStats(orchestrator.RoundStats{
			Round:        i,
			Loss:         0.5,
			Accuracy:     0.9,
			GradientNorm: 1.0,
		})
	}

	converged, reason := o.Converged()
	assert.True(t, converged)
	assert.NotEmpty(t, reason)
	assert.Len(t, o.History(), 3)
}
