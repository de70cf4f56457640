package orchestrator

import (
	"context"
	"log/slog"
	"math"

	"github.com/x0tta6bl4/meshfl/pkg/vector"
	"github.com/x0tta6bl4/meshfl/update"
)

// batchAsync aggregates once a K-fraction of the expected updates has
// arrived rather than waiting for the full cohort. Stragglers past the
// threshold are simply left out of the round.
type batchAsync struct {
	*base
	kThreshold float64
}

func newBatch(b *base, opts Options) (*batchAsync, error) {
	k := opts.KThreshold
	if k == 0 {
		k = DefaultKThreshold
	}
	if k <= 0 || k > 1 {
		return nil, ErrInvalidKThreshold
	}

	return &batchAsync{
		base:       b,
		kThreshold: k,
	}, nil
}

// ShouldAggregate reports whether received updates cover the K-fraction
// of the expected cohort.
func (o *batchAsync) ShouldAggregate(received, expected int) bool {
	if expected <= 0 {
		return received > 0
	}

	need := int(math.Ceil(o.kThreshold * float64(expected)))
	if need < 1 {
		need = 1
	}

	return received >= need
}

// AggregateUpdates combines the batch with the configured robust
// method. An empty batch yields a zero gradient so the round can still
// close.
func (o *batchAsync) AggregateUpdates(_ context.Context, updates []update.ModelUpdate) ([]float64, error) {
	if len(updates) == 0 {
		o.logger.Warn("aggregating empty batch, emitting zero gradient")

		return vector.Zeros(len(o.Model())), nil
	}

	gradient, flagged, err := o.detector.FilterAndAggregate(updates, o.method)
	if err != nil {
		return nil, err
	}
	o.noteFlagged(flagged)

	o.logger.Debug("batch aggregated",
		slog.Int("updates", len(updates)),
		slog.Int("flagged", flagged),
		slog.String("method", o.method.String()),
	)

	return gradient, nil
}
