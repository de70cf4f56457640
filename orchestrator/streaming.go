package orchestrator

import (
	"context"
	"sync"

	"github.com/x0tta6bl4/meshfl/update"
)

// streaming folds each batch into a momentum velocity so updates can be
// applied continuously instead of in strict rounds. The returned
// gradient is the velocity normalized by the number of batches applied,
// which keeps the magnitude stable as the velocity accumulates.
type streaming struct {
	*base
	momentum float64

	velMu    sync.Mutex
	velocity []float64
	applied  int
}

func newStreaming(b *base, opts Options) (*streaming, error) {
	m := opts.Momentum
	if m == 0 {
		m = DefaultMomentum
	}
	if m < 0 || m >= 1 {
		return nil, ErrInvalidMomentum
	}

	return &streaming{
		base:     b,
		momentum: m,
		velocity: make([]float64, opts.Dimension),
	}, nil
}

func (o *streaming) AggregateUpdates(_ context.Context, updates []update.ModelUpdate) ([]float64, error) {
	gradient, flagged, err := o.detector.FilterAndAggregate(updates, o.method)
	if err != nil {
		return nil, err
	}
	o.noteFlagged(flagged)

	o.velMu.Lock()
	defer o.velMu.Unlock()

	if len(gradient) != len(o.velocity) {
		return nil, update.ErrDimensionMismatch
	}
	o.applied++
	out := make([]float64, len(o.velocity))
	for i, g := range gradient {
		o.velocity[i] = o.momentum*o.velocity[i] + g
		out[i] = o.velocity[i] / float64(o.applied)
	}

	return out, nil
}
