// Package update defines the per-round model update record contributed
// by participant nodes.
package update

import (
	"context"
	"errors"
	"time"

	"github.com/x0tta6bl4/meshfl/pkg/vector"
)

var (
	ErrEmptyNodeID       = errors.New("empty node id")
	ErrEmptyGradient     = errors.New("empty gradient")
	ErrDimensionMismatch = errors.New("gradient dimension does not match run dimensionality")
	ErrInvalidStaleness  = errors.New("staleness must be within [0, 1]")
)

// ModelUpdate is one node's contribution for a round. It is immutable
// once constructed.
type ModelUpdate struct {
	NodeID      string    `json:"node_id"`
	Gradient    []float64 `json:"gradient"`
	SVID        string    `json:"svid,omitempty"`
	Signature   []byte    `json:"signature,omitempty"`
	RoundNumber int       `json:"round_number"`
	NumSamples  int       `json:"num_samples"`
	SubmittedAt time.Time `json:"submitted_at"`
	Staleness   float64   `json:"staleness"`
}

// Validate checks the update against the run dimensionality. A zero dim
// skips the shape check.
func (u ModelUpdate) Validate(dim int) error {
	if u.NodeID == "" {
		return ErrEmptyNodeID
	}
	if len(u.Gradient) == 0 {
		return ErrEmptyGradient
	}
	if dim > 0 && len(u.Gradient) != dim {
		return ErrDimensionMismatch
	}
	if u.Staleness < 0 || u.Staleness > 1 {
		return ErrInvalidStaleness
	}

	return nil
}

// GradientNorm returns the L2 norm of the update's gradient.
func (u ModelUpdate) GradientNorm() float64 {
	return vector.Norm(u.Gradient)
}

// CredentialVerifier validates the sender identity and signature of an
// update before it is admitted to a round buffer. Implementations are
// external to this engine.
type CredentialVerifier interface {
	Verify(ctx context.Context, u ModelUpdate) error
}

// MeanStaleness returns the average staleness across updates, 0 when
// the slice is empty.
func MeanStaleness(updates []ModelUpdate) float64 {
	if len(updates) == 0 {
		return 0
	}

	var sum float64
	for _, u := range updates {
		sum += u.Staleness
	}

	return sum / float64(len(updates))
}
