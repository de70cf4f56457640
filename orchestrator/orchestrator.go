// Package orchestrator drives federated rounds: it combines buffered
// updates with a Byzantine-robust detector, applies the result to the
// shared model with an adaptive learning rate and tracks convergence
// over the round history.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/x0tta6bl4/meshfl/byzantine"
	"github.com/x0tta6bl4/meshfl/convergence"
	"github.com/x0tta6bl4/meshfl/pkg/vector"
	"github.com/x0tta6bl4/meshfl/schedule"
	"github.com/x0tta6bl4/meshfl/update"
)

const (
	DefaultKThreshold = 0.85
	DefaultMomentum   = 0.9
	DefaultNumZones   = 4
)

var (
	ErrInvalidDimension  = errors.New("model dimension must be positive")
	ErrUnknownKind       = errors.New("unknown orchestrator kind")
	ErrInvalidKThreshold = errors.New("k-threshold must be within (0, 1]")
	ErrInvalidMomentum   = errors.New("momentum must be within [0, 1)")
	ErrInvalidZones      = errors.New("zone count must be positive")
	ErrNoZoneUpdates     = errors.New("no updates for any zone")
)

// Kind selects the aggregation strategy.
type Kind uint8

const (
	Batch Kind = iota
	Streaming
	Hierarchical
)

func (k Kind) String() string {
	switch k {
	case Batch:
		return "batch"
	case Streaming:
		return "streaming"
	case Hierarchical:
		return "hierarchical"
	default:
		return "unknown"
	}
}

// ParseKind maps a configured strategy name to its Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "batch":
		return Batch, nil
	case "streaming":
		return Streaming, nil
	case "hierarchical":
		return Hierarchical, nil
	default:
		return Batch, fmt.Errorf("%w: %s", ErrUnknownKind, name)
	}
}

// RoundStats records the observable outcome of one round.
type RoundStats struct {
	Round           int           `json:"round"`
	Loss            float64       `json:"loss"`
	Accuracy        float64       `json:"accuracy"`
	GradientNorm    float64       `json:"gradient_norm"`
	LearningRate    float64       `json:"learning_rate"`
	Participants    int           `json:"participants"`
	Flagged         int           `json:"flagged"`
	AggregationTime time.Duration `json:"aggregation_time"`
	Duration        time.Duration `json:"duration"`
	CompletedAt     time.Time     `json:"completed_at"`
}

// Orchestrator is the round-driving strategy. Implementations share the
// model, learning-rate and convergence machinery and differ in how
// AggregateUpdates combines a batch.
type Orchestrator interface {
	// AggregateUpdates combines one round's updates into a single
	// gradient. The update set must be non-empty.
	AggregateUpdates(ctx context.Context, updates []update.ModelUpdate) ([]float64, error)

	// ApplyUpdate steps the model against the gradient using the
	// staleness-adjusted learning rate and returns the new model.
	ApplyUpdate(gradient []float64, staleness float64) ([]float64, error)

	// Model returns a copy of the current model parameters.
	Model() []float64

	// Rate previews the learning rate without advancing the schedule.
	Rate() float64

	// ResetRate rewinds the learning-rate schedule to round zero.
	ResetRate()

	// Converged reports whether training has converged and why.
	Converged() (bool, string)

	// RecordStats appends a round outcome and feeds the convergence
	// detector.
	RecordStats(stats RoundStats)

	// History returns the recorded round outcomes, oldest first.
	History() []RoundStats
}

// Options configures an orchestrator. Zero values select defaults.
type Options struct {
	Dimension            int
	InitialRate          float64
	Schedule             schedule.Schedule
	Method               byzantine.Method
	Tolerance            float64
	WindowSize           int
	ConvergenceThreshold float64

	// KThreshold is the fraction of expected updates that triggers
	// early aggregation in the batch strategy.
	KThreshold float64

	// Momentum applies to the streaming strategy's velocity.
	Momentum float64

	// NumZones partitions nodes in the hierarchical strategy.
	NumZones int

	Logger *slog.Logger
}

// New builds the orchestrator for the given kind.
func New(kind Kind, opts Options) (Orchestrator, error) {
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}

	switch kind {
	case Batch:
		return newBatch(b, opts)
	case Streaming:
		return newStreaming(b, opts)
	case Hierarchical:
		return newHierarchical(b, opts)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

type base struct {
	mu       sync.Mutex
	model    []float64
	detector *byzantine.Detector
	method   byzantine.Method
	conv     *convergence.Detector
	rate     *schedule.AdaptiveRate
	history  []RoundStats
	flagged  int
	logger   *slog.Logger
}

func newBase(opts Options) (*base, error) {
	if opts.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	detector, err := byzantine.NewDetector(opts.Tolerance, logger)
	if err != nil {
		return nil, err
	}

	windowSize := opts.WindowSize
	if windowSize == 0 {
		windowSize = convergence.DefaultWindowSize
	}
	threshold := opts.ConvergenceThreshold
	if threshold == 0 {
		threshold = convergence.DefaultThreshold
	}
	conv, err := convergence.NewDetector(windowSize, threshold)
	if err != nil {
		return nil, err
	}

	rate, err := schedule.NewAdaptiveRate(opts.InitialRate, opts.Schedule)
	if err != nil {
		return nil, err
	}

	return &base{
		model:    vector.Zeros(opts.Dimension),
		detector: detector,
		method:   opts.Method,
		conv:     conv,
		rate:     rate,
		logger:   logger,
	}, nil
}

func (b *base) ApplyUpdate(gradient []float64, staleness float64) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(gradient) != len(b.model) {
		return nil, update.ErrDimensionMismatch
	}

	lr := b.rate.Rate(staleness, vector.Norm(gradient))
	for i, g := range gradient {
		b.model[i] -= lr * g
	}

	return vector.Clone(b.model), nil
}

func (b *base) Model() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return vector.Clone(b.model)
}

func (b *base) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rate.Current()
}

func (b *base) ResetRate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rate.Reset()
}

func (b *base) Converged() (bool, string) {
	return b.conv.Check()
}

// noteFlagged accumulates the detector's flag count for the round in
// progress; RecordStats drains it.
func (b *base) noteFlagged(n int) {
	b.mu.Lock()
	b.flagged += n
	b.mu.Unlock()
}

func (b *base) RecordStats(stats RoundStats) {
	b.mu.Lock()
	if stats.Flagged == 0 {
		stats.Flagged = b.flagged
	}
	b.flagged = 0
	b.history = append(b.history, stats)
	b.mu.Unlock()

	b.conv.Update(stats.Loss, stats.Accuracy, stats.GradientNorm)
}

func (b *base) History() []RoundStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]RoundStats, len(b.history))
	copy(out, b.history)

	return out
}
