// Package byzantine flags suspect model updates and produces robust
// aggregates from the remainder.
package byzantine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/x0tta6bl4/meshfl/pkg/vector"
	"github.com/x0tta6bl4/meshfl/update"
)

const (
	// DefaultTolerance is the maximum fraction of senders assumed
	// Byzantine.
	DefaultTolerance = 0.30

	// minDetectionSet is the smallest update set with enough signal to
	// attempt detection.
	minDetectionSet = 4

	// normOutlierFactor flags gradients whose norm exceeds this multiple
	// of the median norm. Bounds the unboundedly-large-gradient attack.
	normOutlierFactor = 10.0

	// distanceSigma is the outlier threshold on mean pairwise distance,
	// in standard deviations. Conservative to keep false positives low
	// in all-honest rounds; a tunable heuristic, not a security bound.
	distanceSigma = 2.5

	// minDistanceOutliers is the smallest distance-outlier group acted
	// on. A single statistical outlier among honest senders is not
	// evidence of attack.
	minDistanceOutliers = 2
)

var (
	ErrNoUpdates        = errors.New("no updates provided for aggregation")
	ErrInvalidTolerance = errors.New("tolerance fraction must be within (0, 1]")
	ErrUnknownMethod    = errors.New("unknown aggregation method")
)

// Method selects how the non-flagged updates are combined.
type Method uint8

const (
	Mean Method = iota
	Median
	GeometricMedian
	Krum
)

func (m Method) String() string {
	switch m {
	case Mean:
		return "mean"
	case Median:
		return "median"
	case GeometricMedian:
		return "geometric_median"
	case Krum:
		return "krum"
	default:
		return "unknown"
	}
}

// ParseMethod maps a configured method name to its Method. Unknown
// names are a construction-time error.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "mean":
		return Mean, nil
	case "median":
		return Median, nil
	case "geometric_median":
		return GeometricMedian, nil
	case "krum":
		return Krum, nil
	default:
		return Mean, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
}

// Detector flags suspect updates via norm- and distance-based outlier
// heuristics. It is stateless per call beyond logging.
type Detector struct {
	tolerance float64
	logger    *slog.Logger
}

// NewDetector creates a detector tolerating at most the given fraction
// of Byzantine senders. A zero tolerance selects DefaultTolerance.
func NewDetector(tolerance float64, logger *slog.Logger) (*Detector, error) {
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	if tolerance < 0 || tolerance > 1 {
		return nil, ErrInvalidTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		tolerance: tolerance,
		logger:    logger,
	}, nil
}

// Detect returns the indices of suspected Byzantine updates. Fewer than
// minDetectionSet updates carry insufficient signal and yield no
// suspects.
func (d *Detector) Detect(updates []update.ModelUpdate) []int {
	n := len(updates)
	if n < minDetectionSet {
		return nil
	}

	gradients := make([][]float64, n)
	norms := make([]float64, n)
	for i, u := range updates {
		gradients[i] = u.Gradient
		norms[i] = u.GradientNorm()
	}

	distances, err := vector.PairwiseDistances(gradients)
	if err != nil {
		d.logger.Warn("skipping detection on malformed update set", slog.Any("error", err))

		return nil
	}

	meanDistances := make([]float64, n)
	for i := range distances {
		mean, _ := vector.Stats(distances[i])
		meanDistances[i] = mean
	}

	// Norm heuristic first: it is the stronger signal and takes
	// precedence over distance outliers.
	var byNorm []int
	if medianNorm := vector.MedianScalar(norms); medianNorm > 0 {
		for i, norm := range norms {
			if norm > medianNorm*normOutlierFactor {
				byNorm = append(byNorm, i)
			}
		}
	}

	mean, std := vector.Stats(meanDistances)
	threshold := mean + distanceSigma*std
	var byDistance []int
	for i, dist := range meanDistances {
		if dist > threshold {
			byDistance = append(byDistance, i)
		}
	}

	var suspects []int
	switch {
	case len(byNorm) > 0:
		suspects = byNorm
	case len(byDistance) >= minDistanceOutliers:
		suspects = byDistance
	}

	if len(suspects) == 0 {
		return nil
	}

	maxDetections := int(float64(n) * d.tolerance)
	if maxDetections < 1 {
		maxDetections = 1
	}
	if len(suspects) > maxDetections {
		suspects = suspects[:maxDetections]
	}

	d.logger.Info("byzantine detection complete",
		slog.Int("flagged", len(suspects)),
		slog.Int("total", n),
	)

	return suspects
}

// FilterAndAggregate removes suspect updates and aggregates the rest
// with the given method, returning the aggregate and the number of
// updates flagged. If every update is flagged it falls back to a
// geometric-median approximation over the full set rather than failing.
func (d *Detector) FilterAndAggregate(updates []update.ModelUpdate, method Method) ([]float64, int, error) {
	if len(updates) == 0 {
		return nil, 0, ErrNoUpdates
	}

	flagged := make(map[int]bool)
	for _, i := range d.Detect(updates) {
		flagged[i] = true
	}

	clean := make([][]float64, 0, len(updates))
	for i, u := range updates {
		if !flagged[i] {
			clean = append(clean, u.Gradient)
		}
	}

	if len(clean) == 0 {
		d.logger.Warn("all updates flagged as byzantine, falling back to median aggregation")
		all := make([][]float64, len(updates))
		for i, u := range updates {
			all[i] = u.Gradient
		}
		gradient, err := geometricMedian(all)

		return gradient, len(flagged), err
	}

	var gradient []float64
	var err error
	switch method {
	case Median:
		gradient, err = vector.Median(clean)
	case GeometricMedian:
		gradient, err = geometricMedian(clean)
	case Krum:
		gradient, err = krum(clean)
	default:
		gradient, err = vector.Mean(clean)
	}

	return gradient, len(flagged), err
}

// geometricMedian approximates the geometric median with the
// coordinate-wise median, which is robust enough for the gradient
// magnitudes seen here and avoids the iterative Weiszfeld solve.
func geometricMedian(gradients [][]float64) ([]float64, error) {
	return vector.Median(gradients)
}

// krum selects the single gradient with minimal summed distance to all
// others.
func krum(gradients [][]float64) ([]float64, error) {
	if len(gradients) == 0 {
		return nil, ErrNoUpdates
	}

	distances, err := vector.PairwiseDistances(gradients)
	if err != nil {
		return nil, err
	}

	best := 0
	bestSum := 0.0
	for i, row := range distances {
		var sum float64
		for _, dist := range row {
			sum += dist
		}
		if i == 0 || sum < bestSum {
			best = i
			bestSum = sum
		}
	}

	return vector.Clone(gradients[best]), nil
}
