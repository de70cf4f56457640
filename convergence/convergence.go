// Package convergence decides whether training has plateaued from a
// rolling history of loss, accuracy and gradient-norm samples.
package convergence

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	DefaultWindowSize = 5
	DefaultThreshold  = 0.001

	// gradNormFloor bounds the gradient-norm criterion from below so a
	// tiny configured threshold cannot demand an unreachable norm.
	gradNormFloor = 1e-5
)

var (
	ErrInvalidWindow    = errors.New("window size must be at least 2")
	ErrInvalidThreshold = errors.New("threshold must be positive")
)

// Detector keeps bounded windows of training signals. The oldest entry
// drops as a new one arrives.
type Detector struct {
	mu         sync.Mutex
	windowSize int
	threshold  float64
	loss       []float64
	accuracy   []float64
	gradNorm   []float64
}

// NewDetector creates a detector over a rolling window. Zero arguments
// select the defaults.
func NewDetector(windowSize int, threshold float64) (*Detector, error) {
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if windowSize < 2 {
		return nil, ErrInvalidWindow
	}
	if threshold < 0 {
		return nil, ErrInvalidThreshold
	}

	return &Detector{
		windowSize: windowSize,
		threshold:  threshold,
	}, nil
}

// Update appends one round's signals to the windows.
func (d *Detector) Update(loss, accuracy, gradientNorm float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.loss = push(d.loss, loss, d.windowSize)
	d.accuracy = push(d.accuracy, accuracy, d.windowSize)
	d.gradNorm = push(d.gradNorm, gradientNorm, d.windowSize)
}

// Check reports whether training has converged and why. The criteria
// are evaluated in order: relative loss improvement, accuracy
// improvement, then latest gradient norm. The first satisfied
// criterion supplies the reason.
func (d *Detector) Check() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.loss) < d.windowSize {
		return false, fmt.Sprintf("insufficient history (%d/%d)", len(d.loss), d.windowSize)
	}

	var lossImprovement float64
	if d.loss[0] > 0 {
		lossImprovement = (d.loss[0] - d.loss[len(d.loss)-1]) / d.loss[0]
	}
	if lossImprovement < d.threshold {
		return true, fmt.Sprintf("loss improvement %.4f below threshold %.4f", lossImprovement, d.threshold)
	}

	accImprovement := d.accuracy[len(d.accuracy)-1] - d.accuracy[0]
	if accImprovement < d.threshold {
		return true, fmt.Sprintf("accuracy improvement %.4f below threshold %.4f", accImprovement, d.threshold)
	}

	normThreshold := math.Max(gradNormFloor, d.threshold*10)
	latestNorm := d.gradNorm[len(d.gradNorm)-1]
	if latestNorm <= normThreshold {
		return true, fmt.Sprintf("gradient norm %.2e below %.2e", latestNorm, normThreshold)
	}

	return false, "training ongoing"
}

// Reset clears the windows between sessions.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.loss = nil
	d.accuracy = nil
	d.gradNorm = nil
}

func push(window []float64, value float64, size int) []float64 {
	window = append(window, value)
	if len(window) > size {
		window = window[len(window)-size:]
	}

	return window
}
