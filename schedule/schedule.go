// Package schedule computes per-round learning rates from a configured
// decay schedule, update staleness and gradient magnitude.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const DefaultInitialRate = 0.1

var (
	ErrUnknownSchedule = errors.New("unknown learning rate schedule")
	ErrInvalidRate     = errors.New("initial rate must be positive")
)

// Schedule is the base decay strategy.
type Schedule uint8

const (
	Constant Schedule = iota
	Step
	Exponential
	Adaptive
)

func (s Schedule) String() string {
	switch s {
	case Constant:
		return "constant"
	case Step:
		return "step"
	case Exponential:
		return "exponential"
	case Adaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// ParseSchedule maps a configured schedule name to its Schedule.
// Unknown names are a construction-time error.
func ParseSchedule(name string) (Schedule, error) {
	switch name {
	case "constant":
		return Constant, nil
	case "step":
		return Step, nil
	case "exponential":
		return Exponential, nil
	case "adaptive":
		return Adaptive, nil
	default:
		return Constant, fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
}

// AdaptiveRate tracks the round counter for a schedule. The counter
// advances exactly once per Rate call.
type AdaptiveRate struct {
	mu       sync.Mutex
	initial  float64
	schedule Schedule
	round    int
}

// NewAdaptiveRate creates a scheduler. A zero initial rate selects
// DefaultInitialRate.
func NewAdaptiveRate(initial float64, schedule Schedule) (*AdaptiveRate, error) {
	if initial == 0 {
		initial = DefaultInitialRate
	}
	if initial < 0 {
		return nil, ErrInvalidRate
	}

	return &AdaptiveRate{
		initial:  initial,
		schedule: schedule,
	}, nil
}

// Rate returns the learning rate for the current round and advances
// the round counter. Stale updates and large gradients both lower the
// returned rate; the constant schedule ignores both.
func (a *AdaptiveRate) Rate(staleness, gradientNorm float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.schedule == Constant {
		a.round++

		return a.initial
	}

	var decay float64
	switch a.schedule {
	case Step:
		decay = math.Pow(0.1, float64(a.round/10))
	case Exponential:
		decay = math.Exp(-float64(a.round) / 100)
	case Adaptive:
		decay = 1.0 / (1.0 + float64(a.round))
	default:
		decay = 1.0
	}

	stalenessFactor := 1.0
	if staleness > 0 {
		stalenessFactor = 1.0 - 0.5*staleness
	}

	normFactor := 1.0
	if gradientNorm > 0 {
		normFactor = 1.0 / (1.0 + gradientNorm)
	}

	a.round++

	return a.initial * decay * stalenessFactor * normFactor
}

// Current returns the base rate for the current round without
// advancing the counter or applying staleness and norm factors.
func (a *AdaptiveRate) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var decay float64
	switch a.schedule {
	case Constant:
		decay = 1.0
	case Step:
		decay = math.Pow(0.1, float64(a.round/10))
	case Exponential:
		decay = math.Exp(-float64(a.round) / 100)
	case Adaptive:
		decay = 1.0 / (1.0 + float64(a.round))
	default:
		decay = 1.0
	}

	return a.initial * decay
}

// Round returns the number of Rate calls since construction or Reset.
func (a *AdaptiveRate) Round() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.round
}

// Reset zeroes the round counter between sessions.
func (a *AdaptiveRate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.round = 0
}
