// Package aggregator combines per-round model updates into a single
// gradient weighted by network link quality and data volume. It owns
// the connectivity table and the per-round pending-update buffers; all
// mutation goes through its methods.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/pkg/vector"
	"github.com/x0tta6bl4/meshfl/update"
)

const (
	DefaultMinParticipants     = 2
	DefaultConnectivityTimeout = 30 * time.Second
	DefaultChurnThreshold      = 0.3

	// robustMinUpdates is the smallest update set the median-based
	// robust path can work with; below it the plain weighted average is
	// used.
	robustMinUpdates = 3
)

var (
	ErrInsufficientParticipants = errors.New("insufficient participants for aggregation")
	ErrRoundClosed              = errors.New("round already aggregated")
	ErrNodeNotFound             = errors.New("node not registered")
)

// Combiner combines one round's updates given the normalized per-node
// weights. It lets callers swap in their own strategy while the
// aggregator keeps ownership of weighting and round bookkeeping. The
// context is the round's: cancelling it cancels the combination.
type Combiner func(ctx context.Context, updates []update.ModelUpdate, weights map[string]float64) ([]float64, error)

// Config tunes an Aggregator. Zero values select the defaults.
type Config struct {
	// Dimension is the run dimensionality; updates of any other shape
	// are rejected at AddUpdate. Zero disables the check.
	Dimension           int
	MinParticipants     int
	ByzantineRobust     bool
	ConnectivityTimeout time.Duration
	ChurnThreshold      float64

	// Combiner overrides the built-in combination strategies when set.
	Combiner Combiner
}

// RoundMetrics describes one aggregated round.
type RoundMetrics struct {
	ChurnRate         float64 `json:"churn_rate"`
	ParticipationRate float64 `json:"participation_rate"`
	AvgLinkQuality    float64 `json:"avg_link_quality"`
	MeanStaleness     float64 `json:"mean_staleness"`
}

// Result is the output of one round's aggregation, produced at most
// once per round number.
type Result struct {
	RoundNumber  int                `json:"round_number"`
	Gradient     []float64          `json:"gradient"`
	Participants []string           `json:"participants"`
	TotalSamples int                `json:"total_samples"`
	Weights      map[string]float64 `json:"weights"`
	Metrics      RoundMetrics       `json:"metrics"`
}

// Metrics is a point-in-time snapshot of aggregator counters.
type Metrics struct {
	TotalAggregations int     `json:"total_aggregations"`
	TotalUpdates      int     `json:"total_updates_processed"`
	AvgParticipation  float64 `json:"avg_participation"`
	ChurnEvents       int     `json:"node_churn_events"`
	ActiveNodes       int     `json:"active_nodes"`
	PendingRounds     int     `json:"pending_rounds"`
}

// NodeStatus is the externally visible view of one node's connectivity.
type NodeStatus struct {
	LinkQuality float64   `json:"link_quality"`
	LatencyMS   float64   `json:"latency_ms"`
	HopCount    int       `json:"hop_count"`
	Weight      float64   `json:"weight"`
	LastUpdated time.Time `json:"last_updated"`
}

// Aggregator is safe for concurrent use. Registration, update buffering
// and aggregation are each atomic with respect to a single round.
type Aggregator struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	nodes   map[string]connectivity.NodeConnectivity
	pending map[int][]update.ModelUpdate
	closed  map[int]bool

	totalAggregations int
	totalUpdates      int
	avgParticipation  float64
	churnEvents       int
}

// New creates an Aggregator from cfg.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.MinParticipants == 0 {
		cfg.MinParticipants = DefaultMinParticipants
	}
	if cfg.ConnectivityTimeout == 0 {
		cfg.ConnectivityTimeout = DefaultConnectivityTimeout
	}
	if cfg.ChurnThreshold == 0 {
		cfg.ChurnThreshold = DefaultChurnThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		cfg:     cfg,
		logger:  logger,
		nodes:   make(map[string]connectivity.NodeConnectivity),
		pending: make(map[int][]update.ModelUpdate),
		closed:  make(map[int]bool),
	}
}

// RegisterNode adds or refreshes a node's connectivity record.
func (a *Aggregator) RegisterNode(conn connectivity.NodeConnectivity) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	if conn.LastUpdated.IsZero() {
		conn.LastUpdated = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.nodes[conn.NodeID] = conn
	a.logger.Debug("registered node",
		slog.String("node_id", conn.NodeID),
		slog.Float64("link_quality", conn.LinkQuality),
	)

	return nil
}

// UnregisterNode removes a node and records a churn event.
func (a *Aggregator) UnregisterNode(nodeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.nodes[nodeID]; !ok {
		return ErrNodeNotFound
	}

	delete(a.nodes, nodeID)
	a.churnEvents++
	a.logger.Info("unregistered node", slog.String("node_id", nodeID))

	return nil
}

// UpdateConnectivity applies an explicit connectivity update to a
// registered node and refreshes its timestamp.
func (a *Aggregator) UpdateConnectivity(nodeID string, upd connectivity.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, ok := a.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}

	conn = upd.Apply(conn, time.Now())
	if err := conn.Validate(); err != nil {
		return err
	}
	a.nodes[nodeID] = conn

	return nil
}

// AddUpdate buffers a model update for its round. Malformed updates are
// rejected here and never reach the round buffer.
func (a *Aggregator) AddUpdate(u update.ModelUpdate) error {
	if err := u.Validate(a.cfg.Dimension); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed[u.RoundNumber] {
		return ErrRoundClosed
	}

	a.pending[u.RoundNumber] = append(a.pending[u.RoundNumber], u)
	a.totalUpdates++

	return nil
}

// PendingCount returns the number of updates buffered for a round.
func (a *Aggregator) PendingCount(round int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending[round])
}

// ExpectedParticipants returns nodes whose connectivity has been
// refreshed within the configured timeout.
func (a *Aggregator) ExpectedParticipants(round int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.expectedLocked()
}

func (a *Aggregator) expectedLocked() []string {
	now := time.Now()
	active := make([]string, 0, len(a.nodes))
	for id, conn := range a.nodes {
		if !conn.Stale(a.cfg.ConnectivityTimeout, now) {
			active = append(active, id)
		}
	}
	sort.Strings(active)

	return active
}

// Aggregate combines the round's buffered updates. It requires the
// configured participant quorum, produces at most one Result per round
// and clears the buffer afterwards; a second call for the same round
// fails with ErrRoundClosed.
func (a *Aggregator) Aggregate(ctx context.Context, round int) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed[round] {
		return Result{}, ErrRoundClosed
	}

	updates := a.pending[round]
	if len(updates) < a.cfg.MinParticipants {
		a.logger.Warn("insufficient participants",
			slog.Int("round", round),
			slog.Int("buffered", len(updates)),
			slog.Int("required", a.cfg.MinParticipants),
		)

		return Result{}, ErrInsufficientParticipants
	}

	expected := a.expectedLocked()
	participants := make([]string, 0, len(updates))
	seen := make(map[string]bool)
	for _, u := range updates {
		participants = append(participants, u.NodeID)
		seen[u.NodeID] = true
	}

	var overlap int
	for _, id := range expected {
		if seen[id] {
			overlap++
		}
	}
	expectedCount := len(expected)
	if expectedCount == 0 {
		expectedCount = 1
	}
	churnRate := 1.0 - float64(overlap)/float64(expectedCount)

	if churnRate > a.cfg.ChurnThreshold {
		a.logger.Warn("high churn rate",
			slog.Int("round", round),
			slog.Float64("churn_rate", churnRate),
			slog.Float64("threshold", a.cfg.ChurnThreshold),
		)
	}

	weights := a.calculateWeights(updates)

	var gradient []float64
	var err error
	switch {
	case a.cfg.Combiner != nil:
		gradient, err = a.cfg.Combiner(ctx, updates, weights)
	case a.cfg.ByzantineRobust:
		gradient, err = a.robustAggregate(updates, weights)
	default:
		gradient, err = weightedAverage(updates, weights)
	}
	if err != nil {
		return Result{}, err
	}

	totalSamples := 0
	var qualitySum float64
	var qualityCount int
	for _, u := range updates {
		totalSamples += u.NumSamples
		if conn, ok := a.nodes[u.NodeID]; ok {
			qualitySum += conn.LinkQuality
			qualityCount++
		}
	}
	avgQuality := 0.0
	if qualityCount > 0 {
		avgQuality = qualitySum / float64(qualityCount)
	}

	result := Result{
		RoundNumber:  round,
		Gradient:     gradient,
		Participants: participants,
		TotalSamples: totalSamples,
		Weights:      weights,
		Metrics: RoundMetrics{
			ChurnRate:         churnRate,
			ParticipationRate: float64(len(participants)) / float64(expectedCount),
			AvgLinkQuality:    avgQuality,
			MeanStaleness:     update.MeanStaleness(updates),
		},
	}

	a.totalAggregations++
	a.avgParticipation = (a.avgParticipation*float64(a.totalAggregations-1) +
		float64(len(participants))) / float64(a.totalAggregations)

	delete(a.pending, round)
	a.closed[round] = true

	a.logger.Info("round aggregated",
		slog.Int("round", round),
		slog.Int("participants", len(participants)),
		slog.Int("total_samples", totalSamples),
		slog.Float64("avg_link_quality", avgQuality),
	)

	return result, nil
}

// Metrics returns a snapshot of the aggregator counters.
func (a *Aggregator) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Metrics{
		TotalAggregations: a.totalAggregations,
		TotalUpdates:      a.totalUpdates,
		AvgParticipation:  a.avgParticipation,
		ChurnEvents:       a.churnEvents,
		ActiveNodes:       len(a.nodes),
		PendingRounds:     len(a.pending),
	}
}

// NodeStatus returns a copy of the connectivity table keyed by node id.
func (a *Aggregator) NodeStatus() map[string]NodeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := make(map[string]NodeStatus, len(a.nodes))
	for id, conn := range a.nodes {
		status[id] = NodeStatus{
			LinkQuality: conn.LinkQuality,
			LatencyMS:   conn.LatencyMS,
			HopCount:    conn.HopCount,
			Weight:      conn.Weight(),
			LastUpdated: conn.LastUpdated,
		}
	}

	return status
}

// calculateWeights derives the normalized per-node weights from
// connectivity and data volume. Unknown nodes get a neutral
// connectivity weight so late joiners still contribute.
func (a *Aggregator) calculateWeights(updates []update.ModelUpdate) map[string]float64 {
	weights := make(map[string]float64, len(updates))
	for _, u := range updates {
		connWeight := 1.0
		if conn, ok := a.nodes[u.NodeID]; ok {
			connWeight = conn.Weight()
		}
		weights[u.NodeID] = connWeight * math.Sqrt(float64(u.NumSamples))
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for id := range weights {
			weights[id] /= total
		}
	}

	return weights
}

func weightedAverage(updates []update.ModelUpdate, weights map[string]float64) ([]float64, error) {
	if len(updates) == 0 {
		return nil, ErrInsufficientParticipants
	}

	out := vector.Zeros(len(updates[0].Gradient))
	for _, u := range updates {
		w := weights[u.NodeID]
		for i, x := range u.Gradient {
			out[i] += w * x
		}
	}

	return out, nil
}

// robustAggregate takes the coordinate-wise median, then re-weights
// using only the half of the updates closest to it. A zero weight sum
// falls back to the median itself; fewer than robustMinUpdates falls
// back to the plain weighted average.
func (a *Aggregator) robustAggregate(updates []update.ModelUpdate, weights map[string]float64) ([]float64, error) {
	if len(updates) < robustMinUpdates {
		return weightedAverage(updates, weights)
	}

	gradients := make([][]float64, len(updates))
	for i, u := range updates {
		gradients[i] = u.Gradient
	}

	median, err := vector.Median(gradients)
	if err != nil {
		return nil, err
	}

	type scored struct {
		index    int
		distance float64
	}
	scores := make([]scored, len(updates))
	for i, g := range gradients {
		d, err := vector.Distance(g, median)
		if err != nil {
			return nil, err
		}
		scores[i] = scored{index: i, distance: d}
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].distance < scores[j].distance
	})

	k := (len(updates) + 1) / 2
	sum := vector.Zeros(len(median))
	var weightSum float64
	for _, s := range scores[:k] {
		u := updates[s.index]
		w := weights[u.NodeID]
		for i, x := range u.Gradient {
			sum[i] += w * x
		}
		weightSum += w
	}

	if weightSum <= 0 {
		return median, nil
	}
	for i := range sum {
		sum[i] /= weightSum
	}

	return sum, nil
}
