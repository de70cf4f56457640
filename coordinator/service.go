package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/byzantine"
	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/orchestrator"
	pkgerrors "github.com/x0tta6bl4/meshfl/pkg/errors"
	"github.com/x0tta6bl4/meshfl/pkg/vector"
	"github.com/x0tta6bl4/meshfl/schedule"
	"github.com/x0tta6bl4/meshfl/update"
)

const (
	DefaultRoundTimeout    = 30 * time.Second
	DefaultRoundInterval   = time.Second
	DefaultRefreshInterval = 10 * time.Second

	quorumPollInterval = 100 * time.Millisecond
)

var (
	ErrAlreadyStarted = errors.New("coordinator already started")
	ErrNotStarted     = errors.New("coordinator not started")

	// ErrInsufficientEligible fails a round before any update is
	// collected when too few expected participants have usable links.
	ErrInsufficientEligible = errors.New("insufficient eligible participants")
)

// Config tunes the coordinator. Zero values select defaults.
type Config struct {
	Dimension            int
	MinParticipants      int
	ByzantineRobust      bool
	Tolerance            float64
	Method               byzantine.Method
	Kind                 orchestrator.Kind
	InitialRate          float64
	Schedule             schedule.Schedule
	WindowSize           int
	ConvergenceThreshold float64
	KThreshold           float64
	Momentum             float64
	NumZones             int

	// LinkQualityThreshold gates round participation: expected nodes
	// below it do not count toward the quorum, and when fewer eligible
	// nodes remain than MinParticipants the round fails up front. The
	// coordinator's own contribution is withheld under the same bar.
	LinkQualityThreshold float64

	// WasmModule, when set, holds a compiled WebAssembly aggregation
	// module that replaces the built-in combination strategies.
	WasmModule []byte

	// OnRoundComplete, when set, is invoked after every finished round,
	// successful or not. Used to announce rounds on the mesh broker.
	OnRoundComplete func(Round)

	ConnectivityTimeout time.Duration
	ChurnThreshold      float64
	RoundTimeout        time.Duration
	RoundInterval       time.Duration
	RefreshInterval     time.Duration
}

type evaluation struct {
	loss     float64
	accuracy float64
}

type service struct {
	cfg      Config
	logger   *slog.Logger
	orch     orchestrator.Orchestrator
	agg      *aggregator.Aggregator
	provider GradientProvider
	verifier update.CredentialVerifier
	metrics  connectivity.MetricsProvider

	mu          sync.Mutex
	round       int
	rounds      []Round
	pendingEval *evaluation

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// NewService builds a coordinator. provider, verifier and metrics may
// be nil; each disables the corresponding behavior.
func NewService(cfg Config, provider GradientProvider, verifier update.CredentialVerifier, metrics connectivity.MetricsProvider, logger *slog.Logger) (Service, error) {
	if cfg.RoundTimeout == 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	if cfg.RoundInterval == 0 {
		cfg.RoundInterval = DefaultRoundInterval
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	orch, err := orchestrator.New(cfg.Kind, orchestrator.Options{
		Dimension:            cfg.Dimension,
		InitialRate:          cfg.InitialRate,
		Schedule:             cfg.Schedule,
		Method:               cfg.Method,
		Tolerance:            cfg.Tolerance,
		WindowSize:           cfg.WindowSize,
		ConvergenceThreshold: cfg.ConvergenceThreshold,
		KThreshold:           cfg.KThreshold,
		Momentum:             cfg.Momentum,
		NumZones:             cfg.NumZones,
		Logger:               logger,
	})
	if err != nil {
		return nil, err
	}

	aggCfg := aggregator.Config{
		Dimension:           cfg.Dimension,
		MinParticipants:     cfg.MinParticipants,
		ByzantineRobust:     cfg.ByzantineRobust,
		ConnectivityTimeout: cfg.ConnectivityTimeout,
		ChurnThreshold:      cfg.ChurnThreshold,
	}
	// Streaming and hierarchical strategies combine the raw updates
	// themselves; the batch kind keeps the topology-weighted path. A
	// configured wasm module overrides both.
	if cfg.Kind != orchestrator.Batch {
		aggCfg.Combiner = func(ctx context.Context, updates []update.ModelUpdate, _ map[string]float64) ([]float64, error) {
			return orch.AggregateUpdates(ctx, updates)
		}
	}
	if len(cfg.WasmModule) > 0 {
		wasm := orchestrator.NewWasmAggregator(cfg.WasmModule, logger)
		aggCfg.Combiner = func(ctx context.Context, updates []update.ModelUpdate, _ map[string]float64) ([]float64, error) {
			round := 0
			if len(updates) > 0 {
				round = updates[0].RoundNumber
			}

			return wasm.Aggregate(ctx, round, updates)
		}
	}

	return &service{
		cfg:      cfg,
		logger:   logger,
		orch:     orch,
		agg:      aggregator.New(aggCfg, logger),
		provider: provider,
		verifier: verifier,
		metrics:  metrics,
	}, nil
}

func (svc *service) Start(ctx context.Context) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.refreshDone != nil {
		return ErrAlreadyStarted
	}
	if svc.metrics == nil {
		svc.logger.Info("no connectivity metrics provider, refresh loop disabled")
		svc.refreshDone = make(chan struct{})
		close(svc.refreshDone)
		svc.refreshCancel = func() {}

		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	svc.refreshCancel = cancel
	svc.refreshDone = done

	go svc.refreshLoop(loopCtx, done)

	return nil
}

func (svc *service) Stop(ctx context.Context) error {
	svc.mu.Lock()
	cancel := svc.refreshCancel
	done := svc.refreshDone
	svc.mu.Unlock()

	if done == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (svc *service) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(svc.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.refreshConnectivity(ctx)
		}
	}
}

// refreshConnectivity pulls live link metrics for every known node. A
// failed lookup leaves the previous record in place.
func (svc *service) refreshConnectivity(ctx context.Context) {
	for id := range svc.agg.NodeStatus() {
		conn, err := svc.metrics.GetConnectivity(ctx, id)
		if err != nil {
			svc.logger.Debug("connectivity refresh skipped",
				slog.String("node_id", id),
				slog.Any("error", err),
			)

			continue
		}
		conn.NodeID = id
		if conn.LastUpdated.IsZero() {
			conn.LastUpdated = time.Now()
		}
		if err := svc.agg.RegisterNode(conn); err != nil {
			svc.logger.Warn("connectivity refresh rejected",
				slog.String("node_id", id),
				slog.Any("error", err),
			)
		}
	}
}

func (svc *service) RegisterNode(ctx context.Context, conn connectivity.NodeConnectivity) error {
	if err := svc.agg.RegisterNode(conn); err != nil {
		return errors.Join(pkgerrors.ErrValidation, err)
	}

	return nil
}

func (svc *service) UnregisterNode(ctx context.Context, nodeID string) error {
	if err := svc.agg.UnregisterNode(nodeID); err != nil {
		return errors.Join(pkgerrors.ErrNotFound, err)
	}

	return nil
}

func (svc *service) UpdateConnectivity(ctx context.Context, nodeID string, upd connectivity.Update) error {
	err := svc.agg.UpdateConnectivity(nodeID, upd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, aggregator.ErrNodeNotFound):
		return errors.Join(pkgerrors.ErrNotFound, err)
	default:
		return errors.Join(pkgerrors.ErrValidation, err)
	}
}

func (svc *service) SubmitUpdate(ctx context.Context, u update.ModelUpdate) error {
	if svc.verifier != nil {
		if err := svc.verifier.Verify(ctx, u); err != nil {
			return errors.Join(pkgerrors.ErrValidation, err)
		}
	}
	if u.SubmittedAt.IsZero() {
		u.SubmittedAt = time.Now()
	}

	err := svc.agg.AddUpdate(u)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, aggregator.ErrRoundClosed):
		return errors.Join(pkgerrors.ErrConflict, err)
	default:
		return errors.Join(pkgerrors.ErrValidation, err)
	}
}

func (svc *service) RecordEvaluation(ctx context.Context, loss, accuracy float64) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.pendingEval = &evaluation{loss: loss, accuracy: accuracy}

	return nil
}

func (svc *service) RunRound(ctx context.Context) (Round, error) {
	svc.mu.Lock()
	svc.round++
	round := svc.round
	svc.mu.Unlock()

	rec := Round{
		Number:    round,
		Status:    Running,
		StartedAt: time.Now(),
	}

	expected := svc.agg.ExpectedParticipants(round)
	eligible := svc.eligibleCount(expected)
	if need := svc.minParticipants(); eligible < need {
		svc.logger.Warn("round aborted, too few eligible participants",
			slog.Int("round", round),
			slog.Int("eligible", eligible),
			slog.Int("required", need),
		)

		return svc.finishRound(rec, aggregator.Result{}, ErrInsufficientEligible)
	}

	if svc.provider != nil {
		svc.submitLocal(ctx, round)
	}

	if err := svc.waitForQuorum(ctx, round, eligible); err != nil {
		return svc.finishRound(rec, aggregator.Result{}, err)
	}

	aggStart := time.Now()
	result, err := svc.agg.Aggregate(ctx, round)
	if err != nil {
		return svc.finishRound(rec, result, err)
	}
	aggTime := time.Since(aggStart)

	if _, err := svc.orch.ApplyUpdate(result.Gradient, result.Metrics.MeanStaleness); err != nil {
		return svc.finishRound(rec, result, err)
	}

	svc.mu.Lock()
	eval := svc.pendingEval
	svc.pendingEval = nil
	svc.mu.Unlock()

	if eval != nil {
		svc.orch.RecordStats(orchestrator.RoundStats{
			Round:           round,
			Loss:            eval.loss,
			Accuracy:        eval.accuracy,
			GradientNorm:    vector.Norm(result.Gradient),
			Participants:    len(result.Participants),
			LearningRate:    svc.orch.Rate(),
			AggregationTime: aggTime,
			Duration:        time.Since(rec.StartedAt),
			CompletedAt:     time.Now(),
		})
	}

	return svc.finishRound(rec, result, nil)
}

func (svc *service) finishRound(rec Round, result aggregator.Result, err error) (Round, error) {
	rec.CompletedAt = time.Now()
	if err != nil {
		rec.Status = Failed
		rec.Error = err.Error()
	} else {
		rec.Status = Completed
		rec.Result = result
	}

	svc.mu.Lock()
	svc.rounds = append(svc.rounds, rec)
	svc.mu.Unlock()

	if svc.cfg.OnRoundComplete != nil {
		svc.cfg.OnRoundComplete(rec)
	}

	return rec, err
}

// submitLocal contributes the coordinator's own gradient, unless its
// link quality is below the eligibility threshold.
func (svc *service) submitLocal(ctx context.Context, round int) {
	u, err := svc.provider(ctx, round, svc.orch.Model())
	if err != nil {
		svc.logger.Warn("local gradient provider failed",
			slog.Int("round", round),
			slog.Any("error", err),
		)

		return
	}

	if svc.cfg.LinkQualityThreshold > 0 {
		if status, ok := svc.agg.NodeStatus()[u.NodeID]; ok && status.LinkQuality < svc.cfg.LinkQualityThreshold {
			svc.logger.Warn("local update withheld, link quality below threshold",
				slog.String("node_id", u.NodeID),
				slog.Float64("link_quality", status.LinkQuality),
				slog.Float64("threshold", svc.cfg.LinkQualityThreshold),
			)

			return
		}
	}

	u.RoundNumber = round
	if err := svc.agg.AddUpdate(u); err != nil {
		svc.logger.Warn("local update rejected",
			slog.Int("round", round),
			slog.Any("error", err),
		)
	}
}

// waitForQuorum polls the round buffer until enough updates arrived or
// the round timeout passes. Timeout is not an error: aggregation is
// attempted with whatever arrived.
func (svc *service) waitForQuorum(ctx context.Context, round, expected int) error {
	deadline := time.NewTimer(svc.cfg.RoundTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(quorumPollInterval)
	defer ticker.Stop()

	for {
		if svc.quorumReached(svc.agg.PendingCount(round), expected) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			svc.logger.Warn("round timeout reached before quorum",
				slog.Int("round", round),
				slog.Int("buffered", svc.agg.PendingCount(round)),
				slog.Int("expected", expected),
			)

			return nil
		case <-ticker.C:
		}
	}
}

// eligibleCount counts expected participants whose last reported link
// quality clears the threshold. Without a threshold every expected
// node is eligible.
func (svc *service) eligibleCount(expected []string) int {
	if svc.cfg.LinkQualityThreshold <= 0 {
		return len(expected)
	}

	status := svc.agg.NodeStatus()
	eligible := 0
	for _, id := range expected {
		if s, ok := status[id]; ok && s.LinkQuality >= svc.cfg.LinkQualityThreshold {
			eligible++
		}
	}

	return eligible
}

func (svc *service) minParticipants() int {
	if svc.cfg.MinParticipants > 0 {
		return svc.cfg.MinParticipants
	}

	return aggregator.DefaultMinParticipants
}

func (svc *service) quorumReached(received, expected int) bool {
	need := svc.minParticipants()
	if received < need {
		return false
	}
	if ba, ok := svc.orch.(interface{ ShouldAggregate(int, int) bool }); ok {
		return ba.ShouldAggregate(received, expected)
	}

	return true
}

func (svc *service) RunSession(ctx context.Context, maxRounds int) (SessionMetrics, error) {
	start := time.Now()
	svc.orch.ResetRate()

	var metrics SessionMetrics
	for i := 0; i < maxRounds; i++ {
		if converged, reason := svc.orch.Converged(); converged {
			metrics.Converged = true
			metrics.Reason = reason
			break
		}

		rec, err := svc.RunRound(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			metrics.Duration = time.Since(start)

			return metrics, err
		case err != nil:
			metrics.RoundsFailed++
			svc.logger.Warn("round failed, continuing session",
				slog.Int("round", rec.Number),
				slog.Any("error", err),
			)
		default:
			metrics.RoundsCompleted++
		}

		if i < maxRounds-1 {
			select {
			case <-ctx.Done():
				metrics.Duration = time.Since(start)

				return metrics, ctx.Err()
			case <-time.After(svc.cfg.RoundInterval):
			}
		}
	}

	if !metrics.Converged {
		if converged, reason := svc.orch.Converged(); converged {
			metrics.Converged = true
			metrics.Reason = reason
		}
	}
	metrics.Duration = time.Since(start)

	svc.logger.Info("session finished",
		slog.Int("rounds_completed", metrics.RoundsCompleted),
		slog.Int("rounds_failed", metrics.RoundsFailed),
		slog.Bool("converged", metrics.Converged),
	)

	return metrics, nil
}

func (svc *service) Status(ctx context.Context) (Status, error) {
	svc.mu.Lock()
	round := svc.round
	var completed, failed int
	for _, r := range svc.rounds {
		switch r.Status {
		case Completed:
			completed++
		case Failed:
			failed++
		}
	}
	svc.mu.Unlock()

	converged, reason := svc.orch.Converged()

	return Status{
		Round:             round,
		RoundsCompleted:   completed,
		RoundsFailed:      failed,
		Converged:         converged,
		ConvergenceReason: reason,
		LearningRate:      svc.orch.Rate(),
		Aggregator:        svc.agg.Metrics(),
	}, nil
}

func (svc *service) NodeStatus(ctx context.Context) (map[string]aggregator.NodeStatus, error) {
	return svc.agg.NodeStatus(), nil
}

func (svc *service) RoundHistory(ctx context.Context, offset, limit uint64) (RoundPage, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	total := uint64(len(svc.rounds))
	page := RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
	}
	if offset >= total {
		return page, nil
	}

	end := offset + limit
	if limit == 0 || end > total {
		end = total
	}
	page.Rounds = make([]Round, end-offset)
	copy(page.Rounds, svc.rounds[offset:end])

	return page, nil
}
