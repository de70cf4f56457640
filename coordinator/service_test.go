package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/coordinator"
	pkgerrors "github.com/x0tta6bl4/meshfl/pkg/errors"
	"github.com/x0tta6bl4/meshfl/update"
)

func testConfig() coordinator.Config {
	return coordinator.Config{
		Dimension:       4,
		MinParticipants: 2,
		RoundTimeout:    200 * time.Millisecond,
		RoundInterval:   10 * time.Millisecond,
	}
}

func newTestService(t *testing.T, cfg coordinator.Config, provider coordinator.GradientProvider, verifier update.CredentialVerifier, metrics connectivity.MetricsProvider) coordinator.Service {
	t.Helper()

	svc, err := coordinator.NewService(cfg, provider, verifier, metrics, nil)
	require.NoError(t, err)

	return svc
}

func registerNodes(t *testing.T, svc coordinator.Service, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		err := svc.RegisterNode(context.Background(), connectivity.NodeConnectivity{
			NodeID:      fmt.Sprintf("node-%d", i),
			LinkQuality: 0.9,
			LatencyMS:   10,
			HopCount:    1,
			LastUpdated: time.Now(),
		})
		require.NoError(t, err)
	}
}

func submitUpdates(t *testing.T, svc coordinator.Service, round, n int, value float64) {
	t.Helper()

	for i := 0; i < n; i++ {
		g := make([]float64, 4)
		for j := range g {
			g[j] = value
		}
		err := svc.SubmitUpdate(context.Background(), update.ModelUpdate{
			NodeID:      fmt.Sprintf("node-%d", i),
			Gradient:    g,
			RoundNumber: round,
			NumSamples:  20,
		})
		require.NoError(t, err)
	}
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(_ context.Context, _ update.ModelUpdate) error {
	return errors.New("bad signature")
}

type staticMetrics struct {
	quality float64
}

func (s staticMetrics) GetConnectivity(_ context.Context, nodeID string) (connectivity.NodeConnectivity, error) {
	return connectivity.NodeConnectivity{
		NodeID:      nodeID,
		LinkQuality: s.quality,
		LatencyMS:   5,
		HopCount:    1,
		LastUpdated: time.Now(),
	}, nil
}

func TestRunRoundCompletes(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 2)
	submitUpdates(t, svc, 1, 2, 0.1)

	round, err := svc.RunRound(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, round.Number)
	assert.Equal(t, coordinator.Completed, round.Status)
	assert.Len(t, round.Result.Gradient, 4)
	assert.Len(t, round.Result.Participants, 2)
}

func TestRunRoundAnnouncesCompletion(t *testing.T) {
	t.Parallel()

	announced := make(chan coordinator.Round, 1)
	cfg := testConfig()
	cfg.OnRoundComplete = func(r coordinator.Round) {
		announced <- r
	}

	svc := newTestService(t, cfg, nil, nil, nil)
	registerNodes(t, svc, 2)
	submitUpdates(t, svc, 1, 2, 0.1)

	_, err := svc.RunRound(context.Background())
	require.NoError(t, err)

	select {
	case r := <-announced:
		assert.Equal(t, 1, r.Number)
		assert.Equal(t, coordinator.Completed, r.Status)
	default:
		t.Fatal("round completion was not announced")
	}
}

func TestRunRoundFailsWithoutEligibleParticipants(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LinkQualityThreshold = 0.5

	svc := newTestService(t, cfg, nil, nil, nil)
	for i := 0; i < 3; i++ {
		err := svc.RegisterNode(context.Background(), connectivity.NodeConnectivity{
			NodeID:      fmt.Sprintf("node-%d", i),
			LinkQuality: 0.2,
			LatencyMS:   10,
			HopCount:    1,
			LastUpdated: time.Now(),
		})
		require.NoError(t, err)
	}
	submitUpdates(t, svc, 1, 3, 0.1)

	start := time.Now()
	round, err := svc.RunRound(context.Background())
	assert.ErrorIs(t, err, coordinator.ErrInsufficientEligible)
	assert.Equal(t, coordinator.Failed, round.Status)
	// Eligibility is checked up front, not after the round timeout.
	assert.Less(t, time.Since(start), cfg.RoundTimeout)
}

func TestRunRoundCompletesAboveLinkQualityThreshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LinkQualityThreshold = 0.5

	svc := newTestService(t, cfg, nil, nil, nil)
	registerNodes(t, svc, 2)
	submitUpdates(t, svc, 1, 2, 0.1)

	round, err := svc.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coordinator.Completed, round.Status)
}

func TestRunRoundFailsWithoutQuorum(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 3)

	round, err := svc.RunRound(context.Background())
	assert.ErrorIs(t, err, aggregator.ErrInsufficientParticipants)
	assert.Equal(t, coordinator.Failed, round.Status)
	assert.NotEmpty(t, round.Error)
}

func TestRoundNumbersAdvance(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 2)

	submitUpdates(t, svc, 1, 2, 0.1)
	first, err := svc.RunRound(context.Background())
	require.NoError(t, err)

	submitUpdates(t, svc, 2, 2, 0.1)
	second, err := svc.RunRound(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Number+1, second.Number)
}

func TestLocalProviderContributes(t *testing.T) {
	t.Parallel()

	provider := func(_ context.Context, round int, model []float64) (update.ModelUpdate, error) {
		return update.ModelUpdate{
			NodeID:     "local",
			Gradient:   []float64{0.1, 0.1, 0.1, 0.1},
			NumSamples: 10,
		}, nil
	}

	svc := newTestService(t, testConfig(), provider, nil, nil)
	registerNodes(t, svc, 1)
	submitUpdates(t, svc, 1, 1, 0.1)

	round, err := svc.RunRound(context.Background())
	require.NoError(t, err)
	assert.Contains(t, round.Result.Participants, "local")
}

func TestRunRoundWithWasmAggregator(t *testing.T) {
	t.Parallel()

	binary, err := os.ReadFile(filepath.Join("testdata", "fixed_gradient.wasm"))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Dimension = 2
	cfg.WasmModule = binary

	svc := newTestService(t, cfg, nil, nil, nil)
	registerNodes(t, svc, 2)
	for i := 0; i < 2; i++ {
		err := svc.SubmitUpdate(context.Background(), update.ModelUpdate{
			NodeID:      fmt.Sprintf("node-%d", i),
			Gradient:    []float64{0.1, 0.2},
			RoundNumber: 1,
			NumSamples:  20,
		})
		require.NoError(t, err)
	}

	round, err := svc.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coordinator.Completed, round.Status)
	// The test module always emits this gradient, which proves the
	// round went through the wasm path instead of the built-in one.
	assert.Equal(t, []float64{1.5, 2.5}, round.Result.Gradient)
}

func TestVerifierRejectsUpdate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, rejectVerifier{}, nil)

	err := svc.SubmitUpdate(context.Background(), update.ModelUpdate{
		NodeID:      "node-0",
		Gradient:    []float64{0.1, 0.1, 0.1, 0.1},
		RoundNumber: 1,
		NumSamples:  10,
	})
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
}

func TestSubmitAfterAggregationConflicts(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 2)
	submitUpdates(t, svc, 1, 2, 0.1)

	_, err := svc.RunRound(context.Background())
	require.NoError(t, err)

	err = svc.SubmitUpdate(context.Background(), update.ModelUpdate{
		NodeID:      "node-0",
		Gradient:    []float64{0.1, 0.1, 0.1, 0.1},
		RoundNumber: 1,
		NumSamples:  10,
	})
	assert.ErrorIs(t, err, pkgerrors.ErrConflict)
}

func TestUnregisterUnknownNode(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)

	err := svc.UnregisterNode(context.Background(), "ghost")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestRunSessionCountsRounds(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 2)

	// Only round 1 has a quorum; rounds 2 and 3 time out.
	submitUpdates(t, svc, 1, 2, 0.1)

	metrics, err := svc.RunSession(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.RoundsCompleted)
	assert.Equal(t, 2, metrics.RoundsFailed)
	assert.False(t, metrics.Converged)
}

func TestConvergenceStopsSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WindowSize = 2
	cfg.ConvergenceThreshold = 0.01
	svc := newTestService(t, cfg, nil, nil, nil)
	registerNodes(t, svc, 2)

	// Two rounds with a flat loss fill the window; the session should
	// then stop before running another round.
	for round := 1; round <= 2; round++ {
		submitUpdates(t, svc, round, 2, 0.001)
		require.NoError(t, svc.RecordEvaluation(context.Background(), 0.5, 0.9))
		_, err := svc.RunRound(context.Background())
		require.NoError(t, err)
	}

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Converged)

	metrics, err := svc.RunSession(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, metrics.Converged)
	assert.Equal(t, 0, metrics.RoundsCompleted)
}

func TestStatusReportsCounters(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 2)
	submitUpdates(t, svc, 1, 2, 0.1)

	_, err := svc.RunRound(context.Background())
	require.NoError(t, err)

	_, err = svc.RunRound(context.Background())
	require.Error(t, err)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.Round)
	assert.Equal(t, 1, status.RoundsCompleted)
	assert.Equal(t, 1, status.RoundsFailed)
	assert.Equal(t, 2, status.Aggregator.ActiveNodes)
}

func TestRoundHistoryPaging(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, testConfig(), nil, nil, nil)
	registerNodes(t, svc, 2)

	for round := 1; round <= 3; round++ {
		submitUpdates(t, svc, round, 2, 0.1)
		_, err := svc.RunRound(context.Background())
		require.NoError(t, err)
	}

	page, err := svc.RoundHistory(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), page.Total)
	require.Len(t, page.Rounds, 1)
	assert.Equal(t, 2, page.Rounds[0].Number)

	page, err = svc.RoundHistory(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, page.Rounds)
}

func TestConnectivityRefreshLoop(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RefreshInterval = 20 * time.Millisecond
	svc := newTestService(t, cfg, nil, nil, staticMetrics{quality: 0.42})
	registerNodes(t, svc, 1)

	require.NoError(t, svc.Start(context.Background()))
	defer func() {
		require.NoError(t, svc.Stop(context.Background()))
	}()

	assert.Eventually(t, func() bool {
		nodes, err := svc.NodeStatus(context.Background())
		if err != nil {
			return false
		}

		return nodes["node-0"].LinkQuality == 0.42
	}, time.Second, 10*time.Millisecond)
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RefreshInterval = time.Hour
	svc := newTestService(t, cfg, nil, nil, staticMetrics{quality: 0.9})

	require.NoError(t, svc.Start(context.Background()))
	assert.ErrorIs(t, svc.Start(context.Background()), coordinator.ErrAlreadyStarted)
	require.NoError(t, svc.Stop(context.Background()))
}
