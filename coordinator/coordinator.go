// Package coordinator runs federated training sessions over a mesh. It
// admits updates from nodes, drives rounds through the topology-aware
// aggregator and the configured orchestration strategy, and exposes the
// session state.
package coordinator

import (
	"context"
	"time"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/update"
)

// RoundStatus is the lifecycle state of one round.
type RoundStatus uint8

const (
	Pending RoundStatus = iota
	Running
	Completed
	Failed
)

func (s RoundStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Round is the record of a single aggregation round.
type Round struct {
	Number      int               `json:"number"`
	Status      RoundStatus       `json:"status"`
	Result      aggregator.Result `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
}

// RoundPage is a paginated slice of the round history.
type RoundPage struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Rounds []Round `json:"rounds"`
}

// Status is the externally visible coordinator state.
type Status struct {
	Round             int                `json:"round"`
	RoundsCompleted   int                `json:"rounds_completed"`
	RoundsFailed      int                `json:"rounds_failed"`
	Converged         bool               `json:"converged"`
	ConvergenceReason string             `json:"convergence_reason"`
	LearningRate      float64            `json:"learning_rate"`
	Aggregator        aggregator.Metrics `json:"aggregator"`
}

// SessionMetrics summarizes one RunSession call.
type SessionMetrics struct {
	RoundsCompleted int           `json:"rounds_completed"`
	RoundsFailed    int           `json:"rounds_failed"`
	Converged       bool          `json:"converged"`
	Reason          string        `json:"reason,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// GradientProvider computes the coordinator's own contribution for a
// round from the current model. A nil provider means the coordinator
// only aggregates remote updates.
type GradientProvider func(ctx context.Context, round int, model []float64) (update.ModelUpdate, error)

// Service is the coordinator API served over HTTP and MQTT.
type Service interface {
	// Start launches the background connectivity refresh loop.
	Start(ctx context.Context) error

	// Stop halts background work and waits for it to finish.
	Stop(ctx context.Context) error

	// RegisterNode admits a node with its initial connectivity.
	RegisterNode(ctx context.Context, conn connectivity.NodeConnectivity) error

	// UnregisterNode removes a node from the session.
	UnregisterNode(ctx context.Context, nodeID string) error

	// UpdateConnectivity applies a connectivity update to a node.
	UpdateConnectivity(ctx context.Context, nodeID string, upd connectivity.Update) error

	// SubmitUpdate admits one node's model update for its round.
	SubmitUpdate(ctx context.Context, u update.ModelUpdate) error

	// RecordEvaluation feeds a loss and accuracy observation into
	// convergence tracking.
	RecordEvaluation(ctx context.Context, loss, accuracy float64) error

	// RunRound waits for a quorum and aggregates the current round.
	RunRound(ctx context.Context) (Round, error)

	// RunSession runs rounds until convergence or maxRounds.
	RunSession(ctx context.Context, maxRounds int) (SessionMetrics, error)

	// Status reports the coordinator state.
	Status(ctx context.Context) (Status, error)

	// NodeStatus reports the connectivity table.
	NodeStatus(ctx context.Context) (map[string]aggregator.NodeStatus, error)

	// RoundHistory pages through completed and failed rounds.
	RoundHistory(ctx context.Context, offset, limit uint64) (RoundPage, error)
}
