package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const roundsEndpoint = "/rounds"

type RoundMetrics struct {
	ChurnRate         float64 `json:"churn_rate"`
	ParticipationRate float64 `json:"participation_rate"`
	AvgLinkQuality    float64 `json:"avg_link_quality"`
	MeanStaleness     float64 `json:"mean_staleness"`
}

type Result struct {
	RoundNumber  int                `json:"round_number"`
	Gradient     []float64          `json:"gradient"`
	Participants []string           `json:"participants"`
	TotalSamples int                `json:"total_samples"`
	Weights      map[string]float64 `json:"weights"`
	Metrics      RoundMetrics       `json:"metrics"`
}

type Round struct {
	Number      int       `json:"number"`
	Status      uint8     `json:"status"`
	Result      Result    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

type RoundPage struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Rounds []Round `json:"rounds"`
}

type AggregatorMetrics struct {
	TotalAggregations int     `json:"total_aggregations"`
	TotalUpdates      int     `json:"total_updates_processed"`
	AvgParticipation  float64 `json:"avg_participation"`
	ChurnEvents       int     `json:"node_churn_events"`
	ActiveNodes       int     `json:"active_nodes"`
	PendingRounds     int     `json:"pending_rounds"`
}

type Status struct {
	Round             int               `json:"round"`
	RoundsCompleted   int               `json:"rounds_completed"`
	RoundsFailed      int               `json:"rounds_failed"`
	Converged         bool              `json:"converged"`
	ConvergenceReason string            `json:"convergence_reason"`
	LearningRate      float64           `json:"learning_rate"`
	Aggregator        AggregatorMetrics `json:"aggregator"`
}

type SessionMetrics struct {
	RoundsCompleted int           `json:"rounds_completed"`
	RoundsFailed    int           `json:"rounds_failed"`
	Converged       bool          `json:"converged"`
	Reason          string        `json:"reason,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (sdk *meshSDK) Status() (Status, error) {
	url := sdk.coordinatorURL + "/status"

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Status{}, err
	}

	var s Status
	if err := json.Unmarshal(body, &s); err != nil {
		return Status{}, err
	}

	return s, nil
}

func (sdk *meshSDK) RunRound() (Round, error) {
	url := sdk.coordinatorURL + roundsEndpoint + "/run"

	body, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusOK)
	if err != nil {
		return Round{}, err
	}

	var r Round
	if err := json.Unmarshal(body, &r); err != nil {
		return Round{}, err
	}

	return r, nil
}

func (sdk *meshSDK) RunSession(maxRounds int) (SessionMetrics, error) {
	data, err := json.Marshal(map[string]int{"max_rounds": maxRounds})
	if err != nil {
		return SessionMetrics{}, err
	}

	url := sdk.coordinatorURL + "/sessions/run"

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusOK)
	if err != nil {
		return SessionMetrics{}, err
	}

	var m SessionMetrics
	if err := json.Unmarshal(body, &m); err != nil {
		return SessionMetrics{}, err
	}

	return m, nil
}

func (sdk *meshSDK) Rounds(offset, limit uint64) (RoundPage, error) {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	query := ""
	if len(queries) > 0 {
		query = "?" + strings.Join(queries, "&")
	}
	url := sdk.coordinatorURL + roundsEndpoint + query

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return RoundPage{}, err
	}

	var page RoundPage
	if err := json.Unmarshal(body, &page); err != nil {
		return RoundPage{}, err
	}

	return page, nil
}
