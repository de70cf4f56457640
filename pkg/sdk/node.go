package sdk

import (
	"encoding/json"
	"net/http"
	"time"
)

const nodesEndpoint = "/nodes"

type Node struct {
	NodeID        string    `json:"node_id"`
	LinkQuality   float64   `json:"link_quality"`
	LatencyMS     float64   `json:"latency_ms"`
	BandwidthMbps float64   `json:"bandwidth_mbps,omitempty"`
	HopCount      int       `json:"hop_count"`
	LastUpdated   time.Time `json:"last_updated,omitempty"`
}

type NodeStatus struct {
	LinkQuality float64   `json:"link_quality"`
	LatencyMS   float64   `json:"latency_ms"`
	HopCount    int       `json:"hop_count"`
	Weight      float64   `json:"weight"`
	LastUpdated time.Time `json:"last_updated"`
}

type ModelUpdate struct {
	NodeID      string    `json:"node_id"`
	Gradient    []float64 `json:"gradient"`
	RoundNumber int       `json:"round_number"`
	NumSamples  int       `json:"num_samples"`
	Staleness   float64   `json:"staleness,omitempty"`
}

func (sdk *meshSDK) Nodes() (map[string]NodeStatus, error) {
	url := sdk.coordinatorURL + nodesEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Nodes map[string]NodeStatus `json:"nodes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return resp.Nodes, nil
}

func (sdk *meshSDK) RegisterNode(node Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}

	url := sdk.coordinatorURL + nodesEndpoint

	_, err = sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)

	return err
}

func (sdk *meshSDK) UnregisterNode(id string) error {
	url := sdk.coordinatorURL + nodesEndpoint + "/" + id

	_, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent)

	return err
}

func (sdk *meshSDK) SubmitUpdate(u ModelUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	url := sdk.coordinatorURL + "/updates"

	_, err = sdk.processRequest(http.MethodPost, url, data, http.StatusAccepted)

	return err
}

func (sdk *meshSDK) RecordEvaluation(loss, accuracy float64) error {
	data, err := json.Marshal(map[string]float64{
		"loss":     loss,
		"accuracy": accuracy,
	})
	if err != nil {
		return err
	}

	url := sdk.coordinatorURL + "/evaluations"

	_, err = sdk.processRequest(http.MethodPost, url, data, http.StatusAccepted)

	return err
}
