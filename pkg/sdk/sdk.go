// Package sdk is the Go client for the coordinator HTTP API.
package sdk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

const CTJSON string = "application/json"

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type SDK interface {
	// Status reports the coordinator state.
	//
	// example:
	//  status, _ := sdk.Status()
	//  fmt.Println(status)
	Status() (Status, error)

	// Nodes lists the connectivity table.
	//
	// example:
	//  nodes, _ := sdk.Nodes()
	//  fmt.Println(nodes)
	Nodes() (map[string]NodeStatus, error)

	// RegisterNode admits a node to the session.
	//
	// example:
	//  node := sdk.Node{
	//    NodeID:      "node-1",
	//    LinkQuality: 0.9,
	//    HopCount:    1,
	//  }
	//  _ = sdk.RegisterNode(node)
	RegisterNode(node Node) error

	// UnregisterNode removes a node from the session.
	//
	// example:
	//  _ = sdk.UnregisterNode("node-1")
	UnregisterNode(id string) error

	// SubmitUpdate submits a model update for a round.
	//
	// example:
	//  u := sdk.ModelUpdate{
	//    NodeID:      "node-1",
	//    Gradient:    []float64{0.1, 0.2},
	//    RoundNumber: 3,
	//    NumSamples:  128,
	//  }
	//  _ = sdk.SubmitUpdate(u)
	SubmitUpdate(u ModelUpdate) error

	// RecordEvaluation reports a loss and accuracy observation.
	//
	// example:
	//  _ = sdk.RecordEvaluation(0.35, 0.91)
	RecordEvaluation(loss, accuracy float64) error

	// RunRound triggers one aggregation round.
	//
	// example:
	//  round, _ := sdk.RunRound()
	//  fmt.Println(round)
	RunRound() (Round, error)

	// RunSession runs rounds until convergence or maxRounds.
	//
	// example:
	//  metrics, _ := sdk.RunSession(20)
	//  fmt.Println(metrics)
	RunSession(maxRounds int) (SessionMetrics, error)

	// Rounds pages through the round history.
	//
	// example:
	//  page, _ := sdk.Rounds(0, 10)
	//  fmt.Println(page)
	Rounds(offset, limit uint64) (RoundPage, error)
}

type meshSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &meshSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *meshSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
