package sdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x0tta6bl4/meshfl/pkg/sdk"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) sdk.SDK {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return sdk.NewSDK(sdk.Config{CoordinatorURL: srv.URL})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/status", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(sdk.Status{
			Round:           7,
			RoundsCompleted: 6,
			Converged:       true,
		})
		require.NoError(t, err)
	})

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, 7, status.Round)
	assert.True(t, status.Converged)
}

func TestRegisterNode(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/nodes", r.URL.Path)

		var node sdk.Node
		require.NoError(t, json.NewDecoder(r.Body).Decode(&node))
		assert.Equal(t, "node-1", node.NodeID)

		w.WriteHeader(http.StatusCreated)
	})

	err := s.RegisterNode(sdk.Node{
		NodeID:      "node-1",
		LinkQuality: 0.9,
		HopCount:    1,
	})
	assert.NoError(t, err)
}

func TestSubmitUpdateUnexpectedCode(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := s.SubmitUpdate(sdk.ModelUpdate{
		NodeID:      "node-1",
		Gradient:    []float64{0.1},
		RoundNumber: 1,
		NumSamples:  10,
	})
	assert.Error(t, err)
}

func TestRoundsQuery(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rounds", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(sdk.RoundPage{
			Offset: 5,
			Limit:  10,
			Total:  20,
			Rounds: []sdk.Round{{Number: 6}},
		})
		require.NoError(t, err)
	})

	page, err := s.Rounds(5, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), page.Total)
	require.Len(t, page.Rounds, 1)
	assert.Equal(t, 6, page.Rounds[0].Number)
}
