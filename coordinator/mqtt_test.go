package coordinator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/pkg/mqtt/mocks"
	"github.com/x0tta6bl4/meshfl/update"
)

const testSession = "session-1"

func subscribedService(t *testing.T) (coordinator.Service, *mocks.PubSub) {
	t.Helper()

	svc, err := coordinator.NewService(coordinator.Config{
		Dimension:       2,
		MinParticipants: 2,
	}, nil, nil, nil, nil)
	require.NoError(t, err)

	pubsub := new(mocks.PubSub)
	pubsub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err = coordinator.Subscribe(context.Background(), testSession, pubsub, svc, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return svc, pubsub
}

func TestSubscribeEmptySession(t *testing.T) {
	t.Parallel()

	pubsub := new(mocks.PubSub)
	err := coordinator.Subscribe(context.Background(), "", pubsub, nil, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestJoinAndUpdateOverMQTT(t *testing.T) {
	svc, pubsub := subscribedService(t)

	join, err := json.Marshal(connectivity.NodeConnectivity{
		NodeID:      "node-1",
		LinkQuality: 0.9,
		LatencyMS:   10,
		HopCount:    1,
	})
	require.NoError(t, err)
	err = pubsub.Dispatch(fmt.Sprintf("fl/%s/nodes/join", testSession), join)
	require.NoError(t, err)

	statuses, err := svc.NodeStatus(context.Background())
	require.NoError(t, err)
	require.Contains(t, statuses, "node-1")
	assert.InDelta(t, 0.9, statuses["node-1"].LinkQuality, 1e-9)

	payload, err := json.Marshal(update.ModelUpdate{
		NodeID:      "node-1",
		Gradient:    []float64{0.1, 0.2},
		RoundNumber: 1,
		NumSamples:  10,
		SubmittedAt: time.Now(),
	})
	require.NoError(t, err)
	err = pubsub.Dispatch(fmt.Sprintf("fl/%s/updates", testSession), payload)
	assert.NoError(t, err)
}

func TestCBORUpdateOverMQTT(t *testing.T) {
	svc, pubsub := subscribedService(t)

	join, err := json.Marshal(connectivity.NodeConnectivity{
		NodeID:      "node-2",
		LinkQuality: 0.8,
		LatencyMS:   25,
		HopCount:    2,
	})
	require.NoError(t, err)
	require.NoError(t, pubsub.Dispatch(fmt.Sprintf("fl/%s/nodes/join", testSession), join))

	payload, err := cbor.Marshal(update.ModelUpdate{
		NodeID:      "node-2",
		Gradient:    []float64{0.3, 0.4},
		RoundNumber: 1,
		NumSamples:  5,
		SubmittedAt: time.Now(),
	})
	require.NoError(t, err)
	err = pubsub.Dispatch(fmt.Sprintf("fl/%s/updates/cbor", testSession), payload)
	assert.NoError(t, err)

	statuses, err := svc.NodeStatus(context.Background())
	require.NoError(t, err)
	assert.Contains(t, statuses, "node-2")
}

func TestLeaveOverMQTT(t *testing.T) {
	svc, pubsub := subscribedService(t)

	join, err := json.Marshal(connectivity.NodeConnectivity{
		NodeID:      "node-3",
		LinkQuality: 0.7,
		LatencyMS:   40,
		HopCount:    3,
	})
	require.NoError(t, err)
	require.NoError(t, pubsub.Dispatch(fmt.Sprintf("fl/%s/nodes/join", testSession), join))

	leave, err := json.Marshal(map[string]string{"node_id": "node-3", "reason": "connection lost"})
	require.NoError(t, err)
	require.NoError(t, pubsub.Dispatch(fmt.Sprintf("fl/%s/nodes/leave", testSession), leave))

	statuses, err := svc.NodeStatus(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, statuses, "node-3")
}

func TestMalformedPayloads(t *testing.T) {
	_, pubsub := subscribedService(t)

	assert.Error(t, pubsub.Dispatch(fmt.Sprintf("fl/%s/updates", testSession), []byte("{not json")))
	assert.Error(t, pubsub.Dispatch(fmt.Sprintf("fl/%s/nodes/join", testSession), []byte("{not json")))
}

func TestPublishRound(t *testing.T) {
	t.Parallel()

	pubsub := new(mocks.PubSub)
	pubsub.On("Publish", mock.Anything, fmt.Sprintf("fl/%s/rounds", testSession), mock.Anything).Return(nil)

	err := coordinator.PublishRound(context.Background(), testSession, pubsub, coordinator.Round{Number: 1})
	assert.NoError(t, err)
	pubsub.AssertExpectations(t)
}
