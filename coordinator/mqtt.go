package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/pkg/mqtt"
	"github.com/x0tta6bl4/meshfl/update"
)

// Session topics. Constrained devices publish CBOR-encoded updates on
// the dedicated topic; everything else is JSON.
const (
	updatesTopicTemplate     = "fl/%s/updates"
	updatesCBORTopicTemplate = "fl/%s/updates/cbor"
	joinTopicTemplate        = "fl/%s/nodes/join"
	leaveTopicTemplate       = "fl/%s/nodes/leave"
	roundsTopicTemplate      = "fl/%s/rounds"
)

var errEmptySessionID = errors.New("empty session id")

type leaveMessage struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason,omitempty"`
}

// Subscribe wires the coordinator to a session's MQTT topics so nodes
// can join, leave and submit updates over the mesh broker.
func Subscribe(ctx context.Context, sessionID string, pubsub mqtt.PubSub, svc Service, logger *slog.Logger) error {
	if sessionID == "" {
		return errEmptySessionID
	}

	handlers := map[string]mqtt.Handler{
		fmt.Sprintf(updatesTopicTemplate, sessionID):     handleUpdate(ctx, svc),
		fmt.Sprintf(updatesCBORTopicTemplate, sessionID): handleUpdateCBOR(ctx, svc),
		fmt.Sprintf(joinTopicTemplate, sessionID):        handleJoin(ctx, svc, logger),
		fmt.Sprintf(leaveTopicTemplate, sessionID):       handleLeave(ctx, svc, logger),
	}

	for topic, handler := range handlers {
		if err := pubsub.Subscribe(ctx, topic, handler); err != nil {
			return err
		}
	}

	return nil
}

// PublishRound announces a finished round on the session's rounds
// topic.
func PublishRound(ctx context.Context, sessionID string, pubsub mqtt.PubSub, round Round) error {
	if sessionID == "" {
		return errEmptySessionID
	}

	return pubsub.Publish(ctx, fmt.Sprintf(roundsTopicTemplate, sessionID), round)
}

func handleUpdate(ctx context.Context, svc Service) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var u update.ModelUpdate
		if err := json.Unmarshal(payload, &u); err != nil {
			return errors.Join(errors.New("malformed update payload"), err)
		}

		return svc.SubmitUpdate(ctx, u)
	}
}

func handleUpdateCBOR(ctx context.Context, svc Service) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var u update.ModelUpdate
		if err := cbor.Unmarshal(payload, &u); err != nil {
			return errors.Join(errors.New("malformed cbor update payload"), err)
		}

		return svc.SubmitUpdate(ctx, u)
	}
}

func handleJoin(ctx context.Context, svc Service, logger *slog.Logger) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var conn connectivity.NodeConnectivity
		if err := json.Unmarshal(payload, &conn); err != nil {
			return errors.Join(errors.New("malformed join payload"), err)
		}
		if conn.LastUpdated.IsZero() {
			conn.LastUpdated = time.Now()
		}

		if err := svc.RegisterNode(ctx, conn); err != nil {
			return err
		}
		logger.InfoContext(ctx, "node joined session", slog.String("node_id", conn.NodeID))

		return nil
	}
}

func handleLeave(ctx context.Context, svc Service, logger *slog.Logger) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var msg leaveMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return errors.Join(errors.New("malformed leave payload"), err)
		}

		if err := svc.UnregisterNode(ctx, msg.NodeID); err != nil {
			return err
		}
		logger.InfoContext(ctx, "node left session",
			slog.String("node_id", msg.NodeID),
			slog.String("reason", msg.Reason),
		)

		return nil
	}
}
