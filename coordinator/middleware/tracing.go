package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/update"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Start(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "start")
	defer span.End()

	return tm.svc.Start(ctx)
}

func (tm *tracing) Stop(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "stop")
	defer span.End()

	return tm.svc.Stop(ctx)
}

func (tm *tracing) RegisterNode(ctx context.Context, conn connectivity.NodeConnectivity) error {
	ctx, span := tm.tracer.Start(ctx, "register-node", trace.WithAttributes(
		attribute.String("node_id", conn.NodeID),
	))
	defer span.End()

	return tm.svc.RegisterNode(ctx, conn)
}

func (tm *tracing) UnregisterNode(ctx context.Context, nodeID string) error {
	ctx, span := tm.tracer.Start(ctx, "unregister-node", trace.WithAttributes(
		attribute.String("node_id", nodeID),
	))
	defer span.End()

	return tm.svc.UnregisterNode(ctx, nodeID)
}

func (tm *tracing) UpdateConnectivity(ctx context.Context, nodeID string, upd connectivity.Update) error {
	ctx, span := tm.tracer.Start(ctx, "update-connectivity", trace.WithAttributes(
		attribute.String("node_id", nodeID),
	))
	defer span.End()

	return tm.svc.UpdateConnectivity(ctx, nodeID, upd)
}

func (tm *tracing) SubmitUpdate(ctx context.Context, u update.ModelUpdate) error {
	ctx, span := tm.tracer.Start(ctx, "submit-update", trace.WithAttributes(
		attribute.String("node_id", u.NodeID),
		attribute.Int("round", u.RoundNumber),
	))
	defer span.End()

	return tm.svc.SubmitUpdate(ctx, u)
}

func (tm *tracing) RecordEvaluation(ctx context.Context, loss, accuracy float64) error {
	ctx, span := tm.tracer.Start(ctx, "record-evaluation", trace.WithAttributes(
		attribute.Float64("loss", loss),
		attribute.Float64("accuracy", accuracy),
	))
	defer span.End()

	return tm.svc.RecordEvaluation(ctx, loss, accuracy)
}

func (tm *tracing) RunRound(ctx context.Context) (coordinator.Round, error) {
	ctx, span := tm.tracer.Start(ctx, "run-round")
	defer span.End()

	return tm.svc.RunRound(ctx)
}

func (tm *tracing) RunSession(ctx context.Context, maxRounds int) (coordinator.SessionMetrics, error) {
	ctx, span := tm.tracer.Start(ctx, "run-session", trace.WithAttributes(
		attribute.Int("max_rounds", maxRounds),
	))
	defer span.End()

	return tm.svc.RunSession(ctx, maxRounds)
}

func (tm *tracing) Status(ctx context.Context) (coordinator.Status, error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) NodeStatus(ctx context.Context) (map[string]aggregator.NodeStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "node-status")
	defer span.End()

	return tm.svc.NodeStatus(ctx)
}

func (tm *tracing) RoundHistory(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "round-history", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.RoundHistory(ctx, offset, limit)
}
