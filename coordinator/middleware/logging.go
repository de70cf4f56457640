package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/update"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Start(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Start coordinator failed", args...)

			return
		}
		lm.logger.Info("Start coordinator completed successfully", args...)
	}(time.Now())

	return lm.svc.Start(ctx)
}

func (lm *loggingMiddleware) Stop(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Stop coordinator failed", args...)

			return
		}
		lm.logger.Info("Stop coordinator completed successfully", args...)
	}(time.Now())

	return lm.svc.Stop(ctx)
}

func (lm *loggingMiddleware) RegisterNode(ctx context.Context, conn connectivity.NodeConnectivity) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("node",
				slog.String("id", conn.NodeID),
				slog.Float64("link_quality", conn.LinkQuality),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Register node failed", args...)

			return
		}
		lm.logger.Info("Register node completed successfully", args...)
	}(time.Now())

	return lm.svc.RegisterNode(ctx, conn)
}

func (lm *loggingMiddleware) UnregisterNode(ctx context.Context, nodeID string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("node",
				slog.String("id", nodeID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Unregister node failed", args...)

			return
		}
		lm.logger.Info("Unregister node completed successfully", args...)
	}(time.Now())

	return lm.svc.UnregisterNode(ctx, nodeID)
}

func (lm *loggingMiddleware) UpdateConnectivity(ctx context.Context, nodeID string, upd connectivity.Update) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("node",
				slog.String("id", nodeID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Update connectivity failed", args...)

			return
		}
		lm.logger.Info("Update connectivity completed successfully", args...)
	}(time.Now())

	return lm.svc.UpdateConnectivity(ctx, nodeID, upd)
}

func (lm *loggingMiddleware) SubmitUpdate(ctx context.Context, u update.ModelUpdate) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("update",
				slog.String("node_id", u.NodeID),
				slog.Int("round", u.RoundNumber),
				slog.Int("num_samples", u.NumSamples),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Submit update failed", args...)

			return
		}
		lm.logger.Info("Submit update completed successfully", args...)
	}(time.Now())

	return lm.svc.SubmitUpdate(ctx, u)
}

func (lm *loggingMiddleware) RecordEvaluation(ctx context.Context, loss, accuracy float64) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Float64("loss", loss),
			slog.Float64("accuracy", accuracy),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Record evaluation failed", args...)

			return
		}
		lm.logger.Info("Record evaluation completed successfully", args...)
	}(time.Now())

	return lm.svc.RecordEvaluation(ctx, loss, accuracy)
}

func (lm *loggingMiddleware) RunRound(ctx context.Context) (round coordinator.Round, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Int("number", round.Number),
				slog.String("status", round.Status.String()),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run round failed", args...)

			return
		}
		lm.logger.Info("Run round completed successfully", args...)
	}(time.Now())

	return lm.svc.RunRound(ctx)
}

func (lm *loggingMiddleware) RunSession(ctx context.Context, maxRounds int) (metrics coordinator.SessionMetrics, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("max_rounds", maxRounds),
			slog.Int("rounds_completed", metrics.RoundsCompleted),
			slog.Bool("converged", metrics.Converged),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run session failed", args...)

			return
		}
		lm.logger.Info("Run session completed successfully", args...)
	}(time.Now())

	return lm.svc.RunSession(ctx, maxRounds)
}

func (lm *loggingMiddleware) Status(ctx context.Context) (status coordinator.Status, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get status failed", args...)

			return
		}
		lm.logger.Info("Get status completed successfully", args...)
	}(time.Now())

	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) NodeStatus(ctx context.Context) (nodes map[string]aggregator.NodeStatus, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get node status failed", args...)

			return
		}
		lm.logger.Info("Get node status completed successfully", args...)
	}(time.Now())

	return lm.svc.NodeStatus(ctx)
}

func (lm *loggingMiddleware) RoundHistory(ctx context.Context, offset, limit uint64) (page coordinator.RoundPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round history failed", args...)

			return
		}
		lm.logger.Info("Get round history completed successfully", args...)
	}(time.Now())

	return lm.svc.RoundHistory(ctx, offset, limit)
}
