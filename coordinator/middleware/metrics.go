package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/connectivity"
	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/update"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Start(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "start").Add(1)
		mm.latency.With("method", "start").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Start(ctx)
}

func (mm *metricsMiddleware) Stop(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "stop").Add(1)
		mm.latency.With("method", "stop").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Stop(ctx)
}

func (mm *metricsMiddleware) RegisterNode(ctx context.Context, conn connectivity.NodeConnectivity) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "register-node").Add(1)
		mm.latency.With("method", "register-node").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RegisterNode(ctx, conn)
}

func (mm *metricsMiddleware) UnregisterNode(ctx context.Context, nodeID string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "unregister-node").Add(1)
		mm.latency.With("method", "unregister-node").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.UnregisterNode(ctx, nodeID)
}

func (mm *metricsMiddleware) UpdateConnectivity(ctx context.Context, nodeID string, upd connectivity.Update) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "update-connectivity").Add(1)
		mm.latency.With("method", "update-connectivity").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.UpdateConnectivity(ctx, nodeID, upd)
}

func (mm *metricsMiddleware) SubmitUpdate(ctx context.Context, u update.ModelUpdate) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "submit-update").Add(1)
		mm.latency.With("method", "submit-update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.SubmitUpdate(ctx, u)
}

func (mm *metricsMiddleware) RecordEvaluation(ctx context.Context, loss, accuracy float64) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "record-evaluation").Add(1)
		mm.latency.With("method", "record-evaluation").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RecordEvaluation(ctx, loss, accuracy)
}

func (mm *metricsMiddleware) RunRound(ctx context.Context) (coordinator.Round, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-round").Add(1)
		mm.latency.With("method", "run-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RunRound(ctx)
}

func (mm *metricsMiddleware) RunSession(ctx context.Context, maxRounds int) (coordinator.SessionMetrics, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-session").Add(1)
		mm.latency.With("method", "run-session").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RunSession(ctx, maxRounds)
}

func (mm *metricsMiddleware) Status(ctx context.Context) (coordinator.Status, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "status").Add(1)
		mm.latency.With("method", "status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) NodeStatus(ctx context.Context) (map[string]aggregator.NodeStatus, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "node-status").Add(1)
		mm.latency.With("method", "node-status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.NodeStatus(ctx)
}

func (mm *metricsMiddleware) RoundHistory(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "round-history").Add(1)
		mm.latency.With("method", "round-history").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RoundHistory(ctx, offset, limit)
}
