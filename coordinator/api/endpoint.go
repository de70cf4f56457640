package api

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/x0tta6bl4/meshfl/coordinator"
	pkgerrors "github.com/x0tta6bl4/meshfl/pkg/errors"
)

func registerNodeEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(registerNodeReq)
		if !ok {
			return nodeResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return nodeResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		if err := svc.RegisterNode(ctx, req.NodeConnectivity); err != nil {
			return nodeResponse{}, err
		}

		return nodeResponse{
			NodeID:  req.NodeID,
			created: true,
		}, nil
	}
}

func unregisterNodeEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return nodeResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return nodeResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		if err := svc.UnregisterNode(ctx, req.id); err != nil {
			return nodeResponse{}, err
		}

		return nodeResponse{
			deleted: true,
		}, nil
	}
}

func updateConnectivityEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateConnectivityReq)
		if !ok {
			return nodeResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return nodeResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		if err := svc.UpdateConnectivity(ctx, req.id, req.Update); err != nil {
			return nodeResponse{}, err
		}

		return nodeResponse{
			NodeID: req.id,
		}, nil
	}
}

func nodeStatusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		nodes, err := svc.NodeStatus(ctx)
		if err != nil {
			return nodeStatusResponse{}, err
		}

		return nodeStatusResponse{
			Nodes: nodes,
		}, nil
	}
}

func submitUpdateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(submitUpdateReq)
		if !ok {
			return updateResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return updateResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		if err := svc.SubmitUpdate(ctx, req.ModelUpdate); err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			accepted: true,
		}, nil
	}
}

func recordEvaluationEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(evaluationReq)
		if !ok {
			return evaluationResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return evaluationResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		if err := svc.RecordEvaluation(ctx, req.Loss, req.Accuracy); err != nil {
			return evaluationResponse{}, err
		}

		return evaluationResponse{}, nil
	}
}

func runRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		round, err := svc.RunRound(ctx)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{
			Round: round,
		}, nil
	}
}

func runSessionEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(runSessionReq)
		if !ok {
			return sessionResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return sessionResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		metrics, err := svc.RunSession(ctx, req.MaxRounds)
		if err != nil {
			return sessionResponse{}, err
		}

		return sessionResponse{
			SessionMetrics: metrics,
		}, nil
	}
}

func statusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		status, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			Status: status,
		}, nil
	}
}

func roundHistoryEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return roundHistoryResponse{}, errors.Join(pkgerrors.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundHistoryResponse{}, errors.Join(pkgerrors.ErrValidation, err)
		}

		page, err := svc.RoundHistory(ctx, req.offset, req.limit)
		if err != nil {
			return roundHistoryResponse{}, err
		}

		return roundHistoryResponse{
			RoundPage: page,
		}, nil
	}
}
