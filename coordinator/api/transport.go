package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/pkg/api"
	pkgerrors "github.com/x0tta6bl4/meshfl/pkg/errors"
)

const cborContentType = "application/cbor"

func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(api.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/nodes", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			registerNodeEndpoint(svc),
			decodeRegisterNodeReq,
			api.EncodeResponse,
			opts...,
		), "register-node").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			nodeStatusEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "node-status").ServeHTTP)
		r.Route("/{nodeID}", func(r chi.Router) {
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				unregisterNodeEndpoint(svc),
				decodeEntityReq("nodeID"),
				api.EncodeResponse,
				opts...,
			), "unregister-node").ServeHTTP)
			r.Put("/connectivity", otelhttp.NewHandler(kithttp.NewServer(
				updateConnectivityEndpoint(svc),
				decodeUpdateConnectivityReq,
				api.EncodeResponse,
				opts...,
			), "update-connectivity").ServeHTTP)
		})
	})

	mux.Route("/updates", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			submitUpdateEndpoint(svc),
			decodeSubmitUpdateReq,
			api.EncodeResponse,
			opts...,
		), "submit-update").ServeHTTP)
		r.Post("/cbor", otelhttp.NewHandler(kithttp.NewServer(
			submitUpdateEndpoint(svc),
			decodeSubmitUpdateCBORReq,
			api.EncodeResponse,
			opts...,
		), "submit-update-cbor").ServeHTTP)
	})

	mux.Post("/evaluations", otelhttp.NewHandler(kithttp.NewServer(
		recordEvaluationEndpoint(svc),
		decodeEvaluationReq,
		api.EncodeResponse,
		opts...,
	), "record-evaluation").ServeHTTP)

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			roundHistoryEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "round-history").ServeHTTP)
		r.Post("/run", otelhttp.NewHandler(kithttp.NewServer(
			runRoundEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "run-round").ServeHTTP)
	})

	mux.Post("/sessions/run", otelhttp.NewHandler(kithttp.NewServer(
		runSessionEndpoint(svc),
		decodeRunSessionReq,
		api.EncodeResponse,
		opts...,
	), "run-session").ServeHTTP)

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		statusEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "status").ServeHTTP)

	mux.Get("/health", api.Health("coordinator", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEmptyReq(_ context.Context, _ *http.Request) (any, error) {
	return nil, nil
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeRegisterNodeReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrValidation, errors.New("unsupported content type"))
	}

	var req registerNodeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}

	return req, nil
}

func decodeUpdateConnectivityReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrValidation, errors.New("unsupported content type"))
	}

	var req updateConnectivityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}
	req.id = chi.URLParam(r, "nodeID")

	return req, nil
}

func decodeSubmitUpdateReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrValidation, errors.New("unsupported content type"))
	}

	var req submitUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}

	return req, nil
}

func decodeSubmitUpdateCBORReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), cborContentType) {
		return nil, errors.Join(pkgerrors.ErrValidation, errors.New("unsupported content type"))
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}

	var req submitUpdateReq
	if err := cbor.Unmarshal(payload, &req.ModelUpdate); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}

	return req, nil
}

func decodeEvaluationReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrValidation, errors.New("unsupported content type"))
	}

	var req evaluationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}

	return req, nil
}

func decodeRunSessionReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrValidation, errors.New("unsupported content type"))
	}

	var req runSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrValidation)
	}

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := api.ReadNumQuery(r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(pkgerrors.ErrValidation, err)
	}

	l, err := api.ReadNumQuery(r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(pkgerrors.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}
