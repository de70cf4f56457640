package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/x0tta6bl4/meshfl/update"
)

var ErrEmptyWasmOutput = errors.New("wasm aggregator produced no output")

// WasmAggregator runs an operator-supplied aggregation function
// compiled to WASM. The module reads a JSON batch on stdin and writes
// the combined gradient as JSON on stdout, so custom strategies can be
// swapped in without rebuilding the coordinator.
type WasmAggregator struct {
	binary []byte
	logger *slog.Logger
}

type wasmInput struct {
	Round     int         `json:"round"`
	Gradients [][]float64 `json:"gradients"`
	Samples   []int       `json:"samples"`
}

type wasmOutput struct {
	Gradient []float64 `json:"gradient"`
}

// NewWasmAggregator wraps a compiled WASM module. The binary is
// instantiated fresh on every call so a crashed run cannot poison the
// next one.
func NewWasmAggregator(binary []byte, logger *slog.Logger) *WasmAggregator {
	if logger == nil {
		logger = slog.Default()
	}

	return &WasmAggregator{
		binary: binary,
		logger: logger,
	}
}

// Aggregate runs the module over one round's updates.
func (w *WasmAggregator) Aggregate(ctx context.Context, round int, updates []update.ModelUpdate) ([]float64, error) {
	if len(updates) == 0 {
		return nil, ErrNoZoneUpdates
	}

	in := wasmInput{
		Round:     round,
		Gradients: make([][]float64, len(updates)),
		Samples:   make([]int, len(updates)),
	}
	for i, u := range updates {
		in.Gradients[i] = u.Gradient
		in.Samples[i] = u.NumSamples
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	r := wazero.NewRuntime(ctx)
	defer func() {
		if err := r.Close(ctx); err != nil {
			w.logger.Error("failed to close wasm runtime", slog.Any("error", err))
		}
	}()

	// Instantiate WASI, which implements the host functions TinyGo
	// modules need for stdio and `panic`.
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	var stdout bytes.Buffer
	config := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithName("aggregate")

	module, err := r.InstantiateWithConfig(ctx, w.binary, config)
	if err != nil {
		return nil, errors.Join(errors.New("failed to instantiate wasm module"), err)
	}
	defer func() {
		if err := module.Close(ctx); err != nil {
			w.logger.Error("failed to close wasm module", slog.Any("error", err))
		}
	}()

	if stdout.Len() == 0 {
		return nil, ErrEmptyWasmOutput
	}

	var out wasmOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, errors.Join(errors.New("failed to decode wasm output"), err)
	}

	w.logger.Debug("wasm aggregation complete",
		slog.Int("round", round),
		slog.Int("updates", len(updates)),
	)

	return out.Gradient, nil
}
