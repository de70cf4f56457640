package api

import (
	"github.com/x0tta6bl4/meshfl/connectivity"
	pkgerrors "github.com/x0tta6bl4/meshfl/pkg/errors"
	"github.com/x0tta6bl4/meshfl/update"
)

type registerNodeReq struct {
	connectivity.NodeConnectivity `json:",inline"`
}

func (r *registerNodeReq) validate() error {
	return r.NodeConnectivity.Validate()
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return pkgerrors.ErrEmptyID
	}

	return nil
}

type updateConnectivityReq struct {
	id string

	connectivity.Update `json:",inline"`
}

func (r *updateConnectivityReq) validate() error {
	if r.id == "" {
		return pkgerrors.ErrEmptyID
	}

	return nil
}

type submitUpdateReq struct {
	update.ModelUpdate `json:",inline"`
}

func (r *submitUpdateReq) validate() error {
	return r.ModelUpdate.Validate(0)
}

type evaluationReq struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

func (r *evaluationReq) validate() error {
	return nil
}

type runSessionReq struct {
	MaxRounds int `json:"max_rounds"`
}

func (r *runSessionReq) validate() error {
	if r.MaxRounds < 1 {
		return pkgerrors.ErrValidation
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	return nil
}
