package api

import (
	"net/http"

	"github.com/x0tta6bl4/meshfl/aggregator"
	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/pkg/api"
)

var (
	_ api.Response = (*nodeResponse)(nil)
	_ api.Response = (*nodeStatusResponse)(nil)
	_ api.Response = (*updateResponse)(nil)
	_ api.Response = (*evaluationResponse)(nil)
	_ api.Response = (*roundResponse)(nil)
	_ api.Response = (*sessionResponse)(nil)
	_ api.Response = (*statusResponse)(nil)
	_ api.Response = (*roundHistoryResponse)(nil)
)

type nodeResponse struct {
	NodeID  string `json:"node_id,omitempty"`
	created bool
	deleted bool
}

func (n nodeResponse) Code() int {
	if n.created {
		return http.StatusCreated
	}
	if n.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (n nodeResponse) Headers() map[string]string {
	if n.created {
		return map[string]string{
			"Location": "/nodes/" + n.NodeID,
		}
	}

	return map[string]string{}
}

func (n nodeResponse) Empty() bool {
	return n.deleted
}

type nodeStatusResponse struct {
	Nodes map[string]aggregator.NodeStatus `json:"nodes"`
}

func (n nodeStatusResponse) Code() int {
	return http.StatusOK
}

func (n nodeStatusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (n nodeStatusResponse) Empty() bool {
	return false
}

type updateResponse struct {
	accepted bool
}

func (u updateResponse) Code() int {
	if u.accepted {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (u updateResponse) Headers() map[string]string {
	return map[string]string{}
}

func (u updateResponse) Empty() bool {
	return true
}

type evaluationResponse struct{}

func (e evaluationResponse) Code() int {
	return http.StatusAccepted
}

func (e evaluationResponse) Headers() map[string]string {
	return map[string]string{}
}

func (e evaluationResponse) Empty() bool {
	return true
}

type roundResponse struct {
	coordinator.Round `json:",inline"`
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type sessionResponse struct {
	coordinator.SessionMetrics `json:",inline"`
}

func (s sessionResponse) Code() int {
	return http.StatusOK
}

func (s sessionResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s sessionResponse) Empty() bool {
	return false
}

type statusResponse struct {
	coordinator.Status `json:",inline"`
}

func (s statusResponse) Code() int {
	return http.StatusOK
}

func (s statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s statusResponse) Empty() bool {
	return false
}

type roundHistoryResponse struct {
	coordinator.RoundPage `json:",inline"`
}

func (r roundHistoryResponse) Code() int {
	return http.StatusOK
}

func (r roundHistoryResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundHistoryResponse) Empty() bool {
	return false
}
