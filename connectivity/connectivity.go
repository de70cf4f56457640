// Package connectivity holds the last-known mesh link quality for
// participant nodes and derives aggregation weights from it.
package connectivity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyNodeID     = errors.New("empty node id")
	ErrInvalidQuality  = errors.New("link quality must be within [0, 1]")
	ErrInvalidLatency  = errors.New("latency must not be negative")
	ErrInvalidHopCount = errors.New("hop count must be at least 1")
)

// NodeConnectivity is the last-known network quality to a node. Link
// quality follows the mesh routing layer's TQ convention, normalized
// to [0, 1].
type NodeConnectivity struct {
	NodeID        string    `json:"node_id"`
	LinkQuality   float64   `json:"link_quality"`
	LatencyMS     float64   `json:"latency_ms"`
	BandwidthMbps float64   `json:"bandwidth_mbps,omitempty"`
	HopCount      int       `json:"hop_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Validate checks the record invariants.
func (c NodeConnectivity) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.LinkQuality < 0 || c.LinkQuality > 1 {
		return ErrInvalidQuality
	}
	if c.LatencyMS < 0 {
		return ErrInvalidLatency
	}
	if c.HopCount < 1 {
		return ErrInvalidHopCount
	}

	return nil
}

// Weight derives the aggregation weight: higher quality, lower latency
// and fewer hops all increase it.
func (c NodeConnectivity) Weight() float64 {
	latencyFactor := 1.0 / (1.0 + c.LatencyMS/100.0)
	hopFactor := 1.0 / float64(c.HopCount)

	return c.LinkQuality * latencyFactor * hopFactor
}

// Stale reports whether the record has not been refreshed within the
// timeout as of now. Stale nodes are excluded from expected
// participants.
func (c NodeConnectivity) Stale(timeout time.Duration, now time.Time) bool {
	return now.Sub(c.LastUpdated) >= timeout
}

// Update carries the fields of an explicit connectivity update. Nil
// fields are left unchanged.
type Update struct {
	LinkQuality   *float64 `json:"link_quality,omitempty"`
	LatencyMS     *float64 `json:"latency_ms,omitempty"`
	BandwidthMbps *float64 `json:"bandwidth_mbps,omitempty"`
	HopCount      *int     `json:"hop_count,omitempty"`
}

// Apply returns c with the non-nil fields of u applied and LastUpdated
// set to now.
func (u Update) Apply(c NodeConnectivity, now time.Time) NodeConnectivity {
	if u.LinkQuality != nil {
		c.LinkQuality = *u.LinkQuality
	}
	if u.LatencyMS != nil {
		c.LatencyMS = *u.LatencyMS
	}
	if u.BandwidthMbps != nil {
		c.BandwidthMbps = *u.BandwidthMbps
	}
	if u.HopCount != nil {
		c.HopCount = *u.HopCount
	}
	c.LastUpdated = now

	return c
}

// MetricsProvider exposes live link metrics from the underlying mesh
// routing layer. A failed lookup is treated as "no update this cycle",
// never as fatal.
type MetricsProvider interface {
	GetConnectivity(ctx context.Context, nodeID string) (NodeConnectivity, error)
}
