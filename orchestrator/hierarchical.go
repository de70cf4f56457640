package orchestrator

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"

	"github.com/x0tta6bl4/meshfl/pkg/vector"
	"github.com/x0tta6bl4/meshfl/update"
)

// hierarchical splits nodes into zones by stable hash, aggregates each
// zone independently and averages the zone results. Only zones that
// actually received updates contribute to the final average.
type hierarchical struct {
	*base
	numZones int
}

func newHierarchical(b *base, opts Options) (*hierarchical, error) {
	zones := opts.NumZones
	if zones == 0 {
		zones = DefaultNumZones
	}
	if zones < 1 {
		return nil, ErrInvalidZones
	}

	return &hierarchical{
		base:     b,
		numZones: zones,
	}, nil
}

// Zone returns the stable zone index for a node id.
func (o *hierarchical) Zone(nodeID string) int {
	h := fnv.New32a()
	h.Write([]byte(nodeID))

	return int(h.Sum32()) % o.numZones
}

func (o *hierarchical) AggregateUpdates(_ context.Context, updates []update.ModelUpdate) ([]float64, error) {
	if len(updates) == 0 {
		return nil, ErrNoZoneUpdates
	}

	zones := make(map[int][]update.ModelUpdate)
	for _, u := range updates {
		z := o.Zone(u.NodeID)
		zones[z] = append(zones[z], u)
	}

	zoneIDs := make([]int, 0, len(zones))
	for z := range zones {
		zoneIDs = append(zoneIDs, z)
	}
	sort.Ints(zoneIDs)

	zoneGradients := make([][]float64, 0, len(zoneIDs))
	for _, z := range zoneIDs {
		g, flagged, err := o.detector.FilterAndAggregate(zones[z], o.method)
		if err != nil {
			return nil, err
		}
		o.noteFlagged(flagged)
		zoneGradients = append(zoneGradients, g)
		o.logger.Debug("zone aggregated",
			slog.Int("zone", z),
			slog.Int("updates", len(zones[z])),
		)
	}

	return vector.Mean(zoneGradients)
}
