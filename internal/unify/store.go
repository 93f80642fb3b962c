package unify

import (
	"context"

	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// ClearResult reports what ClearClusters removed.
type ClearResult struct {
	EdgesRemoved int `json:"edges_removed"`
	RolesRemoved int `json:"roles_removed"`
}

// ReplaceResult reports what ReplaceClusters installed.
type ReplaceResult struct {
	EdgesCreated  int `json:"edges_created"`
	RootsPromoted int `json:"roots_promoted"`
}

// GraphStore is the persistent graph of stops, clusters and relationships.
// Every mutating method is all-or-nothing, except RedirectRelationships,
// which commits one transaction per batch and can be resumed.
type GraphStore interface {
	// ListStops returns all stops ordered by identifier.
	ListStops(ctx context.Context) ([]stops.Stop, error)
	// HasClusters reports whether any root role or membership edge exists.
	HasClusters(ctx context.Context) (bool, error)
	// ClearClusters removes every membership edge and root role.
	ClearClusters(ctx context.Context) (ClearResult, error)
	// ReplaceClusters installs a fresh partition; the first identifier of
	// each group becomes its root.
	ReplaceClusters(ctx context.Context, groups [][]stops.ID) (ReplaceResult, error)
	// MergeByIdentity runs the identity merge to a fixed point.
	MergeByIdentity(ctx context.Context) (MergeStats, error)
	// VerifyInvariants runs the integrity checks.
	VerifyInvariants(ctx context.Context) ([]stops.Violation, error)
	// ReassignRoots promotes the usage-ranked top member of every cluster
	// and returns how many clusters changed root.
	ReassignRoots(ctx context.Context) (int, error)
	// RedirectRelationships moves eligible relationships from non-root
	// members to their root, batchSize per transaction, and returns how
	// many moved.
	RedirectRelationships(ctx context.Context, batchSize int) (int, error)
	// UpdateClusterPositions stores every cluster's centroid on its root
	// and returns how many roots were updated.
	UpdateClusterPositions(ctx context.Context) (int, error)
	// Clusters lists all clusters ordered by root.
	Clusters(ctx context.Context) ([]stops.Cluster, error)
}

// RunRecorder is implemented by stores that keep a log of pipeline runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, r *Report) error
}

// Positions sets each cluster's position to the centroid of its members,
// root included. Members missing from byID are skipped.
func Positions(clusters []stops.Cluster, byID map[stops.ID]stops.Stop) []stops.Cluster {
	out := make([]stops.Cluster, len(clusters))
	for i, c := range clusters {
		members := make([]stops.Stop, 0, len(c.Members))
		for _, m := range c.Members {
			if s, ok := byID[m]; ok {
				members = append(members, s)
			}
		}
		c.Lat, c.Lon = geo.Centroid(members)
		out[i] = c
	}
	return out
}

// IndexStops maps stops by identifier.
func IndexStops(list []stops.Stop) map[stops.ID]stops.Stop {
	out := make(map[stops.ID]stops.Stop, len(list))
	for _, s := range list {
		out[s.ID] = s
	}
	return out
}
