package unify

import (
	"sort"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// KindSet is a set of relationship kinds eligible for redirection.
type KindSet map[string]bool

// NewKindSet validates and collects relationship kinds.
func NewKindSet(kinds ...string) (KindSet, error) {
	if len(kinds) == 0 {
		return nil, &stops.PreconditionError{Field: "redirect relationships", Value: kinds, Reason: "at least one kind is required"}
	}
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		if !stops.ValidRelationshipKind(k) {
			return nil, &stops.PreconditionError{Field: "relationship kind", Value: k, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
		}
		set[k] = true
	}
	return set, nil
}

// Sorted returns the kinds in ascending order.
func (k KindSet) Sorted() []string {
	out := make([]string, 0, len(k))
	for kind := range k {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// CheckBatchSize rejects non-positive redirect batch sizes.
func CheckBatchSize(n int) error {
	if n <= 0 {
		return &stops.PreconditionError{Field: "batchSize", Value: n, Reason: "must be positive"}
	}
	return nil
}

// RootIndex maps every non-root member to its cluster root.
func RootIndex(clusters []stops.Cluster) map[stops.ID]stops.ID {
	out := make(map[stops.ID]stops.ID)
	for _, c := range clusters {
		for _, m := range c.Members {
			if m != c.Root {
				out[m] = c.Root
			}
		}
	}
	return out
}

// PlanRedirect returns the indices of up to limit relationships that need to
// move to a root: those of an eligible kind attached to a non-root member.
// Relationships are scanned in order, so repeated calls with the already
// moved ones applied make progress until nothing is left.
func PlanRedirect(rels []stops.Relationship, rootOf map[stops.ID]stops.ID, kinds KindSet, limit int) []int {
	var out []int
	for i, r := range rels {
		if len(out) == limit {
			break
		}
		if !kinds[r.Kind] {
			continue
		}
		if _, member := rootOf[r.Stop]; member {
			out = append(out, i)
		}
	}
	return out
}

// ClusterOf returns the cluster containing id.
func ClusterOf(clusters []stops.Cluster, id stops.ID) (stops.Cluster, bool) {
	for _, c := range clusters {
		for _, m := range c.Members {
			if m == id {
				return c, true
			}
		}
	}
	return stops.Cluster{}, false
}
