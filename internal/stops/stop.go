package stops

import "regexp"

// Stop is a physical boarding point. Stops are immutable once imported.
type Stop struct {
	ID   ID      `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Cluster is a set of stops unified into one boarding area, represented by
// its root (the ClusterStop). Members includes the root.
type Cluster struct {
	Root    ID      `json:"root"`
	Members []ID    `json:"members"`
	Lat     float64 `json:"cluster_lat"`
	Lon     float64 `json:"cluster_lon"`
}

// Size returns the number of members including the root.
func (c Cluster) Size() int { return len(c.Members) }

// Relationship is an edge from some external entity (a trip, a route) to a
// stop. Kind is the relationship type, e.g. STOPS_AT.
type Relationship struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	Source     string         `json:"source"`
	Stop       ID             `json:"stop"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ViolationKind names one of the integrity checks.
type ViolationKind string

const (
	// ViolationMultipleMemberships: a stop has membership edges to two roots.
	ViolationMultipleMemberships ViolationKind = "multiple-memberships"
	// ViolationTargetNotRoot: a membership edge points at a stop without the root role.
	ViolationTargetNotRoot ViolationKind = "target-not-root"
	// ViolationRootHasMembership: a root is itself a member of another cluster.
	ViolationRootHasMembership ViolationKind = "root-has-membership"
	// ViolationMultipleRoots: connected membership edges reach more than one root.
	ViolationMultipleRoots ViolationKind = "multiple-roots"
	// ViolationSingletonRoot: a root has no members.
	ViolationSingletonRoot ViolationKind = "singleton-root"
)

// Violation is one failed integrity check.
type Violation struct {
	Kind  ViolationKind `json:"kind"`
	Stop  ID            `json:"stop"`
	Other []ID          `json:"other,omitempty"`
}

var relationshipKindRE = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidRelationshipKind reports whether kind is safe to use as a
// relationship type name, e.g. STOPS_AT.
func ValidRelationshipKind(kind string) bool {
	return relationshipKindRE.MatchString(kind)
}
