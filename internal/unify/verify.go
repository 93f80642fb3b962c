package unify

import (
	"sort"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Edge is a membership edge from a non-root member to its cluster root.
type Edge struct {
	Member stops.ID `json:"member"`
	Root   stops.ID `json:"root"`
}

// Snapshot is the raw cluster state of a store: the stops carrying the
// root role and every membership edge. It may be inconsistent; Verify
// reports how.
type Snapshot struct {
	Stops []stops.ID
	Roots []stops.ID
	Edges []Edge
}

// Verify runs every integrity check over a snapshot. Violations are ordered
// by kind, then stop.
func Verify(s Snapshot) []stops.Violation {
	isRoot := make(map[stops.ID]bool, len(s.Roots))
	for _, r := range s.Roots {
		isRoot[r] = true
	}
	targets := make(map[stops.ID][]stops.ID)
	incoming := make(map[stops.ID]int)
	for _, e := range s.Edges {
		if !containsID(targets[e.Member], e.Root) {
			targets[e.Member] = append(targets[e.Member], e.Root)
		}
		incoming[e.Root]++
	}

	var out []stops.Violation
	for member, ts := range targets {
		stops.SortIDs(ts)
		if len(ts) > 1 {
			out = append(out, stops.Violation{Kind: stops.ViolationMultipleMemberships, Stop: member, Other: ts})
		}
		for _, t := range ts {
			if !isRoot[t] {
				out = append(out, stops.Violation{Kind: stops.ViolationTargetNotRoot, Stop: member, Other: []stops.ID{t}})
			}
		}
		if isRoot[member] {
			out = append(out, stops.Violation{Kind: stops.ViolationRootHasMembership, Stop: member, Other: ts})
		}
	}
	for r := range isRoot {
		if incoming[r] == 0 {
			out = append(out, stops.Violation{Kind: stops.ViolationSingletonRoot, Stop: r})
		}
	}
	out = append(out, multipleRoots(s.Edges, isRoot)...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Stop < out[j].Stop
	})
	return out
}

// multipleRoots finds connected groups of membership edges that reach more
// than one root.
func multipleRoots(edges []Edge, isRoot map[stops.ID]bool) []stops.Violation {
	parent := make(map[stops.ID]stops.ID)
	var find func(stops.ID) stops.ID
	find = func(x stops.ID) stops.ID {
		for {
			p, ok := parent[x]
			if !ok || p == x {
				return x
			}
			gp := parent[p]
			parent[x] = gp
			x = gp
		}
	}
	union := func(a, b stops.ID) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}
	for _, e := range edges {
		if _, ok := parent[e.Member]; !ok {
			parent[e.Member] = e.Member
		}
		if _, ok := parent[e.Root]; !ok {
			parent[e.Root] = e.Root
		}
		union(e.Member, e.Root)
	}

	rootsByComponent := make(map[stops.ID][]stops.ID)
	for id := range parent {
		if isRoot[id] {
			c := find(id)
			rootsByComponent[c] = append(rootsByComponent[c], id)
		}
	}
	var out []stops.Violation
	for _, rs := range rootsByComponent {
		if len(rs) < 2 {
			continue
		}
		stops.SortIDs(rs)
		out = append(out, stops.Violation{Kind: stops.ViolationMultipleRoots, Stop: rs[0], Other: rs[1:]})
	}
	return out
}

func containsID(list []stops.ID, id stops.ID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
