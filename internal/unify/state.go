package unify

import (
	"fmt"
	"sort"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

const unclustered = -1

// State is an in-memory cluster assignment over a fixed set of stops. Stops
// live in an arena addressed by index; root[i] is the index of the root of
// i's cluster, or -1. A root points at itself. Each root also keeps its
// member list so a union relabels only the smaller side.
type State struct {
	ids     []stops.ID
	index   map[stops.ID]int
	root    []int
	members map[int][]int // root index -> member indices, root included
}

// NewState returns a State with every stop unclustered. Duplicate
// identifiers are rejected.
func NewState(ids []stops.ID) (*State, error) {
	s := &State{
		ids:     append([]stops.ID(nil), ids...),
		index:   make(map[stops.ID]int, len(ids)),
		root:    make([]int, len(ids)),
		members: make(map[int][]int),
	}
	for i, id := range s.ids {
		if _, dup := s.index[id]; dup {
			return nil, &stops.PreconditionError{Field: "stop id", Value: id, Reason: "duplicate"}
		}
		s.index[id] = i
		s.root[i] = unclustered
	}
	return s, nil
}

// LoadState builds a State from a store snapshot. The snapshot must pass
// Verify, and every edge must reference a listed stop.
func LoadState(snap Snapshot) (*State, error) {
	if v := Verify(snap); len(v) > 0 {
		return nil, &InvariantError{Step: "load", Violations: v}
	}
	s, err := NewState(snap.Stops)
	if err != nil {
		return nil, err
	}
	for _, r := range snap.Roots {
		ri, ok := s.index[r]
		if !ok {
			return nil, fmt.Errorf("root %s is not a known stop", r)
		}
		s.root[ri] = ri
		s.members[ri] = []int{ri}
	}
	for _, e := range snap.Edges {
		mi, ok := s.index[e.Member]
		if !ok {
			return nil, fmt.Errorf("membership edge from unknown stop %s", e.Member)
		}
		ri := s.index[e.Root]
		s.root[mi] = ri
		s.members[ri] = append(s.members[ri], mi)
	}
	return s, nil
}

// Len returns the number of stops.
func (s *State) Len() int { return len(s.ids) }

// Install replaces all cluster state with the given groups. The first
// identifier of each group becomes its root. Groups must be disjoint, of
// size at least two, and reference known stops.
func (s *State) Install(groups [][]stops.ID) error {
	root := make([]int, len(s.root))
	for i := range root {
		root[i] = unclustered
	}
	members := make(map[int][]int, len(groups))
	for gi, g := range groups {
		if len(g) < 2 {
			return &stops.PreconditionError{Field: "group", Value: gi, Reason: "fewer than 2 members"}
		}
		r, ok := s.index[g[0]]
		if !ok {
			return &stops.PreconditionError{Field: "stop id", Value: g[0], Reason: "unknown stop"}
		}
		for _, id := range g {
			i, ok := s.index[id]
			if !ok {
				return &stops.PreconditionError{Field: "stop id", Value: id, Reason: "unknown stop"}
			}
			if root[i] != unclustered {
				return &stops.PreconditionError{Field: "stop id", Value: id, Reason: "in more than one group"}
			}
			root[i] = r
			members[r] = append(members[r], i)
		}
	}
	s.root = root
	s.members = members
	return nil
}

// Reset removes all cluster state and returns the number of membership
// edges and root roles removed.
func (s *State) Reset() (edges, roles int) {
	for _, m := range s.members {
		edges += len(m) - 1
		roles++
	}
	for i := range s.root {
		s.root[i] = unclustered
	}
	s.members = make(map[int][]int)
	return edges, roles
}

// Membership returns the cluster status of id. Unknown stops are reported
// as unclustered.
func (s *State) Membership(id stops.ID) Membership {
	i, ok := s.index[id]
	if !ok || s.root[i] == unclustered {
		return Membership{}
	}
	r := s.root[i]
	return Membership{Root: s.ids[r], Size: len(s.members[r])}
}

// Apply performs one merge action.
func (s *State) Apply(a MergeAction) {
	switch a.Case {
	case CaseCreate:
		r, m := s.index[a.Root], s.index[a.Member]
		s.root[r], s.root[m] = r, r
		s.members[r] = []int{r, m}
	case CaseAttach:
		r, m := s.index[a.Root], s.index[a.Member]
		s.root[m] = r
		s.members[r] = append(s.members[r], m)
	case CaseUnion:
		keep, drop := s.index[a.Root], s.index[a.Demoted]
		for _, m := range s.members[drop] {
			s.root[m] = keep
		}
		s.members[keep] = append(s.members[keep], s.members[drop]...)
		delete(s.members, drop)
	}
}

// MergeByIdentity applies DecideMerge to every same-station pair until a
// full pass changes nothing.
func (s *State) MergeByIdentity() MergeStats {
	groups := StationGroups(s.ids)
	var stats MergeStats
	for {
		stats.Passes++
		changed := 0
		for _, g := range groups {
			for _, p := range MergePairs(g) {
				a := DecideMerge(p[0], p[1], s.Membership(p[0]), s.Membership(p[1]))
				if a.Case == CaseSame {
					continue
				}
				s.Apply(a)
				stats.Add(a.Case)
				changed++
			}
		}
		if changed == 0 {
			return stats
		}
	}
}

// RootInfo is what root selection ranks a member by.
type RootInfo struct {
	Name  string
	Usage int
}

// ReassignRoots promotes the top-ranked member of every cluster to root and
// returns the number of clusters whose root changed.
func (s *State) ReassignRoots(info map[stops.ID]RootInfo) int {
	changed := 0
	for _, r := range s.rootIndices() {
		ms := s.members[r]
		cands := make([]Candidate, len(ms))
		for i, m := range ms {
			id := s.ids[m]
			cands[i] = Candidate{ID: id, Name: info[id].Name, Usage: info[id].Usage}
		}
		best := s.index[SelectRoot(cands)]
		if best == r {
			continue
		}
		for _, m := range ms {
			s.root[m] = best
		}
		s.members[best] = ms
		delete(s.members, r)
		changed++
	}
	return changed
}

func (s *State) rootIndices() []int {
	out := make([]int, 0, len(s.members))
	for r := range s.members {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return s.ids[out[i]] < s.ids[out[j]] })
	return out
}

// Clusters returns every cluster ordered by root, members sorted and
// including the root. Positions are left zero.
func (s *State) Clusters() []stops.Cluster {
	roots := s.rootIndices()
	out := make([]stops.Cluster, 0, len(roots))
	for _, r := range roots {
		ids := make([]stops.ID, len(s.members[r]))
		for i, m := range s.members[r] {
			ids[i] = s.ids[m]
		}
		stops.SortIDs(ids)
		out = append(out, stops.Cluster{Root: s.ids[r], Members: ids})
	}
	return out
}

// Snapshot returns the state in store form.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{Stops: append([]stops.ID(nil), s.ids...)}
	for _, c := range s.Clusters() {
		snap.Roots = append(snap.Roots, c.Root)
		for _, m := range c.Members {
			if m != c.Root {
				snap.Edges = append(snap.Edges, Edge{Member: m, Root: c.Root})
			}
		}
	}
	return snap
}
