package unify

import (
	"sort"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Membership is a stop's current cluster status. An empty Root means the
// stop is not clustered. Size counts the cluster's members, root included.
type Membership struct {
	Root stops.ID
	Size int
}

// Clustered reports whether the stop belongs to a cluster.
func (m Membership) Clustered() bool { return m.Root != "" }

// MergeCase enumerates the four identity merge cases.
type MergeCase int

const (
	// CaseCreate: neither stop is clustered; a new cluster is created.
	CaseCreate MergeCase = iota + 1
	// CaseAttach: one stop is clustered; the other joins its cluster.
	CaseAttach
	// CaseSame: both stops already share a root.
	CaseSame
	// CaseUnion: the stops have different roots; the clusters are merged.
	CaseUnion
)

func (c MergeCase) String() string {
	switch c {
	case CaseCreate:
		return "create"
	case CaseAttach:
		return "attach"
	case CaseSame:
		return "same"
	case CaseUnion:
		return "union"
	}
	return "unknown"
}

// MergeAction is the outcome of DecideMerge.
//
//	CaseCreate: Root becomes a root, Member joins it.
//	CaseAttach: Member joins the existing cluster of Root.
//	CaseSame:   nothing to do.
//	CaseUnion:  Demoted loses its root role; it and all its members join Root.
type MergeAction struct {
	Case    MergeCase
	Root    stops.ID
	Member  stops.ID
	Demoted stops.ID
}

// DecideMerge applies the merge rule to a pair of same-station stops. It is
// the single rule shared by every store. Ties are broken so that the result
// does not depend on argument order: a new cluster is rooted at the smaller
// identifier, and in a union the larger cluster's root survives, equal sizes
// going to the smaller root identifier.
func DecideMerge(a, b stops.ID, ma, mb Membership) MergeAction {
	switch {
	case !ma.Clustered() && !mb.Clustered():
		if b < a {
			a, b = b, a
		}
		return MergeAction{Case: CaseCreate, Root: a, Member: b}
	case ma.Clustered() && !mb.Clustered():
		return MergeAction{Case: CaseAttach, Root: ma.Root, Member: b}
	case !ma.Clustered() && mb.Clustered():
		return MergeAction{Case: CaseAttach, Root: mb.Root, Member: a}
	case ma.Root == mb.Root:
		return MergeAction{Case: CaseSame, Root: ma.Root}
	}
	keep, drop := ma, mb
	if mb.Size > ma.Size || (mb.Size == ma.Size && mb.Root < ma.Root) {
		keep, drop = mb, ma
	}
	return MergeAction{Case: CaseUnion, Root: keep.Root, Demoted: drop.Root}
}

// MergeStats counts applied merge cases.
type MergeStats struct {
	Created  int `json:"created"`
	Attached int `json:"attached"`
	Unified  int `json:"unified"`
	Passes   int `json:"passes"`
}

// Total is the number of merge operations, i.e. every case except CaseSame.
func (s MergeStats) Total() int { return s.Created + s.Attached + s.Unified }

// Add counts one applied action.
func (s *MergeStats) Add(c MergeCase) {
	switch c {
	case CaseCreate:
		s.Created++
	case CaseAttach:
		s.Attached++
	case CaseUnion:
		s.Unified++
	}
}

// StationGroups groups identifiers by station key, keeping only stations
// with at least two stops. Groups are ordered by station key and sorted
// within.
func StationGroups(ids []stops.ID) [][]stops.ID {
	byKey := make(map[string][]stops.ID)
	var keys []string
	for _, id := range ids {
		k := id.StationKey()
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], id)
	}
	sort.Strings(keys)
	var out [][]stops.ID
	for _, k := range keys {
		g := byKey[k]
		if len(g) < 2 {
			continue
		}
		stops.SortIDs(g)
		out = append(out, g)
	}
	return out
}

// MergePairs lists the pairs a merge pass visits for one station group:
// the first stop paired with each of the others. Any further pair of the
// group would be CaseSame once these are applied.
func MergePairs(group []stops.ID) [][2]stops.ID {
	if len(group) < 2 {
		return nil
	}
	out := make([][2]stops.ID, 0, len(group)-1)
	for _, id := range group[1:] {
		out = append(out, [2]stops.ID{group[0], id})
	}
	return out
}
