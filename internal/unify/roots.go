package unify

import (
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Candidate is one cluster member as seen by SelectRoot.
type Candidate struct {
	ID    stops.ID
	Name  string
	Usage int
}

// RanksAbove orders candidates by usage descending, then name descending,
// then identifier ascending.
func RanksAbove(a, b Candidate) bool {
	if a.Usage != b.Usage {
		return a.Usage > b.Usage
	}
	if a.Name != b.Name {
		return a.Name > b.Name
	}
	return a.ID < b.ID
}

// SelectRoot returns the top-ranked candidate's identifier. It returns ""
// for an empty list.
func SelectRoot(cands []Candidate) stops.ID {
	if len(cands) == 0 {
		return ""
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if RanksAbove(c, best) {
			best = c
		}
	}
	return best.ID
}

// UsageCounts counts relationships of the given kind per stop.
func UsageCounts(rels []stops.Relationship, kind string) map[stops.ID]int {
	out := make(map[stops.ID]int)
	for _, r := range rels {
		if r.Kind == kind {
			out[r.Stop]++
		}
	}
	return out
}

// RootInfos combines stop names and usage counts for ReassignRoots.
func RootInfos(list []stops.Stop, usage map[stops.ID]int) map[stops.ID]RootInfo {
	out := make(map[stops.ID]RootInfo, len(list))
	for _, s := range list {
		out[s.ID] = RootInfo{Name: s.Name, Usage: usage[s.ID]}
	}
	return out
}
