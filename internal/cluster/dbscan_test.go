package cluster

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
)

func TestDBSCAN_TransitiveChain(t *testing.T) {
	points := []orb.Point{
		{0, 0}, {8, 0}, {16, 0}, // chain linked by 8m steps
		{100, 100},              // noise
		{200, 0}, {205, 0},      // second group
	}
	got := DBSCAN(points, DBSCANParams{Eps: 10, MinPts: 2})
	want := [][]int{{0, 1, 2}, {4, 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DBSCAN mismatch (-want +got):\n%s", diff)
	}
}

func TestDBSCAN_Empty(t *testing.T) {
	if got := DBSCAN(nil, DBSCANParams{Eps: 1}); got != nil {
		t.Errorf("DBSCAN(nil) = %v, want nil", got)
	}
	if got := DBSCAN([]orb.Point{{0, 0}}, DBSCANParams{Eps: 1}); len(got) != 0 {
		t.Errorf("DBSCAN(single) = %v, want no groups", got)
	}
	if got := DBSCAN([]orb.Point{{0, 0}, {0, 0}}, DBSCANParams{Eps: 0}); got != nil {
		t.Errorf("DBSCAN(eps=0) = %v, want nil", got)
	}
}

func TestDBSCAN_NegativeCoordinates(t *testing.T) {
	// Points straddle cell boundaries around the origin.
	points := []orb.Point{{-0.5, -0.5}, {0.4, 0.4}, {-3, 7}}
	got := DBSCAN(points, DBSCANParams{Eps: 2})
	want := [][]int{{0, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DBSCAN mismatch (-want +got):\n%s", diff)
	}
}

func TestSpatialIndex_RegionQuery(t *testing.T) {
	points := []orb.Point{{0, 0}, {3, 4}, {5.1, 0}, {-5, 0}}
	si := NewSpatialIndex(5)
	si.Build(points)

	got := map[int]bool{}
	for _, j := range si.RegionQuery(points, 0, 5) {
		got[j] = true
	}
	want := map[int]bool{0: true, 1: true, 3: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RegionQuery mismatch (-want +got):\n%s", diff)
	}
}

func TestSpatialIndex_MillimetreCellsAtProjectedScale(t *testing.T) {
	// Cell indices here are around 4e9; neighbouring cells must stay distinct.
	points := []orb.Point{
		{4_000_000, 5_300_000},
		{4_000_000.0005, 5_300_000},
		{4_000_000.0025, 5_300_000},
		{-4_000_000, 5_300_000},
	}
	si := NewSpatialIndex(0.001)
	si.Build(points)

	tests := []struct {
		idx  int
		want []int
	}{
		{0, []int{0, 1}},
		{1, []int{0, 1}},
		{2, []int{2}},
		{3, []int{3}},
	}
	for _, tt := range tests {
		got := si.RegionQuery(points, tt.idx, 0.001)
		sort.Ints(got)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("RegionQuery(%d) mismatch (-want +got):\n%s", tt.idx, diff)
		}
	}
}

func TestResolveOverlaps(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	cands := [][]int{{2, 3, 4}, {0, 1, 2}, {4, 5}}
	got := resolveOverlaps(cands, 6, less)
	// Equal sizes: the candidate holding stop 0 wins, then {3,4} beats {4,5}.
	want := [][]int{{0, 1, 2}, {3, 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolveOverlaps mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveOverlaps_LargestFirst(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	cands := [][]int{{0, 1}, {1, 2, 3, 4}, {4, 5}}
	got := resolveOverlaps(cands, 6, less)
	want := [][]int{{1, 2, 3, 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolveOverlaps mismatch (-want +got):\n%s", diff)
	}
}

func TestBoundedCandidates(t *testing.T) {
	// Six points 80m apart in a line, linked at eps=100, bound 250.
	var points []orb.Point
	for i := 0; i < 6; i++ {
		points = append(points, orb.Point{0, float64(i) * 80})
	}
	members := []int{0, 1, 2, 3, 4, 5}
	cands := boundedCandidates(points, members, 100, 250)
	want := [][]int{
		{0, 1, 2, 3},
		{0, 1, 2, 3},
		{0, 1, 2, 3},
		{1, 2, 3, 4},
		{2, 3, 4, 5},
		{2, 3, 4, 5},
	}
	if diff := cmp.Diff(want, cands); diff != "" {
		t.Errorf("boundedCandidates mismatch (-want +got):\n%s", diff)
	}
}
