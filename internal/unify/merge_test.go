package unify

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

func TestDecideMerge(t *testing.T) {
	const a, b stops.ID = "at:1:2:3:0", "at:1:2:3:1"
	tests := []struct {
		name   string
		ma, mb Membership
		want   MergeAction
	}{
		{
			name: "neither clustered roots smaller id",
			want: MergeAction{Case: CaseCreate, Root: a, Member: b},
		},
		{
			name: "first clustered",
			ma:   Membership{Root: "r:1:1:1:1", Size: 3},
			want: MergeAction{Case: CaseAttach, Root: "r:1:1:1:1", Member: b},
		},
		{
			name: "second clustered",
			mb:   Membership{Root: "r:1:1:1:1", Size: 3},
			want: MergeAction{Case: CaseAttach, Root: "r:1:1:1:1", Member: a},
		},
		{
			name: "same root",
			ma:   Membership{Root: "r:1:1:1:1", Size: 3},
			mb:   Membership{Root: "r:1:1:1:1", Size: 3},
			want: MergeAction{Case: CaseSame, Root: "r:1:1:1:1"},
		},
		{
			name: "larger cluster survives",
			ma:   Membership{Root: "r:1:1:1:1", Size: 2},
			mb:   Membership{Root: "r:9:9:9:9", Size: 5},
			want: MergeAction{Case: CaseUnion, Root: "r:9:9:9:9", Demoted: "r:1:1:1:1"},
		},
		{
			name: "equal sizes go to smaller root",
			ma:   Membership{Root: "r:9:9:9:9", Size: 2},
			mb:   Membership{Root: "r:1:1:1:1", Size: 2},
			want: MergeAction{Case: CaseUnion, Root: "r:1:1:1:1", Demoted: "r:9:9:9:9"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideMerge(a, b, tt.ma, tt.mb)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecideMerge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecideMerge_Symmetric(t *testing.T) {
	const a, b stops.ID = "at:1:2:3:0", "at:1:2:3:1"
	memberships := []Membership{
		{},
		{Root: "r:1:1:1:1", Size: 2},
		{Root: "r:2:2:2:2", Size: 2},
		{Root: "r:3:3:3:3", Size: 4},
	}
	for _, ma := range memberships {
		for _, mb := range memberships {
			x := DecideMerge(a, b, ma, mb)
			y := DecideMerge(b, a, mb, ma)
			if x != y {
				t.Errorf("DecideMerge not symmetric for %+v/%+v: %+v vs %+v", ma, mb, x, y)
			}
		}
	}
}

func TestMergeStatsTotal(t *testing.T) {
	var s MergeStats
	for _, c := range []MergeCase{CaseCreate, CaseAttach, CaseAttach, CaseSame, CaseUnion} {
		s.Add(c)
	}
	if s.Total() != 4 {
		t.Errorf("Total() = %d, want 4", s.Total())
	}
	if got := CaseUnion.String(); got != "union" {
		t.Errorf("CaseUnion.String() = %q", got)
	}
}

func TestStationGroups(t *testing.T) {
	ids := []stops.ID{"at:1:1:1:2", "at:2:2:2:0", "at:1:1:1:0", "at:1:1:1:1", "at:3:3:3:0", "at:3:3:3:9"}
	got := StationGroups(ids)
	want := [][]stops.ID{
		{"at:1:1:1:0", "at:1:1:1:1", "at:1:1:1:2"},
		{"at:3:3:3:0", "at:3:3:3:9"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("StationGroups mismatch (-want +got):\n%s", diff)
	}

	pairs := MergePairs(want[0])
	wantPairs := [][2]stops.ID{{"at:1:1:1:0", "at:1:1:1:1"}, {"at:1:1:1:0", "at:1:1:1:2"}}
	if diff := cmp.Diff(wantPairs, pairs); diff != "" {
		t.Errorf("MergePairs mismatch (-want +got):\n%s", diff)
	}
}
