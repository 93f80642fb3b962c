package unify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

func mustState(t *testing.T, ids ...stops.ID) *State {
	t.Helper()
	s, err := NewState(ids)
	require.NoError(t, err)
	return s
}

func TestState_InstallAndReset(t *testing.T) {
	s := mustState(t, "a:1:1:1:0", "a:1:1:1:1", "b:1:1:1:0", "b:1:1:1:1", "c:1:1:1:0")
	require.NoError(t, s.Install([][]stops.ID{
		{"a:1:1:1:0", "b:1:1:1:0"},
		{"a:1:1:1:1", "b:1:1:1:1", "c:1:1:1:0"},
	}))

	assert.Equal(t, Membership{Root: "a:1:1:1:0", Size: 2}, s.Membership("b:1:1:1:0"))
	assert.Equal(t, Membership{Root: "a:1:1:1:1", Size: 3}, s.Membership("c:1:1:1:0"))
	assert.Empty(t, Verify(s.Snapshot()))

	edges, roles := s.Reset()
	assert.Equal(t, 3, edges)
	assert.Equal(t, 2, roles)
	assert.False(t, s.Membership("b:1:1:1:0").Clustered())
}

func TestState_InstallRejects(t *testing.T) {
	tests := []struct {
		name   string
		groups [][]stops.ID
	}{
		{"singleton", [][]stops.ID{{"a:1:1:1:0"}}},
		{"unknown", [][]stops.ID{{"a:1:1:1:0", "z:1:1:1:0"}}},
		{"overlap", [][]stops.ID{{"a:1:1:1:0", "a:1:1:1:1"}, {"a:1:1:1:1", "b:1:1:1:0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustState(t, "a:1:1:1:0", "a:1:1:1:1", "b:1:1:1:0")
			require.NoError(t, s.Install([][]stops.ID{{"a:1:1:1:0", "b:1:1:1:0"}}))
			err := s.Install(tt.groups)
			assert.True(t, errors.Is(err, stops.ErrPrecondition), "err = %v", err)
			// The previous assignment is intact.
			assert.Equal(t, stops.ID("a:1:1:1:0"), s.Membership("b:1:1:1:0").Root)
		})
	}
}

func TestNewState_Duplicate(t *testing.T) {
	_, err := NewState([]stops.ID{"a:1:1:1:0", "a:1:1:1:0"})
	assert.ErrorIs(t, err, stops.ErrPrecondition)
}

func TestState_MergeTwoExistingClusters(t *testing.T) {
	// at:1:2:3:0 is in cluster A, at:1:2:3:1 in cluster B.
	s := mustState(t, "at:1:2:3:0", "at:1:2:3:1", "x:1:1:1:0", "y:1:1:1:0", "y:1:1:1:1")
	require.NoError(t, s.Install([][]stops.ID{
		{"x:1:1:1:0", "at:1:2:3:0"},
		{"y:1:1:1:0", "at:1:2:3:1", "y:1:1:1:1"},
	}))
	stats := s.MergeByIdentity()

	// B is larger and survives; y:1:1:1:0/1 were already same-station.
	assert.Equal(t, 1, stats.Unified)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, stats.Total())
	want := []stops.Cluster{{
		Root:    "y:1:1:1:0",
		Members: []stops.ID{"at:1:2:3:0", "at:1:2:3:1", "x:1:1:1:0", "y:1:1:1:0", "y:1:1:1:1"},
	}}
	if diff := cmp.Diff(want, s.Clusters()); diff != "" {
		t.Errorf("Clusters mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Verify(s.Snapshot()))
}

func TestState_MergeEqualClustersKeepsSmallerRoot(t *testing.T) {
	s := mustState(t, "at:1:2:3:0", "at:1:2:3:1", "p:1:1:1:0", "q:1:1:1:0")
	require.NoError(t, s.Install([][]stops.ID{
		{"q:1:1:1:0", "at:1:2:3:1"},
		{"p:1:1:1:0", "at:1:2:3:0"},
	}))
	s.MergeByIdentity()

	clusters := s.Clusters()
	require.Len(t, clusters, 1)
	assert.Equal(t, stops.ID("p:1:1:1:0"), clusters[0].Root)
	assert.Len(t, clusters[0].Members, 4)
}

func TestState_MergeFixedPoint(t *testing.T) {
	var ids []stops.ID
	for st := 0; st < 6; st++ {
		for pl := 0; pl < 3; pl++ {
			ids = append(ids, stops.ID(fmt.Sprintf("at:1:%d:0:%d", st, pl)))
		}
	}
	s := mustState(t, ids...)
	// Chain stations together spatially: platform 2 of station i with
	// platform 0 of station i+1.
	var groups [][]stops.ID
	for st := 0; st < 5; st++ {
		groups = append(groups, []stops.ID{
			stops.ID(fmt.Sprintf("at:1:%d:0:2", st)),
			stops.ID(fmt.Sprintf("at:1:%d:0:0", st+1)),
		})
	}
	require.NoError(t, s.Install(groups))

	first := s.MergeByIdentity()
	assert.Greater(t, first.Total(), 0)
	assert.GreaterOrEqual(t, first.Passes, 2)

	clusters := s.Clusters()
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Members, len(ids))

	// No two same-station stops end up apart, and a second run is a no-op.
	for _, g := range StationGroups(ids) {
		root := s.Membership(g[0]).Root
		for _, id := range g[1:] {
			assert.Equal(t, root, s.Membership(id).Root, "stop %s", id)
		}
	}
	second := s.MergeByIdentity()
	assert.Equal(t, 0, second.Total())
	assert.Equal(t, 1, second.Passes)
	assert.Empty(t, Verify(s.Snapshot()))
}

func TestState_ReassignRoots(t *testing.T) {
	s := mustState(t, "a:1:1:1:0", "a:1:1:1:1", "a:1:1:1:2", "b:1:1:1:0", "b:1:1:1:1")
	require.NoError(t, s.Install([][]stops.ID{
		{"a:1:1:1:0", "a:1:1:1:1", "a:1:1:1:2"},
		{"b:1:1:1:0", "b:1:1:1:1"},
	}))
	info := map[stops.ID]RootInfo{
		"a:1:1:1:0": {Name: "Alpha", Usage: 1},
		"a:1:1:1:1": {Name: "Alpha Nord", Usage: 7},
		"a:1:1:1:2": {Name: "Alpha Sued", Usage: 7},
		"b:1:1:1:0": {Name: "Beta", Usage: 9},
		"b:1:1:1:1": {Name: "Beta 2", Usage: 2},
	}

	assert.Equal(t, 1, s.ReassignRoots(info))
	// Usage tie broken by name descending.
	assert.Equal(t, stops.ID("a:1:1:1:2"), s.Membership("a:1:1:1:0").Root)
	assert.Equal(t, stops.ID("b:1:1:1:0"), s.Membership("b:1:1:1:1").Root)
	assert.Equal(t, 3, s.Membership("a:1:1:1:1").Size)
	assert.Empty(t, Verify(s.Snapshot()))

	assert.Equal(t, 0, s.ReassignRoots(info), "second pass must be a no-op")
}

func TestLoadState_RoundTrip(t *testing.T) {
	s := mustState(t, "a:1:1:1:0", "a:1:1:1:1", "b:1:1:1:0")
	require.NoError(t, s.Install([][]stops.ID{{"a:1:1:1:1", "a:1:1:1:0", "b:1:1:1:0"}}))

	loaded, err := LoadState(s.Snapshot())
	require.NoError(t, err)
	if diff := cmp.Diff(s.Clusters(), loaded.Clusters()); diff != "" {
		t.Errorf("LoadState mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadState_RejectsBrokenSnapshot(t *testing.T) {
	snap := Snapshot{
		Stops: []stops.ID{"a:1:1:1:0", "a:1:1:1:1", "b:1:1:1:0"},
		Roots: []stops.ID{"a:1:1:1:0", "b:1:1:1:0"},
		Edges: []Edge{{Member: "a:1:1:1:1", Root: "a:1:1:1:0"}, {Member: "a:1:1:1:1", Root: "b:1:1:1:0"}},
	}
	_, err := LoadState(snap)
	var ierr *InvariantError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "load", ierr.Step)
}
