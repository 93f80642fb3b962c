package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/transit-hubs/internal/memstore"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/testutil"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.New(memstore.Options{})
	require.NoError(t, err)
	testutil.Load(t, s, testutil.ViennaNetwork())
	return s
}

func TestNew_RejectsBadKinds(t *testing.T) {
	_, err := memstore.New(memstore.Options{UsageRelationship: "stops at"})
	assert.ErrorIs(t, err, stops.ErrPrecondition)
	_, err = memstore.New(memstore.Options{RedirectRelationships: []string{"STOPS_AT", "x-y"}})
	assert.ErrorIs(t, err, stops.ErrPrecondition)
}

func TestAddStops_Validation(t *testing.T) {
	s := newStore(t)
	err := s.AddStops(stops.Stop{ID: testutil.Oper})
	assert.ErrorIs(t, err, stops.ErrPrecondition)
	err = s.AddStops(stops.Stop{ID: "short:id"})
	var idErr *stops.IDError
	assert.ErrorAs(t, err, &idErr)

	_, err = s.AddRelationship("STOPS_AT", "trip:1", "at:0:0:0:0", nil)
	assert.ErrorIs(t, err, stops.ErrPrecondition)
}

func TestListStopsSorted(t *testing.T) {
	s := newStore(t)
	list, err := s.ListStops(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 10)
	for i := 1; i < len(list); i++ {
		assert.Less(t, string(list[i-1].ID), string(list[i].ID))
	}
}

func TestReplaceAndClear(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	has, err := s.HasClusters(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	res, err := s.ReplaceClusters(ctx, [][]stops.ID{
		{testutil.Karlsplatz, testutil.Oper},
		{testutil.Praterstern, testutil.PratersternBus, testutil.Huetteldorf},
	})
	require.NoError(t, err)
	assert.Equal(t, unify.ReplaceResult{EdgesCreated: 3, RootsPromoted: 2}, res)

	has, err = s.HasClusters(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	// A bad partition is rejected and leaves the previous one in place.
	_, err = s.ReplaceClusters(ctx, [][]stops.ID{{testutil.Oper, testutil.Oper}})
	assert.ErrorIs(t, err, stops.ErrPrecondition)
	clusters, err := s.Clusters(ctx)
	require.NoError(t, err)
	assert.Len(t, clusters, 2)

	cleared, err := s.ClearClusters(ctx)
	require.NoError(t, err)
	assert.Equal(t, unify.ClearResult{EdgesRemoved: 3, RolesRemoved: 2}, cleared)
	clusters, err = s.Clusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestRedirect_StopsOnCancelledContext(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.ReplaceClusters(ctx, [][]stops.ID{{testutil.Praterstern, testutil.PratersternBus}})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	moved, err := s.RedirectRelationships(cancelled, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, moved)

	// Resuming completes the work.
	moved, err = s.RedirectRelationships(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	_, err = s.RedirectRelationships(ctx, 0)
	assert.ErrorIs(t, err, stops.ErrPrecondition)
}

func TestRedirect_LoadsStateOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.ReplaceClusters(ctx, [][]stops.ID{{testutil.Praterstern, testutil.PratersternBus}})
	require.NoError(t, err)

	before := s.LoadCount()
	moved, err := s.RedirectRelationships(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.Equal(t, 1, s.LoadCount()-before, "state rebuilds per redirect call")
}

func TestUpdateClusterPositions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.ReplaceClusters(ctx, [][]stops.ID{{testutil.Karlsplatz, testutil.Oper}})
	require.NoError(t, err)

	n, err := s.UpdateClusterPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clusters, err := s.Clusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	lat, lon := testutil.At(2000, 30)
	assert.InDelta(t, lat, clusters[0].Lat, 1e-9)
	assert.InDelta(t, lon, clusters[0].Lon, 1e-9)
	assert.Contains(t, s.String(), "10 stops")
}
