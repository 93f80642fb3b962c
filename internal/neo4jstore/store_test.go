package neo4jstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/transit-hubs/internal/cluster"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/testutil"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, stops.ErrPrecondition, "missing uri")

	_, err = New(Options{URI: "bolt://localhost:7687", UsageRelationship: "STOPS AT"})
	assert.ErrorIs(t, err, stops.ErrPrecondition)

	_, err = New(Options{URI: "bolt://localhost:7687", RedirectRelationships: []string{"X]->() DETACH DELETE ()<-[Y"}})
	assert.ErrorIs(t, err, stops.ErrPrecondition)

	s, err := New(Options{URI: "bolt://localhost:7687", Database: "hubs"})
	require.NoError(t, err)
	defer s.Close(context.Background())
	assert.Equal(t, `neo4j(database "hubs", usage STOPS_AT, redirect [STOPS_AT])`, s.String())
}

func TestQueriesSpliceKind(t *testing.T) {
	q := redirectQuery("SERVES")
	assert.Contains(t, q, "[r:SERVES]->")
	assert.Contains(t, q, "[moved:SERVES]->(c)")
	assert.Contains(t, q, "LIMIT $limit")
	assert.True(t, strings.Contains(usageQuery("STOPS_AT"), "<-[u:STOPS_AT]-"))
}

func TestRecordValues(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"n", "f", "s"}, Values: []any{int64(3), 1.5, "x"}}
	n, err := intValue(rec, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	f, err := floatValue(rec, "f")
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	f, err = floatValue(rec, "n")
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	assert.Equal(t, "x", stringValue(rec, "s"))
	assert.Equal(t, "", stringValue(rec, "missing"))
	_, err = intValue(rec, "s")
	assert.Error(t, err)
	_, err = intValue(rec, "missing")
	assert.Error(t, err)
}

// The integration test wipes the target database.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("TRANSIT_HUBS_NEO4J_URI")
	if uri == "" {
		t.Skip("TRANSIT_HUBS_NEO4J_URI not set")
	}
	testutil.Quiet(t)
	s, err := New(Options{
		URI:      uri,
		User:     os.Getenv("TRANSIT_HUBS_NEO4J_USER"),
		Password: os.Getenv("TRANSIT_HUBS_NEO4J_PASSWORD"),
		Database: os.Getenv("TRANSIT_HUBS_NEO4J_DATABASE"),
	})
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() { s.Close(ctx) })
	require.NoError(t, s.Ping(ctx))
	_, err = s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return run(ctx, tx, `MATCH (n) DETACH DELETE n`, nil)
	})
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestIntegration_ViennaNetwork(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	testutil.Load(t, s, testutil.ViennaNetwork())

	c, err := cluster.New(cluster.Params{Eps: 200, MaxDiameter: 400})
	require.NoError(t, err)
	p, err := unify.NewPipeline(s, c, 3)
	require.NoError(t, err)

	report, err := p.Run(ctx, unify.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, unify.MergeStats{Created: 1, Attached: 1, Unified: 1, Passes: 2}, report.Merge)
	assert.Equal(t, 2, report.RootsChanged)
	assert.Equal(t, 11, report.Redirected)
	assert.Equal(t, 3, report.Clusters)

	rels, err := s.Relationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, 13, unify.UsageCounts(rels, "STOPS_AT")[testutil.Praterstern])

	_, err = p.Run(ctx, unify.RunOptions{})
	assert.ErrorIs(t, err, unify.ErrResetRequired)
}
