package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/transit-hubs/internal/cluster"
	"github.com/banshee-data/transit-hubs/internal/db"
	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/httputil"
	"github.com/banshee-data/transit-hubs/internal/memstore"
	"github.com/banshee-data/transit-hubs/internal/report"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/testutil"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

func unified(t *testing.T, store interface {
	unify.GraphStore
	testutil.Loader
}) {
	t.Helper()
	testutil.Load(t, store, testutil.ViennaNetwork())
	c, err := cluster.New(cluster.Params{Eps: 200, MaxDiameter: 400})
	require.NoError(t, err)
	p, err := unify.NewPipeline(store, c, 100)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), unify.RunOptions{})
	require.NoError(t, err)
}

func newMemServer(t *testing.T) *http.ServeMux {
	t.Helper()
	testutil.Quiet(t)
	store, err := memstore.New(memstore.Options{})
	require.NoError(t, err)
	unified(t, store)
	return NewServer(store, geo.ProjectionLocal).ServeMux()
}

func serve(mux http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewTestRequest(method, path))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(newMemServer(t), http.MethodGet, "/healthz")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestListClusters(t *testing.T) {
	rec := serve(newMemServer(t), http.MethodGet, "/api/clusters")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var clusters []stops.Cluster
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&clusters))
	require.Len(t, clusters, 3)
	assert.Equal(t, testutil.WestbahnhofU, clusters[0].Root)
	assert.Equal(t, testutil.Oper, clusters[1].Root)
	assert.Len(t, clusters[1].Members, 3)
	assert.NotZero(t, clusters[1].Lat)
}

func TestListClusters_GeoJSON(t *testing.T) {
	mux := newMemServer(t)

	rec := serve(mux, http.MethodGet, "/api/clusters?format=geojson")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)

	rec = serve(mux, http.MethodGet, "/api/clusters?format=geojson&members=true")
	fc, err = geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3+9)

	rec = serve(mux, http.MethodGet, "/api/clusters?format=kml")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestLookupCluster(t *testing.T) {
	mux := newMemServer(t)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantRoot stops.ID
	}{
		{"member", "?stop=" + string(testutil.Karlsplatz), http.StatusOK, testutil.Oper},
		{"root", "?stop=" + string(testutil.Praterstern), http.StatusOK, testutil.Praterstern},
		{"unclustered", "?stop=" + string(testutil.Huetteldorf), http.StatusNotFound, ""},
		{"malformed", "?stop=nope", http.StatusBadRequest, ""},
		{"missing", "", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(mux, http.MethodGet, "/api/clusters/lookup"+tt.query)
			testutil.AssertStatusCode(t, rec.Code, tt.wantCode)
			if tt.wantCode != http.StatusOK {
				var body httputil.ErrorBody
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.NotEmpty(t, body.Error)
				return
			}
			var c stops.Cluster
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
			assert.Equal(t, tt.wantRoot, c.Root)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newMemServer(t)
	for _, path := range []string{"/healthz", "/api/clusters", "/api/clusters/lookup", "/api/summary", "/api/report", "/api/runs"} {
		rec := serve(mux, http.MethodPost, path)
		testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestSummaryAndReport(t *testing.T) {
	mux := newMemServer(t)

	rec := serve(mux, http.MethodGet, "/api/summary")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var sum report.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, 10, sum.Stops)
	assert.Equal(t, 3, sum.Clusters)
	assert.Equal(t, 9, sum.ClusteredStops)
	assert.Equal(t, 4, sum.MaxSize)

	rec = serve(mux, http.MethodGet, "/api/report")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "Cluster sizes")
}

func TestRuns_NotKeptByMemstore(t *testing.T) {
	rec := serve(newMemServer(t), http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestRuns_SQLite(t *testing.T) {
	testutil.Quiet(t)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "hubs.db"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	unified(t, store)
	mux := NewServer(store, geo.ProjectionLocal).ServeMux()

	rec := serve(mux, http.MethodGet, "/api/runs?limit=5")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var runs []unify.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Clusters)
	assert.Equal(t, 11, runs[0].Redirected)

	rec = serve(mux, http.MethodGet, "/api/runs?limit=0")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestMetrics(t *testing.T) {
	rec := serve(newMemServer(t), http.MethodGet, "/metrics")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "transit_hubs_clusters")
}

func TestLoggingMiddleware(t *testing.T) {
	testutil.Quiet(t)
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := serve(h, http.MethodGet, "/anything")
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	assert.Contains(t, statusCodeColor(418), "418")
}
