package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/transit-hubs/internal/db"
	"github.com/banshee-data/transit-hubs/internal/report"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/testutil"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// writeFeed writes the fixture network as a GTFS directory: one trip per
// visit, so usage matches the fixture.
func writeFeed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	n := testutil.ViennaNetwork()

	var st, times strings.Builder
	st.WriteString("stop_id,stop_name,stop_lat,stop_lon,location_type\n")
	times.WriteString("trip_id,arrival_time,departure_time,stop_id,stop_sequence\n")
	for _, s := range n.Stops {
		fmt.Fprintf(&st, "%s,%s,%.9f,%.9f,0\n", s.ID, s.Name, s.Lat, s.Lon)
		for i := 0; i < n.Usage[s.ID]; i++ {
			fmt.Fprintf(&times, "%s-%d,08:%02d:00,08:%02d:30,%s,1\n", s.ID, i, i, i, s.ID)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stops.txt"), []byte(st.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stop_times.txt"), []byte(times.String()), 0o644))
	return dir
}

type cli struct {
	t      *testing.T
	dbPath string
}

func newCLI(t *testing.T) *cli {
	testutil.Quiet(t)
	return &cli{t: t, dbPath: filepath.Join(t.TempDir(), "hubs.db")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"-db", c.dbPath}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "transit-hubs %v", args)
	return out
}

func TestCLI_ImportAndRun(t *testing.T) {
	c := newCLI(t)

	var stats db.ImportStats
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("import", "-feed", writeFeed(t))), &stats))
	assert.Equal(t, db.ImportStats{Stops: 10, Relationships: 31}, stats)

	var r unify.Report
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("run")), &r))
	assert.Equal(t, 3, r.Clusters)
	assert.Equal(t, 11, r.Redirected)
	assert.Equal(t, unify.MergeStats{Created: 1, Attached: 1, Unified: 1, Passes: 2}, r.Merge)

	assert.Contains(t, c.mustRun("verify"), "no invariant violations")

	var cl stops.Cluster
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("clusters", "-stop", string(testutil.KarlsplatzPass))), &cl))
	assert.Equal(t, testutil.Oper, cl.Root)

	var all []stops.Cluster
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("clusters")), &all))
	assert.Len(t, all, 3)

	_, err := c.run("clusters", "-stop", string(testutil.Huetteldorf))
	assert.ErrorContains(t, err, "not in a cluster")
}

func TestCLI_RerunNeedsConfirmation(t *testing.T) {
	c := newCLI(t)
	c.mustRun("import", "-feed", writeFeed(t))
	c.mustRun("run")

	_, err := c.run("cluster")
	require.ErrorIs(t, err, unify.ErrResetRequired)

	var res unify.ClusterResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("cluster", "-confirm-reset")), &res))
	assert.Equal(t, unify.ClearResult{EdgesRemoved: 6, RolesRemoved: 3}, res.Cleared)
}

func TestCLI_SingleSteps(t *testing.T) {
	c := newCLI(t)
	c.mustRun("import", "-feed", writeFeed(t))
	c.mustRun("cluster")

	var merge unify.MergeStats
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("merge")), &merge))
	assert.Equal(t, 3, merge.Total())

	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("roots")), &counts))
	assert.Equal(t, 2, counts["roots_changed"])
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("redirect", "-batch", "4")), &counts))
	assert.Equal(t, 11, counts["redirected"])
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("positions")), &counts))
	assert.Equal(t, 3, counts["positioned"])

	_, err := c.run("redirect", "-batch", "0")
	assert.ErrorIs(t, err, stops.ErrPrecondition)
}

func TestCLI_ExportAndReport(t *testing.T) {
	c := newCLI(t)
	c.mustRun("import", "-feed", writeFeed(t))
	c.mustRun("run")
	out := t.TempDir()

	geoPath := filepath.Join(out, "clusters.geojson")
	c.mustRun("export", "-out", geoPath, "-members")
	raw, err := os.ReadFile(geoPath)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3+9)

	htmlPath := filepath.Join(out, "report", "hubs.html")
	c.mustRun("report", "-out", htmlPath)
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Cluster sizes")

	var sum report.Summary
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("report")), &sum))
	assert.Equal(t, 9, sum.ClusteredStops)

	_, err = c.run("export")
	assert.ErrorIs(t, err, errUsage)
	_, err = c.run("export", "-out", "/etc/transit-hubs.geojson")
	assert.Error(t, err)
}

func TestCLI_Migrate(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("migrate", "up")
	assert.Contains(t, out, "Current version: 2")
	out = c.mustRun("migrate", "status")
	assert.Contains(t, out, "Outstanding: 0")

	_, err := c.run("migrate")
	assert.ErrorIs(t, err, db.ErrMigrateUsage)
	_, err = c.run("-backend", "memory", "migrate", "up")
	assert.ErrorIs(t, err, errUsage)
}

func TestCLI_Usage(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("help")
	for _, name := range commandOrder {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, c.mustRun("version"), "transit-hubs dev")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no command", nil, errUsage},
		{"unknown command", []string{"frobnicate"}, errUsage},
		{"stray argument", []string{"verify", "now"}, errUsage},
		{"bad backend", []string{"-backend", "postgres", "verify"}, errUsage},
		{"import without feed", []string{"import"}, errUsage},
		{"import into memory", []string{"-backend", "memory", "import", "-feed", "."}, errUsage},
		{"help flag", []string{"-h"}, flag.ErrHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			assert.True(t, errors.Is(err, tt.want), "err = %v, want %v", err, tt.want)
		})
	}
}

func TestCLI_ConfigFile(t *testing.T) {
	c := newCLI(t)
	cfgPath := filepath.Join(t.TempDir(), "hubs.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("eps_metres: 50\nmax_diameter_metres: 40\n"), 0o644))

	_, err := c.run("-config", cfgPath, "verify")
	assert.ErrorContains(t, err, "max_diameter_metres")
}
