package main

import (
	"archive/zip"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/transit-hubs/internal/api"
	"github.com/banshee-data/transit-hubs/internal/db"
	"github.com/banshee-data/transit-hubs/internal/export"
	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/report"
	"github.com/banshee-data/transit-hubs/internal/security"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
	"github.com/banshee-data/transit-hubs/internal/version"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"import":    {"Import a GTFS feed (directory or .zip) into SQLite", cmdImport},
	"cluster":   {"Replace clusters with a fresh spatial clustering", cmdCluster},
	"merge":     {"Merge clusters of stops that share a station", cmdMerge},
	"roots":     {"Promote the most used member of each cluster to root", cmdRoots},
	"redirect":  {"Move relationships from members onto their root", cmdRedirect},
	"positions": {"Store the centroid of each cluster on its root", cmdPositions},
	"verify":    {"Check the cluster invariants", cmdVerify},
	"run":       {"Run every step in order", cmdRun},
	"clusters":  {"List clusters, or the cluster of one stop", cmdClusters},
	"export":    {"Write clusters as GeoJSON", cmdExport},
	"report":    {"Write cluster statistics as HTML or JSON", cmdReport},
	"serve":     {"Serve clusters over HTTP", cmdServe},
}

var commandOrder = []string{
	"import", "cluster", "merge", "roots", "redirect", "positions", "verify",
	"run", "clusters", "export", "report", "serve",
}

func newFlags(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErr("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdVersion(out io.Writer) error {
	_, err := fmt.Fprintf(out, "transit-hubs %s\n", version.String())
	return err
}

// openFeed opens a GTFS feed directory or zip archive.
func openFeed(path string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return os.DirFS(path), io.NopCloser(nil), nil
	}
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return nil, nil, usageErr("feed %s must be a directory or a .zip file", path)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open feed: %w", err)
	}
	return zr, zr, nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "import")
	feedPath := fs.String("feed", "", "GTFS feed directory or .zip (required)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *feedPath == "" {
		return usageErr("import: -feed is required")
	}
	store, err := a.open(ctx)
	if err != nil {
		return err
	}
	d, ok := store.(*db.DB)
	if !ok {
		return usageErr("import needs the sqlite backend, have %s", a.cfg.GetBackend())
	}

	feed, closer, err := openFeed(*feedPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	stats, err := d.ImportGTFS(ctx, feed)
	if err != nil {
		return err
	}
	return printJSON(a.out, stats)
}

func cmdCluster(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "cluster")
	confirm := fs.Bool("confirm-reset", false, "Clear existing cluster state first")
	if err := parse(fs, args); err != nil {
		return err
	}
	p, err := a.pipeline(ctx, a.cfg.GetRedirectBatchSize())
	if err != nil {
		return err
	}
	res, err := p.Cluster(ctx, *confirm)
	if err != nil {
		return err
	}
	return printJSON(a.out, res)
}

// step wraps a pipeline step that takes no flags and returns one count.
func step(name, label string, fn func(*unify.Pipeline, context.Context) (int, error)) func(context.Context, *app, []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		if err := parse(newFlags(a, name), args); err != nil {
			return err
		}
		p, err := a.pipeline(ctx, a.cfg.GetRedirectBatchSize())
		if err != nil {
			return err
		}
		n, err := fn(p, ctx)
		if err != nil {
			return err
		}
		return printJSON(a.out, map[string]int{label: n})
	}
}

var (
	cmdRoots     = step("roots", "roots_changed", (*unify.Pipeline).Roots)
	cmdPositions = step("positions", "positioned", (*unify.Pipeline).Positions)
)

func cmdMerge(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlags(a, "merge"), args); err != nil {
		return err
	}
	p, err := a.pipeline(ctx, a.cfg.GetRedirectBatchSize())
	if err != nil {
		return err
	}
	stats, err := p.Merge(ctx)
	if err != nil {
		return err
	}
	return printJSON(a.out, stats)
}

func cmdRedirect(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "redirect")
	batch := fs.Int("batch", a.cfg.GetRedirectBatchSize(), "Relationships per transaction")
	if err := parse(fs, args); err != nil {
		return err
	}
	p, err := a.pipeline(ctx, *batch)
	if err != nil {
		return err
	}
	n, err := p.Redirect(ctx)
	if err != nil {
		return err
	}
	return printJSON(a.out, map[string]int{"redirected": n})
}

func cmdVerify(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlags(a, "verify"), args); err != nil {
		return err
	}
	p, err := a.pipeline(ctx, a.cfg.GetRedirectBatchSize())
	if err != nil {
		return err
	}
	if err := p.Verify(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, "ok: no invariant violations")
	return err
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "run")
	confirm := fs.Bool("confirm-reset", false, "Clear existing cluster state first")
	if err := parse(fs, args); err != nil {
		return err
	}
	p, err := a.pipeline(ctx, a.cfg.GetRedirectBatchSize())
	if err != nil {
		return err
	}
	r, runErr := p.Run(ctx, unify.RunOptions{ConfirmReset: *confirm})
	if err := printJSON(a.out, r); err != nil {
		return err
	}
	return runErr
}

func cmdClusters(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "clusters")
	stop := fs.String("stop", "", "Show only the cluster containing this stop")
	if err := parse(fs, args); err != nil {
		return err
	}
	store, err := a.open(ctx)
	if err != nil {
		return err
	}
	clusters, err := store.Clusters(ctx)
	if err != nil {
		return err
	}
	if *stop == "" {
		return printJSON(a.out, clusters)
	}
	id, err := stops.ParseID(*stop)
	if err != nil {
		return err
	}
	c, ok := unify.ClusterOf(clusters, id)
	if !ok {
		return fmt.Errorf("stop %s is not in a cluster", id)
	}
	return printJSON(a.out, c)
}

// outputFile validates path and creates it.
func outputFile(path string) (*os.File, error) {
	if path == "" {
		return nil, usageErr("-out is required")
	}
	if err := security.ValidateOutputPath(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func writeOutput(path string, write func(io.Writer) error) error {
	f, err := outputFile(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	monitoring.Opsf("wrote %s", path)
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "export")
	out := fs.String("out", "", "GeoJSON output file (required)")
	members := fs.Bool("members", false, "Include one point per member stop")
	if err := parse(fs, args); err != nil {
		return err
	}
	store, err := a.open(ctx)
	if err != nil {
		return err
	}
	list, err := store.ListStops(ctx)
	if err != nil {
		return err
	}
	clusters, err := store.Clusters(ctx)
	if err != nil {
		return err
	}
	fc := export.Clusters(clusters, unify.IndexStops(list), export.Options{Members: *members})
	return writeOutput(*out, func(w io.Writer) error { return export.Write(w, fc) })
}

func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "report")
	out := fs.String("out", "", "HTML output file; without it the summary is printed as JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	proj, err := geo.ParseProjection(a.cfg.GetProjection())
	if err != nil {
		return err
	}
	store, err := a.open(ctx)
	if err != nil {
		return err
	}
	list, err := store.ListStops(ctx)
	if err != nil {
		return err
	}
	clusters, err := store.Clusters(ctx)
	if err != nil {
		return err
	}
	sum := report.Summarize(list, clusters, proj)
	if *out == "" {
		return printJSON(a.out, sum)
	}
	return writeOutput(*out, func(w io.Writer) error { return report.RenderHTML(w, sum, clusters) })
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "serve")
	listen := fs.String("listen", a.cfg.GetListen(), "Listen address")
	if err := parse(fs, args); err != nil {
		return err
	}
	proj, err := geo.ParseProjection(a.cfg.GetProjection())
	if err != nil {
		return err
	}
	store, err := a.open(ctx)
	if err != nil {
		return err
	}

	mux := api.NewServer(store, proj).ServeMux()
	if d, ok := store.(*db.DB); ok {
		if err := d.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}
	return api.ListenAndServe(ctx, *listen, api.LoggingMiddleware(mux))
}
