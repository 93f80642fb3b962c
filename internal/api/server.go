// Package api serves the cluster state over a read-only HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/transit-hubs/internal/export"
	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/httputil"
	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/report"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
	"github.com/banshee-data/transit-hubs/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Reader is the part of a GraphStore the server needs.
type Reader interface {
	ListStops(ctx context.Context) ([]stops.Stop, error)
	Clusters(ctx context.Context) ([]stops.Cluster, error)
}

// RunLister is implemented by stores that keep a run log.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]unify.Report, error)
}

// Server exposes clusters, lookups, summaries and the run log.
type Server struct {
	store      Reader
	projection geo.Projection
	started    time.Time
}

// NewServer returns a Server reading from store. projection is used for
// cluster diameters in summaries.
func NewServer(store Reader, projection geo.Projection) *Server {
	return &Server{store: store, projection: projection, started: time.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration to the diag stream.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Diagf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes plus /metrics.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/api/clusters", s.listClusters)
	mux.HandleFunc("/api/clusters/lookup", s.lookupCluster)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/report", s.showReport)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return false
	}
	return true
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.String(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// listClusters serves all clusters as JSON, or as GeoJSON with
// ?format=geojson. ?members=true adds member points to the GeoJSON.
func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	clusters, err := s.store.Clusters(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		httputil.WriteJSONOK(w, clusters)
	case "geojson":
		list, err := s.store.ListStops(r.Context())
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		members, _ := strconv.ParseBool(r.URL.Query().Get("members"))
		fc := export.Clusters(clusters, unify.IndexStops(list), export.Options{Members: members})
		w.Header().Set("Content-Type", "application/geo+json")
		if err := export.Write(w, fc); err != nil {
			monitoring.Diagf("failed to write geojson: %v", err)
		}
	default:
		httputil.BadRequest(w, "format must be json or geojson")
	}
}

func (s *Server) lookupCluster(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	raw := r.URL.Query().Get("stop")
	if raw == "" {
		httputil.BadRequest(w, "missing stop parameter")
		return
	}
	id, err := stops.ParseID(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	clusters, err := s.store.Clusters(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, ok := unify.ClusterOf(clusters, id)
	if !ok {
		httputil.NotFound(w, "stop "+string(id)+" is not in a cluster")
		return
	}
	httputil.WriteJSONOK(w, c)
}

func (s *Server) summary(ctx context.Context) (report.Summary, []stops.Cluster, error) {
	list, err := s.store.ListStops(ctx)
	if err != nil {
		return report.Summary{}, nil, err
	}
	clusters, err := s.store.Clusters(ctx)
	if err != nil {
		return report.Summary{}, nil, err
	}
	return report.Summarize(list, clusters, s.projection), clusters, nil
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	sum, _, err := s.summary(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	sum, clusters, err := s.summary(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(w, sum, clusters); err != nil {
		monitoring.Diagf("failed to render report: %v", err)
	}
}

// listRuns serves the newest runs first; ?limit=N caps the count.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	lister, ok := s.store.(RunLister)
	if !ok {
		httputil.NotFound(w, "this store keeps no run log")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := lister.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts the
// server down with a short grace period.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Opsf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	monitoring.Opsf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Opsf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Opsf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
