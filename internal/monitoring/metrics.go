package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepDuration measures each pipeline step.
	// Labels: step (cluster, merge, roots, redirect, positions, verify), status (ok, error)
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "transit_hubs",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Duration of unification pipeline steps in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"step", "status"})

	// stepItems counts the items each step reports (groups, merges, roots, edges).
	// Labels: step
	stepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transit_hubs",
		Subsystem: "pipeline",
		Name:      "items_total",
		Help:      "Items produced or changed by pipeline steps",
	}, []string{"step"})

	// violations counts invariant violations by kind.
	violations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transit_hubs",
		Subsystem: "pipeline",
		Name:      "invariant_violations_total",
		Help:      "Invariant violations found after pipeline steps",
	}, []string{"kind"})

	// redirectBatches counts committed redirect transactions.
	redirectBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transit_hubs",
		Subsystem: "redirect",
		Name:      "batches_total",
		Help:      "Committed relationship redirect batches",
	})

	// clusters is the number of clusters after the last completed run.
	clusters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transit_hubs",
		Name:      "clusters",
		Help:      "Clusters present after the last pipeline run",
	})
)

// ObserveStep records one step's duration, outcome and item count.
func ObserveStep(step string, started time.Time, items int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	stepDuration.WithLabelValues(step, status).Observe(time.Since(started).Seconds())
	if err == nil && items > 0 {
		stepItems.WithLabelValues(step).Add(float64(items))
	}
}

// RecordViolation counts one invariant violation.
func RecordViolation(kind string) {
	violations.WithLabelValues(kind).Inc()
}

// RecordRedirectBatch counts one committed redirect batch.
func RecordRedirectBatch() {
	redirectBatches.Inc()
}

// SetClusters publishes the current cluster count.
func SetClusters(n int) {
	clusters.Set(float64(n))
}
