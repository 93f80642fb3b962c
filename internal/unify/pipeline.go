package unify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/transit-hubs/internal/cluster"
	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Step names used in logs, metrics and errors.
const (
	StepCluster   = "cluster"
	StepMerge     = "merge"
	StepRoots     = "roots"
	StepRedirect  = "redirect"
	StepPositions = "positions"
	StepVerify    = "verify"
)

// Pipeline runs the unification steps against a GraphStore. Runs must be
// serialized by the caller; a Pipeline holds no locks.
type Pipeline struct {
	Store     GraphStore
	Clusterer cluster.StopClusterer
	BatchSize int
}

// NewPipeline validates its arguments and returns a Pipeline.
func NewPipeline(store GraphStore, clusterer cluster.StopClusterer, batchSize int) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("pipeline: nil store")
	}
	if clusterer == nil {
		return nil, errors.New("pipeline: nil clusterer")
	}
	if err := CheckBatchSize(batchSize); err != nil {
		return nil, err
	}
	return &Pipeline{Store: store, Clusterer: clusterer, BatchSize: batchSize}, nil
}

// RunOptions controls a full run.
type RunOptions struct {
	// ConfirmReset allows existing cluster state to be cleared.
	ConfirmReset bool
}

// ClusterResult summarizes the clustering step.
type ClusterResult struct {
	Stops    int           `json:"stops"`
	Groups   int           `json:"groups"`
	Cleared  ClearResult   `json:"cleared"`
	Replaced ReplaceResult `json:"replaced"`
}

// Report summarizes a full run.
type Report struct {
	RunID        uuid.UUID     `json:"run_id"`
	Started      time.Time     `json:"started"`
	Finished     time.Time     `json:"finished"`
	Cluster      ClusterResult `json:"cluster"`
	Merge        MergeStats    `json:"merge"`
	RootsChanged int           `json:"roots_changed"`
	Redirected   int           `json:"redirected"`
	Positioned   int           `json:"positioned"`
	Clusters     int           `json:"clusters"`
	Err          string        `json:"error,omitempty"`
}

// Run executes every step in order, verifying invariants after each one.
// It stops at the first error; steps already completed stay committed.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	r := &Report{RunID: uuid.New(), Started: time.Now().UTC()}
	monitoring.Opsf("run %s: starting", r.RunID)

	err := p.run(ctx, opts, r)
	r.Finished = time.Now().UTC()
	if err != nil {
		r.Err = err.Error()
		monitoring.Opsf("run %s: failed after %s: %v", r.RunID, r.Finished.Sub(r.Started), err)
	} else {
		monitoring.Opsf("run %s: done in %s: %d clusters, %d merges, %d roots changed, %d relationships redirected",
			r.RunID, r.Finished.Sub(r.Started), r.Clusters, r.Merge.Total(), r.RootsChanged, r.Redirected)
	}

	if rec, ok := p.Store.(RunRecorder); ok {
		// The run log is best effort after a failure; the step error wins.
		if rerr := rec.RecordRun(ctx, r); rerr != nil {
			monitoring.Opsf("run %s: failed to record run: %v", r.RunID, rerr)
			if err == nil {
				err = storeErr("record run", rerr)
			}
		}
	}
	return r, err
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions, r *Report) error {
	var err error
	if r.Cluster, err = p.Cluster(ctx, opts.ConfirmReset); err != nil {
		return err
	}
	if r.Merge, err = p.Merge(ctx); err != nil {
		return err
	}
	if r.RootsChanged, err = p.Roots(ctx); err != nil {
		return err
	}
	if r.Redirected, err = p.Redirect(ctx); err != nil {
		return err
	}
	if r.Positioned, err = p.Positions(ctx); err != nil {
		return err
	}
	clusters, err := p.Store.Clusters(ctx)
	if err != nil {
		return storeErr("clusters", err)
	}
	r.Clusters = len(clusters)
	monitoring.SetClusters(r.Clusters)
	return nil
}

// Cluster replaces all cluster state with a fresh spatial clustering. The
// stops are validated and clustered before anything is written; existing
// cluster state is cleared only when confirmReset is set.
func (p *Pipeline) Cluster(ctx context.Context, confirmReset bool) (res ClusterResult, err error) {
	started := time.Now()
	defer func() { monitoring.ObserveStep(StepCluster, started, res.Groups, err) }()

	list, err := p.Store.ListStops(ctx)
	if err != nil {
		return res, storeErr("list stops", err)
	}
	res.Stops = len(list)
	if err := stops.ValidateStops(list); err != nil {
		return res, err
	}
	groups, err := p.Clusterer.Cluster(ctx, list)
	if err != nil {
		return res, err
	}
	res.Groups = len(groups)

	exists, err := p.Store.HasClusters(ctx)
	if err != nil {
		return res, storeErr("has clusters", err)
	}
	if exists {
		if !confirmReset {
			return res, ErrResetRequired
		}
		if res.Cleared, err = p.Store.ClearClusters(ctx); err != nil {
			return res, storeErr("clear clusters", err)
		}
		monitoring.Diagf("cluster: cleared %d membership edges, %d root roles",
			res.Cleared.EdgesRemoved, res.Cleared.RolesRemoved)
	}

	if res.Replaced, err = p.Store.ReplaceClusters(ctx, groups); err != nil {
		return res, storeErr("replace clusters", err)
	}
	monitoring.Diagf("cluster: %d stops -> %d groups, %d membership edges, %d roots",
		res.Stops, res.Groups, res.Replaced.EdgesCreated, res.Replaced.RootsPromoted)
	return res, p.verify(ctx, StepCluster)
}

// Merge runs the identity merge to its fixed point.
func (p *Pipeline) Merge(ctx context.Context) (stats MergeStats, err error) {
	started := time.Now()
	defer func() { monitoring.ObserveStep(StepMerge, started, stats.Total(), err) }()

	if stats, err = p.Store.MergeByIdentity(ctx); err != nil {
		return stats, storeErr("merge by identity", err)
	}
	monitoring.Diagf("merge: %d operations (%d created, %d attached, %d unified) in %d passes",
		stats.Total(), stats.Created, stats.Attached, stats.Unified, stats.Passes)
	return stats, p.verify(ctx, StepMerge)
}

// Roots reassigns every cluster's root by usage.
func (p *Pipeline) Roots(ctx context.Context) (changed int, err error) {
	started := time.Now()
	defer func() { monitoring.ObserveStep(StepRoots, started, changed, err) }()

	if changed, err = p.Store.ReassignRoots(ctx); err != nil {
		return changed, storeErr("reassign roots", err)
	}
	monitoring.Diagf("roots: %d clusters changed root", changed)
	return changed, p.verify(ctx, StepRoots)
}

// Redirect moves eligible relationships onto cluster roots in batches.
func (p *Pipeline) Redirect(ctx context.Context) (moved int, err error) {
	started := time.Now()
	defer func() { monitoring.ObserveStep(StepRedirect, started, moved, err) }()

	if err := CheckBatchSize(p.BatchSize); err != nil {
		return 0, err
	}
	if moved, err = p.Store.RedirectRelationships(ctx, p.BatchSize); err != nil {
		return moved, storeErr("redirect relationships", err)
	}
	monitoring.Diagf("redirect: %d relationships moved (batch size %d)", moved, p.BatchSize)
	return moved, p.verify(ctx, StepRedirect)
}

// Positions stores each cluster's centroid on its root.
func (p *Pipeline) Positions(ctx context.Context) (n int, err error) {
	started := time.Now()
	defer func() { monitoring.ObserveStep(StepPositions, started, n, err) }()

	if n, err = p.Store.UpdateClusterPositions(ctx); err != nil {
		return n, storeErr("update cluster positions", err)
	}
	monitoring.Diagf("positions: %d roots updated", n)
	return n, p.verify(ctx, StepPositions)
}

// Verify runs the integrity checks and returns an *InvariantError if any
// fail.
func (p *Pipeline) Verify(ctx context.Context) error {
	return p.verify(ctx, StepVerify)
}

func (p *Pipeline) verify(ctx context.Context, step string) error {
	v, err := p.Store.VerifyInvariants(ctx)
	if err != nil {
		return storeErr("verify invariants", err)
	}
	if len(v) == 0 {
		monitoring.Tracef("%s: invariants hold", step)
		return nil
	}
	for _, x := range v {
		monitoring.RecordViolation(string(x.Kind))
	}
	ierr := &InvariantError{Step: step, Violations: v}
	monitoring.Opsf("%v", ierr)
	return ierr
}
