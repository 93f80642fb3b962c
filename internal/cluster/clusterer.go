// Package cluster groups nearby stops into disjoint clusters whose
// bounding-box diagonal stays within a configured maximum.
package cluster

import (
	"context"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// MinEps is the smallest radius the splitter will try, in metres. Groups
// still oversized at this radius are covered by bounded candidates.
const MinEps = 0.001

// Params configures a Clusterer.
type Params struct {
	Eps         float64        // DBSCAN radius in metres
	MaxDiameter float64        // bounding-box diagonal limit in metres
	MinPts      int            // 0 means DefaultMinPts
	Projection  geo.Projection // empty means geo.ProjectionLocal
	Workers     int            // concurrent oversized-group splits, <1 means 1
}

// StopClusterer is implemented by anything that partitions stops.
type StopClusterer interface {
	Cluster(ctx context.Context, list []stops.Stop) ([][]stops.ID, error)
}

// Compile-time check.
var _ StopClusterer = (*Clusterer)(nil)

// Clusterer runs density clustering with diameter-constrained splitting.
type Clusterer struct {
	params Params
}

// Stats describes the work done by one Cluster call.
type Stats struct {
	Initial   int     // groups from the first DBSCAN pass
	Oversized int     // initial groups that needed splitting
	Tasks     int     // worklist entries processed
	Fallbacks int     // groups covered by bounded candidates
	MaxDepth  int     // deepest halving level reached
	MinEps    float64 // smallest radius used by any task
	Groups    int     // groups returned
}

func (s *Stats) add(o Stats) {
	s.Tasks += o.Tasks
	s.Fallbacks += o.Fallbacks
	if o.MaxDepth > s.MaxDepth {
		s.MaxDepth = o.MaxDepth
	}
	if o.MinEps > 0 && (s.MinEps == 0 || o.MinEps < s.MinEps) {
		s.MinEps = o.MinEps
	}
}

// New validates params and returns a Clusterer.
func New(params Params) (*Clusterer, error) {
	if !(params.Eps > 0) || math.IsInf(params.Eps, 0) {
		return nil, &stops.PreconditionError{Field: "eps", Value: params.Eps, Reason: "must be a positive finite number of metres"}
	}
	if !(params.MaxDiameter > 0) || math.IsInf(params.MaxDiameter, 0) {
		return nil, &stops.PreconditionError{Field: "maxDiameter", Value: params.MaxDiameter, Reason: "must be a positive finite number of metres"}
	}
	if params.MinPts < 0 {
		return nil, &stops.PreconditionError{Field: "minPts", Value: params.MinPts, Reason: "must not be negative"}
	}
	if params.MinPts == 0 {
		params.MinPts = DefaultMinPts
	}
	proj, err := geo.ParseProjection(string(params.Projection))
	if err != nil {
		return nil, err
	}
	params.Projection = proj
	if params.Workers < 1 {
		params.Workers = 1
	}
	return &Clusterer{params: params}, nil
}

// Params returns the effective parameters.
func (c *Clusterer) Params() Params { return c.params }

// Cluster partitions list into groups of at least two stops. Each group's
// identifiers are sorted and groups are ordered by their first identifier.
func (c *Clusterer) Cluster(ctx context.Context, list []stops.Stop) ([][]stops.ID, error) {
	groups, _, err := c.ClusterWithStats(ctx, list)
	return groups, err
}

// ClusterWithStats is Cluster that also reports splitting statistics.
func (c *Clusterer) ClusterWithStats(ctx context.Context, list []stops.Stop) ([][]stops.ID, Stats, error) {
	var stats Stats
	if err := stops.ValidateStops(list); err != nil {
		return nil, stats, err
	}
	if len(list) < 2 {
		return nil, stats, nil
	}

	points := geo.NewProjector(c.params.Projection, list).ProjectAll(list)
	initial := DBSCAN(points, DBSCANParams{Eps: c.params.Eps, MinPts: c.params.MinPts})
	stats.Initial = len(initial)
	stats.MinEps = c.params.Eps

	var final [][]int
	var oversized [][]int
	for _, g := range initial {
		if geo.DiameterOf(points, g) <= c.params.MaxDiameter {
			final = append(final, g)
		} else {
			oversized = append(oversized, g)
		}
	}
	stats.Oversized = len(oversized)
	monitoring.Diagf("cluster: %d stops, %d initial groups, %d oversized (eps=%.1fm maxDiameter=%.1fm %s)",
		len(list), len(initial), len(oversized), c.params.Eps, c.params.MaxDiameter, c.params.Projection)

	less := func(a, b int) bool { return list[a].ID < list[b].ID }
	results := make([][][]int, len(oversized))
	splitStats := make([]Stats, len(oversized))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.params.Workers)
	for i, members := range oversized {
		g.Go(func() error {
			var err error
			results[i], splitStats[i], err = c.split(gctx, points, members, less)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	for i := range oversized {
		final = append(final, results[i]...)
		stats.add(splitStats[i])
	}

	final = resolveOverlaps(final, len(list), less)

	out := make([][]stops.ID, 0, len(final))
	for _, grp := range final {
		ids := make([]stops.ID, len(grp))
		for i, idx := range grp {
			ids[i] = list[idx].ID
		}
		stops.SortIDs(ids)
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	stats.Groups = len(out)
	monitoring.Diagf("cluster: %d groups (tasks=%d fallbacks=%d maxDepth=%d minEps=%.3fm)",
		stats.Groups, stats.Tasks, stats.Fallbacks, stats.MaxDepth, stats.MinEps)
	return out, stats, nil
}

type task struct {
	members []int
	eps     float64
	depth   int
}

// split breaks one oversized group into groups within the diameter bound.
// Each task halves the radius of its parent, so the worklist drains once
// every group fits or falls back to bounded candidates.
func (c *Clusterer) split(ctx context.Context, points []orb.Point, members []int, less func(a, b int) bool) ([][]int, Stats, error) {
	var stats Stats
	var out [][]int
	queue := []task{{members: members, eps: c.params.Eps}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		t := queue[0]
		queue = queue[1:]
		stats.Tasks++
		if t.depth > stats.MaxDepth {
			stats.MaxDepth = t.depth
		}

		next := t.eps / 2
		var subs [][]int
		if next >= MinEps {
			subs = c.subgroups(points, t.members, next)
		}
		if len(subs) == 0 {
			cands := boundedCandidates(points, t.members, t.eps, c.params.MaxDiameter)
			resolved := resolveOverlaps(cands, len(points), less)
			stats.Fallbacks++
			monitoring.Tracef("cluster: fallback on %d members at eps=%.3fm: %d candidates, %d groups",
				len(t.members), t.eps, len(cands), len(resolved))
			out = append(out, resolved...)
			continue
		}
		if stats.MinEps == 0 || next < stats.MinEps {
			stats.MinEps = next
		}
		monitoring.Tracef("cluster: split %d members at eps=%.3fm into %d groups", len(t.members), next, len(subs))
		for _, s := range subs {
			if geo.DiameterOf(points, s) <= c.params.MaxDiameter {
				out = append(out, s)
				continue
			}
			queue = append(queue, task{members: s, eps: next, depth: t.depth + 1})
		}
	}
	return out, stats, nil
}

// subgroups runs DBSCAN over members only and maps the result back to
// indices into points.
func (c *Clusterer) subgroups(points []orb.Point, members []int, eps float64) [][]int {
	local := make([]orb.Point, len(members))
	for i, m := range members {
		local[i] = points[m]
	}
	groups := DBSCAN(local, DBSCANParams{Eps: eps, MinPts: c.params.MinPts})
	for _, g := range groups {
		for i, l := range g {
			g[i] = members[l]
		}
	}
	return groups
}
