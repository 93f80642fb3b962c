package cluster

import (
	"container/heap"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// boundedCandidates covers a group that density clustering can no longer
// split. From every member as seed it grows a candidate through
// eps-neighbours in order of distance from the seed, admitting a point only
// while the bounding-box diagonal stays within maxDiameter. Candidates
// overlap and are returned in seed order; those below size 2 are skipped.
func boundedCandidates(points []orb.Point, members []int, eps, maxDiameter float64) [][]int {
	local := make([]orb.Point, len(members))
	for i, m := range members {
		local[i] = points[m]
	}
	si := NewSpatialIndex(eps)
	si.Build(local)

	var out [][]int
	decided := make([]int, len(local)) // seed+1 when decided for that seed
	for seed := range local {
		mark := seed + 1
		b := orb.Bound{Min: local[seed], Max: local[seed]}
		cand := []int{seed}
		decided[seed] = mark

		q := &distQueue{origin: local[seed], points: local}
		for _, j := range si.RegionQuery(local, seed, eps) {
			q.push(j)
		}
		for q.Len() > 0 {
			j := heap.Pop(q).(int)
			if decided[j] == mark {
				continue
			}
			// Diameter only grows, so a rejected point is final for this seed.
			decided[j] = mark
			nb := b.Extend(local[j])
			if diagonal(nb) > maxDiameter {
				continue
			}
			b = nb
			cand = append(cand, j)
			for _, k := range si.RegionQuery(local, j, eps) {
				if decided[k] != mark {
					q.push(k)
				}
			}
		}
		if len(cand) < 2 {
			continue
		}
		sort.Ints(cand)
		for i, c := range cand {
			cand[i] = members[c]
		}
		out = append(out, cand)
	}
	return out
}

func diagonal(b orb.Bound) float64 {
	return math.Hypot(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
}

// distQueue is a min-heap of point indices keyed by distance from origin,
// ties broken by lower index.
type distQueue struct {
	origin orb.Point
	points []orb.Point
	idx    []int
}

func (q *distQueue) dist2(i int) float64 {
	dx := q.points[i][0] - q.origin[0]
	dy := q.points[i][1] - q.origin[1]
	return dx*dx + dy*dy
}

func (q *distQueue) push(i int) { heap.Push(q, i) }

func (q *distQueue) Len() int { return len(q.idx) }
func (q *distQueue) Less(a, b int) bool {
	da, db := q.dist2(q.idx[a]), q.dist2(q.idx[b])
	if da != db {
		return da < db
	}
	return q.idx[a] < q.idx[b]
}
func (q *distQueue) Swap(a, b int)      { q.idx[a], q.idx[b] = q.idx[b], q.idx[a] }
func (q *distQueue) Push(x interface{}) { q.idx = append(q.idx, x.(int)) }
func (q *distQueue) Pop() interface{} {
	n := len(q.idx)
	v := q.idx[n-1]
	q.idx = q.idx[:n-1]
	return v
}

// resolveOverlaps turns possibly overlapping candidate groups into a
// partition. It repeatedly claims the candidate with the most unclaimed
// members; equal sizes go to the candidate whose smallest unclaimed member
// sorts first under less. Candidates left with fewer than 2 unclaimed
// members are dropped. Disjoint input comes back unchanged, though reordered
// by the claim order.
func resolveOverlaps(cands [][]int, n int, less func(a, b int) bool) [][]int {
	claimed := make([]bool, n)
	status := func(c int) (size, first int) {
		first = -1
		for _, m := range cands[c] {
			if claimed[m] {
				continue
			}
			size++
			if first < 0 || less(m, first) {
				first = m
			}
		}
		return size, first
	}

	h := &claimQueue{less: less}
	for c := range cands {
		if size, first := status(c); size >= 2 {
			h.items = append(h.items, claim{cand: c, size: size, first: first})
		}
	}
	heap.Init(h)

	var out [][]int
	for h.Len() > 0 {
		top := heap.Pop(h).(claim)
		size, first := status(top.cand)
		if size < 2 {
			continue
		}
		// Priorities only decrease as members are claimed, so a stale entry
		// is re-queued with its current key instead of being taken.
		if size != top.size || first != top.first {
			heap.Push(h, claim{cand: top.cand, size: size, first: first})
			continue
		}
		group := make([]int, 0, size)
		for _, m := range cands[top.cand] {
			if !claimed[m] {
				claimed[m] = true
				group = append(group, m)
			}
		}
		out = append(out, group)
	}
	return out
}

type claim struct {
	cand  int
	size  int
	first int
}

type claimQueue struct {
	items []claim
	less  func(a, b int) bool
}

func (q *claimQueue) Len() int { return len(q.items) }
func (q *claimQueue) Less(a, b int) bool {
	x, y := q.items[a], q.items[b]
	if x.size != y.size {
		return x.size > y.size
	}
	if x.first != y.first {
		return q.less(x.first, y.first)
	}
	return x.cand < y.cand
}
func (q *claimQueue) Swap(a, b int)      { q.items[a], q.items[b] = q.items[b], q.items[a] }
func (q *claimQueue) Push(x interface{}) { q.items = append(q.items, x.(claim)) }
func (q *claimQueue) Pop() interface{} {
	n := len(q.items)
	v := q.items[n-1]
	q.items = q.items[:n-1]
	return v
}
