package cluster

import (
	"github.com/paulmach/orb"
)

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// DBSCANParams contains parameters for density clustering.
type DBSCANParams struct {
	Eps    float64 // neighbourhood radius in metres
	MinPts int     // minimum neighbourhood size, the point itself included
}

// DefaultMinPts makes any point with at least one other point within eps a
// core point, so clusters are the transitive closure of the eps relation.
const DefaultMinPts = 2

// DBSCAN clusters planar points and returns groups of point indices. Noise
// is omitted. Groups are ordered by their lowest index and each group is
// sorted ascending, so the result depends only on input order.
func DBSCAN(points []orb.Point, params DBSCANParams) [][]int {
	n := len(points)
	if n == 0 || params.Eps <= 0 {
		return nil
	}
	minPts := params.MinPts
	if minPts < 1 {
		minPts = DefaultMinPts
	}

	labels := make([]int, n) // 0=unvisited, -1=noise, >0=cluster id
	clusterID := 0

	si := NewSpatialIndex(params.Eps)
	si.Build(points)

	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}
		neighbors := si.RegionQuery(points, i, params.Eps)
		if len(neighbors) < minPts {
			labels[i] = labelNoise
			continue
		}
		clusterID++
		expandCluster(points, si, labels, i, neighbors, clusterID, params.Eps, minPts)
	}

	return collectGroups(labels, clusterID)
}

// expandCluster grows a cluster from a core point with a queue.
func expandCluster(points []orb.Point, si *SpatialIndex, labels []int,
	seed int, neighbors []int, clusterID int, eps float64, minPts int) {

	labels[seed] = clusterID
	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]
		if labels[idx] == labelNoise {
			labels[idx] = clusterID // border point
		}
		if labels[idx] != labelUnvisited {
			continue
		}
		labels[idx] = clusterID
		if next := si.RegionQuery(points, idx, eps); len(next) >= minPts {
			neighbors = append(neighbors, next...)
		}
	}
}

func collectGroups(labels []int, maxClusterID int) [][]int {
	groups := make([][]int, maxClusterID)
	for i, l := range labels {
		if l > 0 {
			groups[l-1] = append(groups[l-1], i)
		}
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
