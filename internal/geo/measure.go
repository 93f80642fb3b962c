package geo

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Diameter approximates the largest pairwise distance of a point set by the
// diagonal of its bounding box. It never underestimates the true diameter.
func Diameter(points []orb.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	b := orb.MultiPoint(points).Bound()
	return math.Hypot(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
}

// DiameterOf is Diameter over a subset of points selected by index.
func DiameterOf(points []orb.Point, idx []int) float64 {
	if len(idx) < 2 {
		return 0
	}
	b := orb.Bound{Min: points[idx[0]], Max: points[idx[0]]}
	for _, i := range idx[1:] {
		b = b.Extend(points[i])
	}
	return math.Hypot(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
}

// Centroid returns the mean latitude and longitude of the stops.
func Centroid(list []stops.Stop) (lat, lon float64) {
	if len(list) == 0 {
		return 0, 0
	}
	for _, s := range list {
		lat += s.Lat
		lon += s.Lon
	}
	n := float64(len(list))
	return lat / n, lon / n
}
