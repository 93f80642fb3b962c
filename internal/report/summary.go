// Package report summarizes a clustering: size and diameter statistics
// plus an HTML page of charts.
package report

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Summary describes the cluster state of a store. Diameters are in metres
// under the configured projection.
type Summary struct {
	Stops          int         `json:"stops"`
	Clusters       int         `json:"clusters"`
	ClusteredStops int         `json:"clustered_stops"`
	Unclustered    int         `json:"unclustered"`
	MeanSize       float64     `json:"mean_size"`
	StdDevSize     float64     `json:"stddev_size"`
	MedianSize     float64     `json:"median_size"`
	MaxSize        int         `json:"max_size"`
	MeanDiameter   float64     `json:"mean_diameter_m"`
	MedianDiameter float64     `json:"median_diameter_m"`
	P95Diameter    float64     `json:"p95_diameter_m"`
	MaxDiameter    float64     `json:"max_diameter_m"`
	SizeHistogram  map[int]int `json:"size_histogram"`
	// Diameters is per cluster, in cluster order.
	Diameters []float64 `json:"-"`
}

// Summarize computes cluster statistics over list.
func Summarize(list []stops.Stop, clusters []stops.Cluster, projection geo.Projection) Summary {
	s := Summary{
		Stops:         len(list),
		Clusters:      len(clusters),
		SizeHistogram: make(map[int]int),
	}
	if len(clusters) == 0 {
		s.Unclustered = len(list)
		return s
	}

	byID := make(map[stops.ID]stops.Stop, len(list))
	for _, st := range list {
		byID[st.ID] = st
	}
	proj := geo.NewProjector(projection, list)

	sizes := make([]float64, len(clusters))
	s.Diameters = make([]float64, len(clusters))
	for i, c := range clusters {
		n := c.Size()
		sizes[i] = float64(n)
		s.SizeHistogram[n]++
		s.ClusteredStops += n
		if n > s.MaxSize {
			s.MaxSize = n
		}
		members := make([]stops.Stop, 0, n)
		for _, id := range c.Members {
			if st, ok := byID[id]; ok {
				members = append(members, st)
			}
		}
		s.Diameters[i] = geo.Diameter(proj.ProjectAll(members))
	}
	s.Unclustered = s.Stops - s.ClusteredStops

	s.MeanSize, s.StdDevSize = stat.MeanStdDev(sizes, nil)
	if len(sizes) < 2 {
		s.StdDevSize = 0
	}
	sort.Float64s(sizes)
	s.MedianSize = stat.Quantile(0.5, stat.Empirical, sizes, nil)

	d := append([]float64(nil), s.Diameters...)
	sort.Float64s(d)
	s.MeanDiameter = stat.Mean(d, nil)
	s.MedianDiameter = stat.Quantile(0.5, stat.Empirical, d, nil)
	s.P95Diameter = stat.Quantile(0.95, stat.Empirical, d, nil)
	s.MaxDiameter = floats.Max(d)
	return s
}
