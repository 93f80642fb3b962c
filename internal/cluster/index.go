package cluster

import (
	"math"

	"github.com/paulmach/orb"
)

// estimatedPointsPerCell sizes the grid map up front.
const estimatedPointsPerCell = 4

// SpatialIndex answers fixed-radius neighbour queries over planar points
// using a regular grid. Cell size should match the query radius so that a
// 3x3 cell neighbourhood covers every candidate.
type SpatialIndex struct {
	CellSize float64
	Grid     map[cellKey][]int
}

// cellKey is a grid cell's integer coordinates.
type cellKey [2]int64

// NewSpatialIndex creates an empty index with the given cell size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[cellKey][]int),
	}
}

// Build (re)populates the index.
func (si *SpatialIndex) Build(points []orb.Point) {
	si.Grid = make(map[cellKey][]int, len(points)/estimatedPointsPerCell+1)
	for i, p := range points {
		k := si.cell(p)
		si.Grid[k] = append(si.Grid[k], i)
	}
}

func (si *SpatialIndex) cell(p orb.Point) cellKey {
	return cellKey{int64(math.Floor(p[0] / si.CellSize)), int64(math.Floor(p[1] / si.CellSize))}
}

// RegionQuery returns the indices of all points within eps of points[idx],
// idx itself included, in ascending index order per cell scan. eps must not
// exceed the cell size.
func (si *SpatialIndex) RegionQuery(points []orb.Point, idx int, eps float64) []int {
	p := points[idx]
	eps2 := eps * eps
	c := si.cell(p)

	var neighbors []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, j := range si.Grid[cellKey{c[0] + dx, c[1] + dy}] {
				ddx := points[j][0] - p[0]
				ddy := points[j][1] - p[1]
				if ddx*ddx+ddy*ddy <= eps2 {
					neighbors = append(neighbors, j)
				}
			}
		}
	}
	return neighbors
}
