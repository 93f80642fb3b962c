// Package geo projects stop coordinates into a planar metric space and
// provides the cheap geometric measures used by the clusterer.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Projection selects how geographic coordinates are mapped to metres.
type Projection string

const (
	// ProjectionLocal is Web Mercator rescaled by cos(reference latitude), so
	// that planar distances are true metres around the reference latitude.
	ProjectionLocal Projection = "local"
	// ProjectionMercator is plain EPSG:3857. Distances are inflated by
	// 1/cos(latitude) away from the equator.
	ProjectionMercator Projection = "mercator"
)

// ParseProjection validates a projection name.
func ParseProjection(s string) (Projection, error) {
	switch p := Projection(s); p {
	case ProjectionLocal, ProjectionMercator:
		return p, nil
	case "":
		return ProjectionLocal, nil
	default:
		return "", &stops.PreconditionError{Field: "projection", Value: s, Reason: "must be local or mercator"}
	}
}

// Projector converts stops to planar points in metres.
type Projector struct {
	kind  Projection
	scale float64
}

// NewProjector builds a projector for the given stop set. For
// ProjectionLocal the reference latitude is the mean latitude of the set.
func NewProjector(kind Projection, list []stops.Stop) Projector {
	p := Projector{kind: kind, scale: 1}
	if kind == ProjectionLocal && len(list) > 0 {
		var sum float64
		for _, s := range list {
			sum += s.Lat
		}
		p.scale = math.Cos(sum / float64(len(list)) * math.Pi / 180)
	}
	return p
}

// Kind returns the projection in use.
func (p Projector) Kind() Projection { return p.kind }

// Project maps one coordinate pair.
func (p Projector) Project(lat, lon float64) orb.Point {
	m := project.WGS84.ToMercator(orb.Point{lon, lat})
	return orb.Point{m[0] * p.scale, m[1] * p.scale}
}

// ProjectAll maps every stop, preserving order.
func (p Projector) ProjectAll(list []stops.Stop) []orb.Point {
	out := make([]orb.Point, len(list))
	for i, s := range list {
		out[i] = p.Project(s.Lat, s.Lon)
	}
	return out
}

func (p Projector) String() string {
	return fmt.Sprintf("%s(scale=%.6f)", p.kind, p.scale)
}
