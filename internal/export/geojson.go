// Package export writes clusters as GeoJSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// Options selects what is exported.
type Options struct {
	// Members adds one point feature per member stop.
	Members bool
}

// Clusters builds a feature collection with one point per cluster at its
// stored position. Clusters without a stored position are placed at the
// centroid of their members. Each cluster feature carries the bounding box
// of its members.
func Clusters(clusters []stops.Cluster, byID map[stops.ID]stops.Stop, opts Options) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range clusters {
		members := make([]stops.Stop, 0, len(c.Members))
		mp := make(orb.MultiPoint, 0, len(c.Members))
		for _, id := range c.Members {
			s, ok := byID[id]
			if !ok {
				continue
			}
			members = append(members, s)
			mp = append(mp, orb.Point{s.Lon, s.Lat})
		}

		lat, lon := c.Lat, c.Lon
		if lat == 0 && lon == 0 {
			lat, lon = geo.Centroid(members)
		}
		f := geojson.NewFeature(orb.Point{lon, lat})
		f.ID = string(c.Root)
		f.Properties["kind"] = "cluster"
		f.Properties["root"] = string(c.Root)
		f.Properties["name"] = byID[c.Root].Name
		f.Properties["size"] = c.Size()
		ids := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = string(m)
		}
		f.Properties["members"] = ids
		if len(mp) > 0 {
			f.BBox = geojson.NewBBox(mp.Bound())
		}
		fc.Append(f)

		if !opts.Members {
			continue
		}
		for _, s := range members {
			m := geojson.NewFeature(orb.Point{s.Lon, s.Lat})
			m.ID = string(s.ID)
			m.Properties["kind"] = "stop"
			m.Properties["name"] = s.Name
			m.Properties["cluster"] = string(c.Root)
			m.Properties["root"] = s.ID == c.Root
			fc.Append(m)
		}
	}
	return fc
}

// Write encodes fc as indented JSON.
func Write(w io.Writer, fc *geojson.FeatureCollection) error {
	b, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	var pretty map[string]any
	if err := json.Unmarshal(b, &pretty); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
