// Package testutil provides shared test helpers and a small fixture
// network.
package testutil

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// Quiet silences all log streams for the duration of the test.
func Quiet(t testing.TB) {
	t.Helper()
	monitoring.SetLogWriters(monitoring.LogWriters{})
	t.Cleanup(func() { monitoring.SetLogWriters(monitoring.DefaultLogWriters()) })
}

// Reference point of the fixture network.
const (
	BaseLat = 48.2
	BaseLon = 16.37
)

// At returns the coordinate north and east metres from the reference point.
func At(north, east float64) (lat, lon float64) {
	const metresPerDegree = 111320.0
	lat = BaseLat + north/metresPerDegree
	lon = BaseLon + east/(metresPerDegree*math.Cos(BaseLat*math.Pi/180))
	return lat, lon
}

// Loader is implemented by stores that can be seeded with fixtures.
type Loader interface {
	AddStops(list ...stops.Stop) error
	AddRelationship(kind, source string, stop stops.ID, props map[string]any) (int64, error)
}

// Network is a fixture: stops, the number of STOPS_AT visits per stop and
// extra relationships of other kinds.
type Network struct {
	Stops []stops.Stop
	Usage map[stops.ID]int
	Extra []stops.Relationship
}

// Load seeds l with the network. Visits become STOPS_AT relationships from
// trip sources with a sequence property.
func Load(t testing.TB, l Loader, n Network) {
	t.Helper()
	if err := l.AddStops(n.Stops...); err != nil {
		t.Fatalf("AddStops: %v", err)
	}
	for _, s := range n.Stops {
		for i := 0; i < n.Usage[s.ID]; i++ {
			props := map[string]any{"sequence": int64(i + 1), "arrival": fmt.Sprintf("08:%02d:00", i)}
			if _, err := l.AddRelationship("STOPS_AT", fmt.Sprintf("trip:%s:%d", s.ID, i), s.ID, props); err != nil {
				t.Fatalf("AddRelationship: %v", err)
			}
		}
	}
	for _, r := range n.Extra {
		if _, err := l.AddRelationship(r.Kind, r.Source, r.Stop, r.Properties); err != nil {
			t.Fatalf("AddRelationship: %v", err)
		}
	}
}

func stop(id, name string, north, east float64) stops.Stop {
	lat, lon := At(north, east)
	return stops.Stop{ID: stops.MustParseID(id), Name: name, Lat: lat, Lon: lon}
}

// Fixture stop identifiers.
const (
	Westbahnhof     stops.ID = "at:49:100:0:1"
	WestbahnhofU    stops.ID = "at:49:100:0:2"
	Karlsplatz      stops.ID = "at:49:200:0:1"
	KarlsplatzPass  stops.ID = "at:49:200:0:2"
	Oper            stops.ID = "at:49:201:0:1"
	Praterstern     stops.ID = "at:49:300:0:1"
	PratersternS    stops.ID = "at:49:300:0:2"
	PratersternBus  stops.ID = "at:49:301:0:1"
	Lassallestrasse stops.ID = "at:49:302:0:1"
	Huetteldorf     stops.ID = "at:49:900:0:1"
)

// DistrictRelation is a relationship kind that redirection leaves alone.
const DistrictRelation = "IN_DISTRICT"

// ViennaNetwork is laid out so that, with eps 200m and diameter 400m:
//
//   - Karlsplatz and Oper (60m apart) cluster spatially.
//   - Praterstern + Bus and Praterstern S + Lassallestrasse form two spatial
//     clusters 1.4km apart that the identity merge joins.
//   - Westbahnhof and Westbahnhof U (700m apart) are joined only by identity.
//   - Karlsplatz Passage (900m away) is attached to the Karlsplatz cluster by
//     identity.
//   - Huetteldorf is isolated.
func ViennaNetwork() Network {
	return Network{
		Stops: []stops.Stop{
			stop(string(Westbahnhof), "Westbahnhof", 0, 0),
			stop(string(WestbahnhofU), "Westbahnhof U", 0, 700),
			stop(string(Karlsplatz), "Karlsplatz", 2000, 0),
			stop(string(Oper), "Oper", 2000, 60),
			stop(string(KarlsplatzPass), "Karlsplatz Passage", 2000, 900),
			stop(string(Praterstern), "Praterstern", 4000, 0),
			stop(string(PratersternBus), "Praterstern Bus", 4000, 80),
			stop(string(PratersternS), "Praterstern S", 4000, 1500),
			stop(string(Lassallestrasse), "Lassallestrasse", 4000, 1580),
			stop(string(Huetteldorf), "Huetteldorf", 8000, 0),
		},
		Usage: map[stops.ID]int{
			Westbahnhof:    3,
			WestbahnhofU:   5,
			Karlsplatz:     4,
			Oper:           4,
			KarlsplatzPass: 1,
			Praterstern:    10,
			PratersternBus: 2,
			PratersternS:   1,
			Huetteldorf:    1,
		},
		Extra: []stops.Relationship{
			{Kind: DistrictRelation, Source: "district:15", Stop: Westbahnhof, Properties: map[string]any{"name": "Rudolfsheim-Fuenfhaus"}},
		},
	}
}
