package testutil

import (
	"math"
	"net/http"
	"testing"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodGet, "/api/clusters")
	if req.Method != http.MethodGet || req.URL.Path != "/api/clusters" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
}

func TestAt(t *testing.T) {
	lat, lon := At(0, 0)
	if lat != BaseLat || lon != BaseLon {
		t.Errorf("At(0,0) = %v,%v", lat, lon)
	}
	lat, _ = At(111320, 0)
	if math.Abs(lat-(BaseLat+1)) > 1e-9 {
		t.Errorf("At(111320,0) lat = %v, want %v", lat, BaseLat+1)
	}
}

type recorder struct {
	stops []stops.Stop
	rels  []stops.Relationship
}

func (r *recorder) AddStops(list ...stops.Stop) error {
	r.stops = append(r.stops, list...)
	return nil
}

func (r *recorder) AddRelationship(kind, source string, stop stops.ID, props map[string]any) (int64, error) {
	r.rels = append(r.rels, stops.Relationship{Kind: kind, Source: source, Stop: stop, Properties: props})
	return int64(len(r.rels)), nil
}

func TestLoadViennaNetwork(t *testing.T) {
	n := ViennaNetwork()
	if err := stops.ValidateStops(n.Stops); err != nil {
		t.Fatalf("fixture stops invalid: %v", err)
	}

	var r recorder
	Load(t, &r, n)

	if len(r.stops) != len(n.Stops) {
		t.Errorf("loaded %d stops, want %d", len(r.stops), len(n.Stops))
	}
	want := len(n.Extra)
	for _, u := range n.Usage {
		want += u
	}
	if len(r.rels) != want {
		t.Errorf("loaded %d relationships, want %d", len(r.rels), want)
	}
}
