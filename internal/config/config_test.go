package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := Empty()

	if got := cfg.GetEpsMetres(); got != 200 {
		t.Errorf("GetEpsMetres() = %v, want 200", got)
	}
	if got := cfg.GetMaxDiameterMetres(); got != 400 {
		t.Errorf("GetMaxDiameterMetres() = %v, want 400", got)
	}
	if got := cfg.GetProjection(); got != "local" {
		t.Errorf("GetProjection() = %q, want local", got)
	}
	if got := cfg.GetRedirectBatchSize(); got != 10000 {
		t.Errorf("GetRedirectBatchSize() = %d, want 10000", got)
	}
	if got := cfg.GetRedirectRelationships(); len(got) != 1 || got[0] != "STOPS_AT" {
		t.Errorf("GetRedirectRelationships() = %v, want [STOPS_AT]", got)
	}
	if got := cfg.GetBackend(); got != "sqlite" {
		t.Errorf("GetBackend() = %q, want sqlite", got)
	}
	if got := cfg.GetListen(); got != ":8080" {
		t.Errorf("GetListen() = %q, want :8080", got)
	}
	require.NoError(t, cfg.Validate())
}

func TestDefaultsMatchGetters(t *testing.T) {
	d := Defaults()
	e := Empty()
	assert.Equal(t, e.GetEpsMetres(), d.GetEpsMetres())
	assert.Equal(t, e.GetMaxDiameterMetres(), d.GetMaxDiameterMetres())
	assert.Equal(t, e.GetSplitWorkers(), d.GetSplitWorkers())
	assert.Equal(t, e.GetUsageRelationship(), d.GetUsageRelationship())
	assert.Equal(t, e.GetSQLitePath(), d.GetSQLitePath())
	assert.Equal(t, e.GetNeo4jURI(), d.GetNeo4jURI())
	require.NoError(t, d.Validate())
}

func TestLoadJSONPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"eps_metres": 50, "store": {"backend": "memory"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.GetEpsMetres())
	assert.Equal(t, 400.0, cfg.GetMaxDiameterMetres())
	assert.Equal(t, "memory", cfg.GetBackend())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubs.yaml")
	yml := `
eps_metres: 100
max_diameter_metres: 250
projection: mercator
redirect_relationships: [STOPS_AT, SERVES]
store:
  backend: neo4j
  neo4j_uri: bolt://db:7687
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mercator", cfg.GetProjection())
	assert.Equal(t, []string{"STOPS_AT", "SERVES"}, cfg.GetRedirectRelationships())
	assert.Equal(t, "bolt://db:7687", cfg.GetNeo4jURI())
	assert.Equal(t, "neo4j", cfg.GetNeo4jUser())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"extension", "hubs.toml", `eps_metres = 1`},
		{"negative eps", "hubs.json", `{"eps_metres": -5}`},
		{"zero batch", "hubs.json", `{"redirect_batch_size": 0}`},
		{"projection", "hubs.json", `{"projection": "utm"}`},
		{"backend", "hubs.yaml", "store:\n  backend: redis\n"},
		{"relationship kind", "hubs.json", `{"redirect_relationships": ["STOPS_AT", "x]-() DELETE"]}`},
		{"usage kind", "hubs.json", `{"usage_relationship": "stops_at"}`},
		{"diameter below eps", "hubs.json", `{"eps_metres": 300, "max_diameter_metres": 100}`},
		{"malformed json", "hubs.json", `{"eps_metres":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.Equal(t, DefaultEpsMetres, cfg.GetEpsMetres())
	assert.Equal(t, DefaultRedirectBatchSize, cfg.GetRedirectBatchSize())
	assert.Equal(t, DefaultBackend, cfg.GetBackend())
}

func TestNeo4jPasswordFromEnv(t *testing.T) {
	t.Setenv("TRANSIT_HUBS_NEO4J_PASSWORD", "secret")
	assert.Equal(t, "secret", Empty().GetNeo4jPassword())
}
