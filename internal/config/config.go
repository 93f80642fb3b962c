package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/transit-hubs/internal/stops"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo root.
const DefaultConfigPath = "config/transit_hubs.defaults.json"

// Defaults used when a field is omitted.
const (
	DefaultEpsMetres         = 200.0
	DefaultMaxDiameterMetres = 400.0
	DefaultProjection        = "local"
	DefaultSplitWorkers      = 4
	DefaultRedirectBatchSize = 10000
	DefaultUsageRelationship = "STOPS_AT"
	DefaultBackend           = BackendSQLite
	DefaultSQLitePath        = "transit_hubs.db"
	DefaultNeo4jURI          = "bolt://localhost:7687"
	DefaultNeo4jUser         = "neo4j"
	DefaultNeo4jDatabase     = "neo4j"
	DefaultListen            = ":8080"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
)

// Config is the root configuration. Every field is optional; the Get*
// methods fall back to the defaults above, so partial files are valid.
type Config struct {
	EpsMetres             *float64 `json:"eps_metres,omitempty" yaml:"eps_metres,omitempty" validate:"omitempty,gt=0"`
	MaxDiameterMetres     *float64 `json:"max_diameter_metres,omitempty" yaml:"max_diameter_metres,omitempty" validate:"omitempty,gt=0"`
	Projection            *string  `json:"projection,omitempty" yaml:"projection,omitempty" validate:"omitempty,oneof=local mercator"`
	SplitWorkers          *int     `json:"split_workers,omitempty" yaml:"split_workers,omitempty" validate:"omitempty,gte=1,lte=256"`
	RedirectBatchSize     *int     `json:"redirect_batch_size,omitempty" yaml:"redirect_batch_size,omitempty" validate:"omitempty,gt=0"`
	UsageRelationship     *string  `json:"usage_relationship,omitempty" yaml:"usage_relationship,omitempty" validate:"omitempty,relkind"`
	RedirectRelationships []string `json:"redirect_relationships,omitempty" yaml:"redirect_relationships,omitempty" validate:"omitempty,dive,relkind"`

	Store  StoreConfig  `json:"store" yaml:"store"`
	Server ServerConfig `json:"server" yaml:"server"`
}

// StoreConfig selects and configures the graph store backend.
type StoreConfig struct {
	Backend       *string `json:"backend,omitempty" yaml:"backend,omitempty" validate:"omitempty,oneof=sqlite neo4j memory"`
	SQLitePath    *string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	Neo4jURI      *string `json:"neo4j_uri,omitempty" yaml:"neo4j_uri,omitempty" validate:"omitempty,uri"`
	Neo4jUser     *string `json:"neo4j_user,omitempty" yaml:"neo4j_user,omitempty"`
	Neo4jPassword *string `json:"neo4j_password,omitempty" yaml:"neo4j_password,omitempty"`
	Neo4jDatabase *string `json:"neo4j_database,omitempty" yaml:"neo4j_database,omitempty"`
}

// ServerConfig configures the read-only HTTP surface.
type ServerConfig struct {
	Listen *string `json:"listen,omitempty" yaml:"listen,omitempty" validate:"omitempty,hostname_port|startswith=:"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	return &Config{
		EpsMetres:             ptrFloat64(DefaultEpsMetres),
		MaxDiameterMetres:     ptrFloat64(DefaultMaxDiameterMetres),
		Projection:            ptrString(DefaultProjection),
		SplitWorkers:          ptrInt(DefaultSplitWorkers),
		RedirectBatchSize:     ptrInt(DefaultRedirectBatchSize),
		UsageRelationship:     ptrString(DefaultUsageRelationship),
		RedirectRelationships: []string{DefaultUsageRelationship},
		Store: StoreConfig{
			Backend:       ptrString(DefaultBackend),
			SQLitePath:    ptrString(DefaultSQLitePath),
			Neo4jURI:      ptrString(DefaultNeo4jURI),
			Neo4jUser:     ptrString(DefaultNeo4jUser),
			Neo4jPassword: ptrString(""),
			Neo4jDatabase: ptrString(DefaultNeo4jDatabase),
		},
		Server: ServerConfig{Listen: ptrString(DefaultListen)},
	}
}

// Load reads a .json, .yaml or .yml file. The file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. It panics if the file cannot be loaded, for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("relkind", func(fl validator.FieldLevel) bool {
		return stops.ValidRelationshipKind(fl.Field().String())
	})
	return v
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.GetMaxDiameterMetres() < c.GetEpsMetres() {
		return fmt.Errorf("max_diameter_metres (%g) must be at least eps_metres (%g)",
			c.GetMaxDiameterMetres(), c.GetEpsMetres())
	}
	return nil
}

// GetEpsMetres returns eps_metres or the default.
func (c *Config) GetEpsMetres() float64 {
	if c.EpsMetres == nil {
		return DefaultEpsMetres
	}
	return *c.EpsMetres
}

// GetMaxDiameterMetres returns max_diameter_metres or the default.
func (c *Config) GetMaxDiameterMetres() float64 {
	if c.MaxDiameterMetres == nil {
		return DefaultMaxDiameterMetres
	}
	return *c.MaxDiameterMetres
}

// GetProjection returns projection or the default.
func (c *Config) GetProjection() string {
	if c.Projection == nil || *c.Projection == "" {
		return DefaultProjection
	}
	return *c.Projection
}

// GetSplitWorkers returns split_workers or the default.
func (c *Config) GetSplitWorkers() int {
	if c.SplitWorkers == nil {
		return DefaultSplitWorkers
	}
	return *c.SplitWorkers
}

// GetRedirectBatchSize returns redirect_batch_size or the default.
func (c *Config) GetRedirectBatchSize() int {
	if c.RedirectBatchSize == nil {
		return DefaultRedirectBatchSize
	}
	return *c.RedirectBatchSize
}

// GetUsageRelationship returns usage_relationship or the default.
func (c *Config) GetUsageRelationship() string {
	if c.UsageRelationship == nil || *c.UsageRelationship == "" {
		return DefaultUsageRelationship
	}
	return *c.UsageRelationship
}

// GetRedirectRelationships returns redirect_relationships or the default.
func (c *Config) GetRedirectRelationships() []string {
	if len(c.RedirectRelationships) == 0 {
		return []string{DefaultUsageRelationship}
	}
	return append([]string(nil), c.RedirectRelationships...)
}

// GetBackend returns store.backend or the default.
func (c *Config) GetBackend() string {
	if c.Store.Backend == nil || *c.Store.Backend == "" {
		return DefaultBackend
	}
	return *c.Store.Backend
}

// GetSQLitePath returns store.sqlite_path or the default.
func (c *Config) GetSQLitePath() string {
	if c.Store.SQLitePath == nil || *c.Store.SQLitePath == "" {
		return DefaultSQLitePath
	}
	return *c.Store.SQLitePath
}

// GetNeo4jURI returns store.neo4j_uri or the default.
func (c *Config) GetNeo4jURI() string {
	if c.Store.Neo4jURI == nil || *c.Store.Neo4jURI == "" {
		return DefaultNeo4jURI
	}
	return *c.Store.Neo4jURI
}

// GetNeo4jUser returns store.neo4j_user or the default.
func (c *Config) GetNeo4jUser() string {
	if c.Store.Neo4jUser == nil {
		return DefaultNeo4jUser
	}
	return *c.Store.Neo4jUser
}

// GetNeo4jPassword returns store.neo4j_password. The
// TRANSIT_HUBS_NEO4J_PASSWORD environment variable takes precedence.
func (c *Config) GetNeo4jPassword() string {
	if v := os.Getenv("TRANSIT_HUBS_NEO4J_PASSWORD"); v != "" {
		return v
	}
	if c.Store.Neo4jPassword == nil {
		return ""
	}
	return *c.Store.Neo4jPassword
}

// GetNeo4jDatabase returns store.neo4j_database or the default.
func (c *Config) GetNeo4jDatabase() string {
	if c.Store.Neo4jDatabase == nil || *c.Store.Neo4jDatabase == "" {
		return DefaultNeo4jDatabase
	}
	return *c.Store.Neo4jDatabase
}

// GetListen returns server.listen or the default.
func (c *Config) GetListen() string {
	if c.Server.Listen == nil || *c.Server.Listen == "" {
		return DefaultListen
	}
	return *c.Server.Listen
}
