package main

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/transit-hubs/internal/cluster"
	"github.com/banshee-data/transit-hubs/internal/config"
	"github.com/banshee-data/transit-hubs/internal/db"
	"github.com/banshee-data/transit-hubs/internal/geo"
	"github.com/banshee-data/transit-hubs/internal/memstore"
	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/neo4jstore"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// app carries what every subcommand needs. The store is opened lazily.
type app struct {
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer

	store   unify.GraphStore
	closeFn func() error
}

// open connects to the configured backend.
func (a *app) open(ctx context.Context) (unify.GraphStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg := a.cfg
	switch backend := cfg.GetBackend(); backend {
	case config.BackendSQLite:
		d, err := db.NewDB(cfg.GetSQLitePath(), db.Options{
			UsageRelationship:     cfg.GetUsageRelationship(),
			RedirectRelationships: cfg.GetRedirectRelationships(),
		})
		if err != nil {
			return nil, err
		}
		a.store, a.closeFn = d, d.Close
	case config.BackendNeo4j:
		s, err := neo4jstore.New(neo4jstore.Options{
			URI:                   cfg.GetNeo4jURI(),
			User:                  cfg.GetNeo4jUser(),
			Password:              cfg.GetNeo4jPassword(),
			Database:              cfg.GetNeo4jDatabase(),
			UsageRelationship:     cfg.GetUsageRelationship(),
			RedirectRelationships: cfg.GetRedirectRelationships(),
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("neo4j schema: %w", err)
		}
		a.store, a.closeFn = s, func() error { return s.Close(context.Background()) }
	case config.BackendMemory:
		s, err := memstore.New(memstore.Options{
			UsageRelationship:     cfg.GetUsageRelationship(),
			RedirectRelationships: cfg.GetRedirectRelationships(),
		})
		if err != nil {
			return nil, err
		}
		a.store, a.closeFn = s, func() error { return nil }
	default:
		return nil, usageErr("unknown backend %q", backend)
	}
	monitoring.Diagf("store: %v", a.store)
	return a.store, nil
}

func (a *app) close() {
	if a.closeFn == nil {
		return
	}
	if err := a.closeFn(); err != nil {
		monitoring.Opsf("failed to close store: %v", err)
	}
	a.store, a.closeFn = nil, nil
}

// pipeline builds the clusterer and pipeline from configuration with the
// given redirect batch size.
func (a *app) pipeline(ctx context.Context, batch int) (*unify.Pipeline, error) {
	store, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	proj, err := geo.ParseProjection(a.cfg.GetProjection())
	if err != nil {
		return nil, err
	}
	c, err := cluster.New(cluster.Params{
		Eps:         a.cfg.GetEpsMetres(),
		MaxDiameter: a.cfg.GetMaxDiameterMetres(),
		Projection:  proj,
		Workers:     a.cfg.GetSplitWorkers(),
	})
	if err != nil {
		return nil, err
	}
	return unify.NewPipeline(store, c, batch)
}
