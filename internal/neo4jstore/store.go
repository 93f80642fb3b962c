// Package neo4jstore is a GraphStore over a Neo4j database. Stops are
// (:Stop {id}) nodes, roots carry the ClusterStop label, members point at
// their root with IN_CLUSTER, and dependent relationships end at a stop.
package neo4jstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// Options configures the connection and relationship handling.
type Options struct {
	URI                   string
	User                  string
	Password              string
	Database              string
	UsageRelationship     string
	RedirectRelationships []string
}

// Store implements unify.GraphStore against Neo4j.
type Store struct {
	driver    neo4j.DriverWithContext
	database  string
	usageKind string
	kinds     unify.KindSet
}

// Compile-time check.
var _ unify.GraphStore = (*Store)(nil)

// New validates opts and creates a driver. It does not connect; use Ping
// to check connectivity.
func New(opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, &stops.PreconditionError{Field: "neo4j uri", Value: opts.URI, Reason: "required"}
	}
	if opts.UsageRelationship == "" {
		opts.UsageRelationship = "STOPS_AT"
	}
	if !stops.ValidRelationshipKind(opts.UsageRelationship) {
		return nil, &stops.PreconditionError{Field: "usage relationship", Value: opts.UsageRelationship, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
	}
	if len(opts.RedirectRelationships) == 0 {
		opts.RedirectRelationships = []string{opts.UsageRelationship}
	}
	kinds, err := unify.NewKindSet(opts.RedirectRelationships...)
	if err != nil {
		return nil, err
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{
		driver:    driver,
		database:  opts.Database,
		usageKind: opts.UsageRelationship,
		kinds:     kinds,
	}, nil
}

// Ping verifies that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraint on stop identifiers.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return run(ctx, tx, `CREATE CONSTRAINT stop_id IF NOT EXISTS FOR (s:Stop) REQUIRE s.id IS UNIQUE`, nil)
	})
	return err
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) write(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}

func (s *Store) read(ctx context.Context, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, fn)
}

// run executes query and collects every record.
func run(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// single runs a query returning one integer column named n.
func single(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) (int, error) {
	records, err := run(ctx, tx, query, params)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, err := intValue(records[0], "n")
	return int(n), err
}

// AddStops imports stops. Identifiers are validated and must be new.
func (s *Store) AddStops(list ...stops.Stop) error {
	if err := stops.ValidateStops(list); err != nil {
		return err
	}
	rows := make([]map[string]any, len(list))
	ids := make([]string, len(list))
	for i, st := range list {
		rows[i] = map[string]any{"id": string(st.ID), "name": st.Name, "lat": st.Lat, "lon": st.Lon}
		ids[i] = string(st.ID)
	}
	ctx := context.Background()
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		n, err := single(ctx, tx, `MATCH (s:Stop) WHERE s.id IN $ids RETURN count(s) AS n`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, &stops.PreconditionError{Field: "stop ids", Value: n, Reason: "already imported"}
		}
		return run(ctx, tx, `
			UNWIND $rows AS row
			CREATE (s:Stop {id: row.id, name: row.name, lat: row.lat, lon: row.lon})`,
			map[string]any{"rows": rows})
	})
	return err
}

// AddRelationship attaches a relationship of kind from the source entity
// to a stop and returns its ID.
func (s *Store) AddRelationship(kind, source string, stop stops.ID, props map[string]any) (int64, error) {
	if !stops.ValidRelationshipKind(kind) {
		return 0, &stops.PreconditionError{Field: "relationship kind", Value: kind, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
	}
	if props == nil {
		props = map[string]any{}
	}
	ctx := context.Background()
	id, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := run(ctx, tx, `
			MATCH (s:Stop {id: $stop})
			MERGE (x:Source {id: $source})
			CREATE (x)-[r:`+kind+`]->(s)
			SET r += $props
			RETURN id(r) AS n`,
			map[string]any{"stop": string(stop), "source": source, "props": props})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &stops.PreconditionError{Field: "stop id", Value: stop, Reason: "unknown stop"}
		}
		return intValue(records[0], "n")
	})
	if err != nil {
		return 0, err
	}
	return id.(int64), nil
}

// Relationships returns all dependent relationships ordered by ID.
func (s *Store) Relationships(ctx context.Context) ([]stops.Relationship, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := run(ctx, tx, `
			MATCH (x)-[r]->(s:Stop)
			WHERE type(r) <> 'IN_CLUSTER'
			RETURN id(r) AS rid, type(r) AS kind, x.id AS source, s.id AS stop, properties(r) AS props
			ORDER BY rid`, nil)
		if err != nil {
			return nil, err
		}
		rels := make([]stops.Relationship, 0, len(records))
		for _, rec := range records {
			var r stops.Relationship
			if r.ID, err = intValue(rec, "rid"); err != nil {
				return nil, err
			}
			r.Kind = stringValue(rec, "kind")
			r.Source = stringValue(rec, "source")
			r.Stop = stops.ID(stringValue(rec, "stop"))
			if p, ok := rec.Get("props"); ok {
				r.Properties, _ = p.(map[string]any)
			}
			rels = append(rels, r)
		}
		return rels, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]stops.Relationship), nil
}

// ListStops returns all stops ordered by identifier.
func (s *Store) ListStops(ctx context.Context) ([]stops.Stop, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return listStops(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]stops.Stop), nil
}

func listStops(ctx context.Context, tx neo4j.ManagedTransaction) ([]stops.Stop, error) {
	records, err := run(ctx, tx, `
		MATCH (s:Stop)
		RETURN s.id AS id, coalesce(s.name, '') AS name, s.lat AS lat, s.lon AS lon
		ORDER BY id`, nil)
	if err != nil {
		return nil, err
	}
	list := make([]stops.Stop, 0, len(records))
	for _, rec := range records {
		lat, err := floatValue(rec, "lat")
		if err != nil {
			return nil, err
		}
		lon, err := floatValue(rec, "lon")
		if err != nil {
			return nil, err
		}
		list = append(list, stops.Stop{
			ID:   stops.ID(stringValue(rec, "id")),
			Name: stringValue(rec, "name"),
			Lat:  lat,
			Lon:  lon,
		})
	}
	return list, nil
}

// HasClusters reports whether any ClusterStop or IN_CLUSTER edge exists.
func (s *Store) HasClusters(ctx context.Context) (bool, error) {
	n, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return single(ctx, tx, `
			OPTIONAL MATCH (c:ClusterStop)
			WITH count(c) AS roots
			OPTIONAL MATCH ()-[r:IN_CLUSTER]->()
			RETURN roots + count(r) AS n`, nil)
	})
	if err != nil {
		return false, err
	}
	return n.(int) > 0, nil
}

// ClearClusters removes all IN_CLUSTER edges and ClusterStop labels.
func (s *Store) ClearClusters(ctx context.Context) (unify.ClearResult, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return clearClusters(ctx, tx)
	})
	if err != nil {
		return unify.ClearResult{}, err
	}
	return out.(unify.ClearResult), nil
}

func clearClusters(ctx context.Context, tx neo4j.ManagedTransaction) (unify.ClearResult, error) {
	var res unify.ClearResult
	var err error
	if res.EdgesRemoved, err = single(ctx, tx, `
		MATCH ()-[r:IN_CLUSTER]->()
		DELETE r
		RETURN count(r) AS n`, nil); err != nil {
		return res, err
	}
	if res.RolesRemoved, err = single(ctx, tx, `
		MATCH (c:ClusterStop)
		REMOVE c:ClusterStop, c.cluster_lat, c.cluster_lon
		RETURN count(c) AS n`, nil); err != nil {
		return res, err
	}
	return res, nil
}

// snapshot reads the raw cluster state.
func snapshot(ctx context.Context, tx neo4j.ManagedTransaction) (unify.Snapshot, error) {
	var snap unify.Snapshot
	records, err := run(ctx, tx, `MATCH (s:Stop) RETURN s.id AS id ORDER BY id`, nil)
	if err != nil {
		return snap, err
	}
	for _, rec := range records {
		snap.Stops = append(snap.Stops, stops.ID(stringValue(rec, "id")))
	}
	if records, err = run(ctx, tx, `MATCH (c:ClusterStop) RETURN c.id AS id ORDER BY id`, nil); err != nil {
		return snap, err
	}
	for _, rec := range records {
		snap.Roots = append(snap.Roots, stops.ID(stringValue(rec, "id")))
	}
	if records, err = run(ctx, tx, `
		MATCH (m)-[:IN_CLUSTER]->(r)
		RETURN m.id AS member, r.id AS root
		ORDER BY member, root`, nil); err != nil {
		return snap, err
	}
	for _, rec := range records {
		snap.Edges = append(snap.Edges, unify.Edge{
			Member: stops.ID(stringValue(rec, "member")),
			Root:   stops.ID(stringValue(rec, "root")),
		})
	}
	return snap, nil
}

// writeState rewrites the cluster state to match st. Labels only change on
// stops whose role changes.
func writeState(ctx context.Context, tx neo4j.ManagedTransaction, before unify.Snapshot, st *unify.State) error {
	after := st.Snapshot()
	isRoot := make(map[stops.ID]bool, len(after.Roots))
	for _, r := range after.Roots {
		isRoot[r] = true
	}
	wasRoot := make(map[stops.ID]bool, len(before.Roots))
	for _, r := range before.Roots {
		wasRoot[r] = true
	}
	var demote, promote []string
	for _, r := range before.Roots {
		if !isRoot[r] {
			demote = append(demote, string(r))
		}
	}
	for _, r := range after.Roots {
		if !wasRoot[r] {
			promote = append(promote, string(r))
		}
	}
	edges := make([]map[string]any, len(after.Edges))
	for i, e := range after.Edges {
		edges[i] = map[string]any{"member": string(e.Member), "root": string(e.Root)}
	}

	steps := []struct {
		query  string
		params map[string]any
	}{
		{`MATCH (c:Stop) WHERE c.id IN $ids REMOVE c:ClusterStop, c.cluster_lat, c.cluster_lon`, map[string]any{"ids": demote}},
		{`MATCH (c:Stop) WHERE c.id IN $ids SET c:ClusterStop REMOVE c.cluster_lat, c.cluster_lon`, map[string]any{"ids": promote}},
		{`MATCH ()-[r:IN_CLUSTER]->() DELETE r`, nil},
		{`
			UNWIND $edges AS e
			MATCH (m:Stop {id: e.member}), (r:Stop {id: e.root})
			CREATE (m)-[:IN_CLUSTER]->(r)`, map[string]any{"edges": edges}},
	}
	for _, step := range steps {
		if _, err := run(ctx, tx, step.query, step.params); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceClusters installs groups as the only clusters.
func (s *Store) ReplaceClusters(ctx context.Context, groups [][]stops.ID) (unify.ReplaceResult, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		snap, err := snapshot(ctx, tx)
		if err != nil {
			return nil, err
		}
		st, err := unify.NewState(snap.Stops)
		if err != nil {
			return nil, err
		}
		if err := st.Install(groups); err != nil {
			return nil, err
		}
		if _, err := clearClusters(ctx, tx); err != nil {
			return nil, err
		}
		if err := writeState(ctx, tx, unify.Snapshot{}, st); err != nil {
			return nil, err
		}
		after := st.Snapshot()
		return unify.ReplaceResult{EdgesCreated: len(after.Edges), RootsPromoted: len(after.Roots)}, nil
	})
	if err != nil {
		return unify.ReplaceResult{}, err
	}
	return out.(unify.ReplaceResult), nil
}

// update loads the cluster state, applies fn and writes the result back in
// one transaction.
func (s *Store) update(ctx context.Context, fn func(tx neo4j.ManagedTransaction, st *unify.State) (any, error)) (any, error) {
	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		before, err := snapshot(ctx, tx)
		if err != nil {
			return nil, err
		}
		st, err := unify.LoadState(before)
		if err != nil {
			return nil, err
		}
		out, err := fn(tx, st)
		if err != nil {
			return nil, err
		}
		return out, writeState(ctx, tx, before, st)
	})
}

// MergeByIdentity runs the identity merge to its fixed point.
func (s *Store) MergeByIdentity(ctx context.Context) (unify.MergeStats, error) {
	out, err := s.update(ctx, func(_ neo4j.ManagedTransaction, st *unify.State) (any, error) {
		return st.MergeByIdentity(), nil
	})
	if err != nil {
		return unify.MergeStats{}, err
	}
	return out.(unify.MergeStats), nil
}

// VerifyInvariants runs the integrity checks over the stored state.
func (s *Store) VerifyInvariants(ctx context.Context) ([]stops.Violation, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return snapshot(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return unify.Verify(out.(unify.Snapshot)), nil
}

// ReassignRoots promotes the usage-ranked top member of every cluster.
func (s *Store) ReassignRoots(ctx context.Context) (int, error) {
	out, err := s.update(ctx, func(tx neo4j.ManagedTransaction, st *unify.State) (any, error) {
		list, err := listStops(ctx, tx)
		if err != nil {
			return nil, err
		}
		records, err := run(ctx, tx, usageQuery(s.usageKind), nil)
		if err != nil {
			return nil, err
		}
		usage := make(map[stops.ID]int, len(records))
		for _, rec := range records {
			n, err := intValue(rec, "n")
			if err != nil {
				return nil, err
			}
			usage[stops.ID(stringValue(rec, "id"))] = int(n)
		}
		return st.ReassignRoots(unify.RootInfos(list, usage)), nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

// RedirectRelationships re-targets eligible relationships from members to
// their root, batchSize per transaction and one kind at a time. Committed
// batches stay committed if a later one fails.
func (s *Store) RedirectRelationships(ctx context.Context, batchSize int) (int, error) {
	if err := unify.CheckBatchSize(batchSize); err != nil {
		return 0, err
	}
	v, err := s.VerifyInvariants(ctx)
	if err != nil {
		return 0, err
	}
	if len(v) > 0 {
		return 0, &unify.InvariantError{Step: "redirect", Violations: v}
	}

	moved := 0
	for _, kind := range s.kinds.Sorted() {
		query := redirectQuery(kind)
		for batch := 1; ; batch++ {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
			out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				return single(ctx, tx, query, map[string]any{"limit": batchSize})
			})
			if err != nil {
				return moved, fmt.Errorf("redirect %s batch %d: %w", kind, batch, err)
			}
			n := out.(int)
			if n == 0 {
				break
			}
			moved += n
			monitoring.RecordRedirectBatch()
			monitoring.Tracef("redirect: %s batch %d moved %d relationships", kind, batch, n)
		}
	}
	return moved, nil
}

// UpdateClusterPositions stores every cluster's centroid, root included,
// on the ClusterStop.
func (s *Store) UpdateClusterPositions(ctx context.Context) (int, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return single(ctx, tx, positionsQuery, nil)
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

// Clusters lists all clusters ordered by root, with stored positions.
func (s *Store) Clusters(ctx context.Context) ([]stops.Cluster, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		snap, err := snapshot(ctx, tx)
		if err != nil {
			return nil, err
		}
		st, err := unify.LoadState(snap)
		if err != nil {
			return nil, err
		}
		records, err := run(ctx, tx, `
			MATCH (c:ClusterStop)
			WHERE c.cluster_lat IS NOT NULL
			RETURN c.id AS id, c.cluster_lat AS lat, c.cluster_lon AS lon`, nil)
		if err != nil {
			return nil, err
		}
		positions := make(map[stops.ID][2]float64, len(records))
		for _, rec := range records {
			lat, err := floatValue(rec, "lat")
			if err != nil {
				return nil, err
			}
			lon, err := floatValue(rec, "lon")
			if err != nil {
				return nil, err
			}
			positions[stops.ID(stringValue(rec, "id"))] = [2]float64{lat, lon}
		}
		clusters := st.Clusters()
		for i := range clusters {
			if p, ok := positions[clusters[i].Root]; ok {
				clusters[i].Lat, clusters[i].Lon = p[0], p[1]
			}
		}
		return clusters, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]stops.Cluster), nil
}

func (s *Store) String() string {
	return fmt.Sprintf("neo4j(database %q, usage %s, redirect %v)", s.database, s.usageKind, s.kinds.Sorted())
}
