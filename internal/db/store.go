package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// AddStops imports stops in one transaction. Identifiers are validated and
// must be new.
func (db *DB) AddStops(list ...stops.Stop) error {
	if err := stops.ValidateStops(list); err != nil {
		return err
	}
	ctx := context.Background()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO stops (stop_id, name, lat, lon) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range list {
			exists, err := stopExists(ctx, tx, s.ID)
			if err != nil {
				return err
			}
			if exists {
				return &stops.PreconditionError{Field: "stop id", Value: s.ID, Reason: "already imported"}
			}
			if _, err := stmt.ExecContext(ctx, string(s.ID), s.Name, s.Lat, s.Lon); err != nil {
				return fmt.Errorf("insert stop %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

func stopExists(ctx context.Context, q querier, id stops.ID) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stops WHERE stop_id = ?)`, string(id)).Scan(&exists)
	return exists, err
}

// AddRelationship attaches a relationship of kind from source to a stop and
// returns its ID. Properties are stored as JSON.
func (db *DB) AddRelationship(kind, source string, stop stops.ID, props map[string]any) (int64, error) {
	if !stops.ValidRelationshipKind(kind) {
		return 0, &stops.PreconditionError{Field: "relationship kind", Value: kind, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
	}
	ctx := context.Background()
	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := stopExists(ctx, tx, stop)
		if err != nil {
			return err
		}
		if !exists {
			return &stops.PreconditionError{Field: "stop id", Value: stop, Reason: "unknown stop"}
		}
		id, err = insertRelationship(ctx, tx, kind, source, stop, props)
		return err
	})
	return id, err
}

func insertRelationship(ctx context.Context, q querier, kind, source string, stop stops.ID, props map[string]any) (int64, error) {
	var encoded sql.NullString
	if props != nil {
		b, err := json.Marshal(props)
		if err != nil {
			return 0, fmt.Errorf("encode properties: %w", err)
		}
		encoded = sql.NullString{String: string(b), Valid: true}
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO stop_relationships (kind, source_id, stop_id, properties) VALUES (?, ?, ?, ?)`,
		kind, source, string(stop), encoded)
	if err != nil {
		return 0, fmt.Errorf("insert relationship: %w", err)
	}
	return res.LastInsertId()
}

// Relationships returns all relationships ordered by ID.
func (db *DB) Relationships(ctx context.Context) ([]stops.Relationship, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT rel_id, kind, source_id, stop_id, properties
		FROM stop_relationships
		ORDER BY rel_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stops.Relationship
	for rows.Next() {
		var (
			r     stops.Relationship
			stop  string
			props sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Source, &stop, &props); err != nil {
			return nil, err
		}
		r.Stop = stops.ID(stop)
		if props.Valid {
			if err := json.Unmarshal([]byte(props.String), &r.Properties); err != nil {
				return nil, fmt.Errorf("decode properties of relationship %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListStops returns all stops ordered by identifier.
func (db *DB) ListStops(ctx context.Context) ([]stops.Stop, error) {
	return listStops(ctx, db)
}

func listStops(ctx context.Context, q querier) ([]stops.Stop, error) {
	rows, err := q.QueryContext(ctx, `SELECT stop_id, name, lat, lon FROM stops ORDER BY stop_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stops.Stop
	for rows.Next() {
		var (
			s  stops.Stop
			id string
		)
		if err := rows.Scan(&id, &s.Name, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		s.ID = stops.ID(id)
		out = append(out, s)
	}
	return out, rows.Err()
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]stops.ID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stops.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, stops.ID(id))
	}
	return out, rows.Err()
}

// snapshot reads the raw cluster state.
func snapshot(ctx context.Context, q querier) (unify.Snapshot, error) {
	var (
		snap unify.Snapshot
		err  error
	)
	if snap.Stops, err = queryIDs(ctx, q, `SELECT stop_id FROM stops ORDER BY stop_id`); err != nil {
		return snap, fmt.Errorf("read stops: %w", err)
	}
	if snap.Roots, err = queryIDs(ctx, q, `SELECT stop_id FROM stops WHERE is_cluster_root = 1 ORDER BY stop_id`); err != nil {
		return snap, fmt.Errorf("read roots: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT stop_id, root_id FROM stop_memberships ORDER BY stop_id, root_id`)
	if err != nil {
		return snap, fmt.Errorf("read memberships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var member, root string
		if err := rows.Scan(&member, &root); err != nil {
			return snap, err
		}
		snap.Edges = append(snap.Edges, unify.Edge{Member: stops.ID(member), Root: stops.ID(root)})
	}
	return snap, rows.Err()
}

// writeState replaces the stored cluster state with st. Roles are only
// touched where they change, so positions of surviving roots are kept.
func writeState(ctx context.Context, tx *sql.Tx, before unify.Snapshot, st *unify.State) error {
	after := st.Snapshot()
	wasRoot := make(map[stops.ID]bool, len(before.Roots))
	for _, r := range before.Roots {
		wasRoot[r] = true
	}
	isRoot := make(map[stops.ID]bool, len(after.Roots))
	for _, r := range after.Roots {
		isRoot[r] = true
	}

	for _, r := range before.Roots {
		if isRoot[r] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stops SET is_cluster_root = 0, cluster_lat = NULL, cluster_lon = NULL
			WHERE stop_id = ?`, string(r)); err != nil {
			return fmt.Errorf("demote %s: %w", r, err)
		}
	}
	for _, r := range after.Roots {
		if wasRoot[r] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stops SET is_cluster_root = 1, cluster_lat = NULL, cluster_lon = NULL
			WHERE stop_id = ?`, string(r)); err != nil {
			return fmt.Errorf("promote %s: %w", r, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stop_memberships`); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stop_memberships (stop_id, root_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range after.Edges {
		if _, err := stmt.ExecContext(ctx, string(e.Member), string(e.Root)); err != nil {
			return fmt.Errorf("insert membership %s -> %s: %w", e.Member, e.Root, err)
		}
	}
	return nil
}

// HasClusters reports whether any root role or membership edge exists.
func (db *DB) HasClusters(ctx context.Context) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM stops WHERE is_cluster_root = 1)
		    OR EXISTS (SELECT 1 FROM stop_memberships)
	`).Scan(&exists)
	return exists, err
}

// ClearClusters removes all membership edges and root roles.
func (db *DB) ClearClusters(ctx context.Context) (unify.ClearResult, error) {
	var res unify.ClearResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = clearClusters(ctx, tx)
		return err
	})
	if err != nil {
		return unify.ClearResult{}, err
	}
	return res, nil
}

func clearClusters(ctx context.Context, tx *sql.Tx) (unify.ClearResult, error) {
	var res unify.ClearResult
	r, err := tx.ExecContext(ctx, `DELETE FROM stop_memberships`)
	if err != nil {
		return res, fmt.Errorf("delete memberships: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return res, err
	}
	res.EdgesRemoved = int(n)

	r, err = tx.ExecContext(ctx, `
		UPDATE stops SET is_cluster_root = 0, cluster_lat = NULL, cluster_lon = NULL
		WHERE is_cluster_root = 1`)
	if err != nil {
		return res, fmt.Errorf("clear roots: %w", err)
	}
	if n, err = r.RowsAffected(); err != nil {
		return res, err
	}
	res.RolesRemoved = int(n)
	return res, nil
}

// ReplaceClusters installs groups as the only clusters. Groups are
// validated before anything is written.
func (db *DB) ReplaceClusters(ctx context.Context, groups [][]stops.ID) (unify.ReplaceResult, error) {
	var res unify.ReplaceResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := queryIDs(ctx, tx, `SELECT stop_id FROM stops ORDER BY stop_id`)
		if err != nil {
			return err
		}
		st, err := unify.NewState(ids)
		if err != nil {
			return err
		}
		if err := st.Install(groups); err != nil {
			return err
		}
		if _, err := clearClusters(ctx, tx); err != nil {
			return err
		}
		if err := writeState(ctx, tx, unify.Snapshot{}, st); err != nil {
			return err
		}
		snap := st.Snapshot()
		res = unify.ReplaceResult{EdgesCreated: len(snap.Edges), RootsPromoted: len(snap.Roots)}
		return nil
	})
	if err != nil {
		return unify.ReplaceResult{}, err
	}
	return res, nil
}

// update loads the cluster state, applies fn to it and writes it back in
// one transaction.
func (db *DB) update(ctx context.Context, fn func(tx *sql.Tx, st *unify.State) error) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		before, err := snapshot(ctx, tx)
		if err != nil {
			return err
		}
		st, err := unify.LoadState(before)
		if err != nil {
			return err
		}
		if err := fn(tx, st); err != nil {
			return err
		}
		return writeState(ctx, tx, before, st)
	})
}

// MergeByIdentity runs the identity merge to its fixed point in one
// transaction.
func (db *DB) MergeByIdentity(ctx context.Context) (unify.MergeStats, error) {
	var stats unify.MergeStats
	err := db.update(ctx, func(_ *sql.Tx, st *unify.State) error {
		stats = st.MergeByIdentity()
		return nil
	})
	if err != nil {
		return unify.MergeStats{}, err
	}
	return stats, nil
}

// VerifyInvariants runs the integrity checks over the stored state.
func (db *DB) VerifyInvariants(ctx context.Context) ([]stops.Violation, error) {
	snap, err := snapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	return unify.Verify(snap), nil
}

func usageCounts(ctx context.Context, q querier, kind string) (map[stops.ID]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT stop_id, COUNT(*) FROM stop_relationships
		WHERE kind = ?
		GROUP BY stop_id
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[stops.ID]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[stops.ID(id)] = n
	}
	return out, rows.Err()
}

// ReassignRoots promotes the usage-ranked top member of every cluster.
func (db *DB) ReassignRoots(ctx context.Context) (int, error) {
	var changed int
	err := db.update(ctx, func(tx *sql.Tx, st *unify.State) error {
		list, err := listStops(ctx, tx)
		if err != nil {
			return err
		}
		usage, err := usageCounts(ctx, tx, db.usageKind)
		if err != nil {
			return fmt.Errorf("count usage: %w", err)
		}
		changed = st.ReassignRoots(unify.RootInfos(list, usage))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// RedirectRelationships moves eligible relationships from members to their
// root, one transaction per batch. Batches already committed stay committed
// when a later batch fails or ctx is cancelled.
func (db *DB) RedirectRelationships(ctx context.Context, batchSize int) (int, error) {
	if err := unify.CheckBatchSize(batchSize); err != nil {
		return 0, err
	}
	snap, err := snapshot(ctx, db)
	if err != nil {
		return 0, err
	}
	if v := unify.Verify(snap); len(v) > 0 {
		return 0, &unify.InvariantError{Step: "redirect", Violations: v}
	}

	kinds := db.kinds.Sorted()
	args := make([]any, 0, len(kinds)+1)
	for _, k := range kinds {
		args = append(args, k)
	}
	args = append(args, batchSize)
	query := `
		UPDATE stop_relationships
		SET stop_id = (
			SELECT m.root_id FROM stop_memberships m
			WHERE m.stop_id = stop_relationships.stop_id
		)
		WHERE rel_id IN (
			SELECT r.rel_id FROM stop_relationships r
			JOIN stop_memberships m ON m.stop_id = r.stop_id
			WHERE r.kind IN (` + placeholders(len(kinds)) + `)
			ORDER BY r.rel_id
			LIMIT ?
		)`

	moved := 0
	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		var n int64
		err := db.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return moved, fmt.Errorf("redirect batch %d: %w", batch, err)
		}
		if n == 0 {
			return moved, nil
		}
		moved += int(n)
		monitoring.RecordRedirectBatch()
		monitoring.Tracef("redirect: batch %d moved %d relationships", batch, n)
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// UpdateClusterPositions stores every cluster's centroid on its root.
func (db *DB) UpdateClusterPositions(ctx context.Context) (int, error) {
	var n int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := snapshot(ctx, tx)
		if err != nil {
			return err
		}
		st, err := unify.LoadState(snap)
		if err != nil {
			return err
		}
		list, err := listStops(ctx, tx)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `UPDATE stops SET cluster_lat = ?, cluster_lon = ? WHERE stop_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range unify.Positions(st.Clusters(), unify.IndexStops(list)) {
			if _, err := stmt.ExecContext(ctx, c.Lat, c.Lon, string(c.Root)); err != nil {
				return fmt.Errorf("position %s: %w", c.Root, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Clusters lists all clusters ordered by root, with stored positions.
func (db *DB) Clusters(ctx context.Context) ([]stops.Cluster, error) {
	snap, err := snapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	st, err := unify.LoadState(snap)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT stop_id, cluster_lat, cluster_lon FROM stops
		WHERE is_cluster_root = 1 AND cluster_lat IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	positions := make(map[stops.ID][2]float64)
	for rows.Next() {
		var (
			id       string
			lat, lon float64
		)
		if err := rows.Scan(&id, &lat, &lon); err != nil {
			return nil, err
		}
		positions[stops.ID(id)] = [2]float64{lat, lon}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := st.Clusters()
	for i := range out {
		if p, ok := positions[out[i].Root]; ok {
			out[i].Lat, out[i].Lon = p[0], p[1]
		}
	}
	return out, nil
}
