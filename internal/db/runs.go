package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/transit-hubs/internal/unify"
)

// RecordRun appends a pipeline report to unification_runs.
func (db *DB) RecordRun(ctx context.Context, r *unify.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO unification_runs (
			run_id, started_at, finished_at, stops, clusters, merges,
			roots_changed, redirected, error, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID.String(),
		r.Started.UTC().Format(time.RFC3339Nano),
		r.Finished.UTC().Format(time.RFC3339Nano),
		r.Cluster.Stops,
		r.Clusters,
		r.Merge.Total(),
		r.RootsChanged,
		r.Redirected,
		r.Err,
		string(b),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// ListRuns returns up to limit recorded runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]unify.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT report_json FROM unification_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []unify.Report
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r unify.Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
