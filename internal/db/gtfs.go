package db

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
)

// ImportStats counts what ImportGTFS did.
type ImportStats struct {
	Stops         int `json:"stops"`
	Rejected      int `json:"rejected"`
	Skipped       int `json:"skipped"`
	Relationships int `json:"relationships"`
	UnknownStops  int `json:"unknown_stops"`
}

// ImportGTFS loads stops.txt and, when present, stop_times.txt from a GTFS
// feed. Every stop time becomes a usage relationship from its trip.
// Records with malformed identifiers or coordinates are rejected one by one;
// stations and entrances (location_type other than 0) and stops already
// imported are skipped. The import is a single transaction.
func (db *DB) ImportGTFS(ctx context.Context, feed fs.FS) (ImportStats, error) {
	var stats ImportStats
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := importStops(ctx, tx, feed, &stats); err != nil {
			return fmt.Errorf("stops.txt: %w", err)
		}
		err := importStopTimes(ctx, tx, feed, db.usageKind, &stats)
		if errors.Is(err, fs.ErrNotExist) {
			monitoring.Diagf("gtfs: no stop_times.txt, importing stops only")
			return nil
		}
		if err != nil {
			return fmt.Errorf("stop_times.txt: %w", err)
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}
	monitoring.Opsf("gtfs: imported %d stops (%d rejected, %d skipped), %d relationships (%d to unknown stops)",
		stats.Stops, stats.Rejected, stats.Skipped, stats.Relationships, stats.UnknownStops)
	return stats, nil
}

// csvTable reads a GTFS file with a header row.
type csvTable struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

func openTable(feed fs.FS, name string, required ...string) (*csvTable, io.Closer, error) {
	f, err := feed.Open(name)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	t := &csvTable{r: r, cols: make(map[string]int, len(header)), line: 1}
	for i, h := range header {
		t.cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			f.Close()
			return nil, nil, fmt.Errorf("missing column %q", c)
		}
	}
	return t, f, nil
}

// next returns the next record or io.EOF.
func (t *csvTable) next() ([]string, error) {
	t.line++
	return t.r.Read()
}

func (t *csvTable) get(rec []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func importStops(ctx context.Context, tx *sql.Tx, feed fs.FS, stats *ImportStats) error {
	t, closer, err := openTable(feed, "stops.txt", "stop_id", "stop_lat", "stop_lon")
	if err != nil {
		return err
	}
	defer closer.Close()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stops (stop_id, name, lat, lon) VALUES (?, ?, ?, ?)
		ON CONFLICT (stop_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for {
		rec, err := t.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", t.line, err)
		}
		if lt := t.get(rec, "location_type"); lt != "" && lt != "0" {
			stats.Skipped++
			continue
		}
		s, err := parseStopRecord(t, rec)
		if err != nil {
			stats.Rejected++
			monitoring.Diagf("gtfs: stops.txt line %d rejected: %v", t.line, err)
			continue
		}
		res, err := stmt.ExecContext(ctx, string(s.ID), s.Name, s.Lat, s.Lon)
		if err != nil {
			return fmt.Errorf("line %d: %w", t.line, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			stats.Skipped++
			continue
		}
		stats.Stops++
	}
}

func parseStopRecord(t *csvTable, rec []string) (stops.Stop, error) {
	id, err := stops.ParseID(t.get(rec, "stop_id"))
	if err != nil {
		return stops.Stop{}, err
	}
	lat, err := strconv.ParseFloat(t.get(rec, "stop_lat"), 64)
	if err != nil {
		return stops.Stop{}, &stops.PreconditionError{Field: "stop_lat", Value: t.get(rec, "stop_lat"), Reason: "not a number"}
	}
	lon, err := strconv.ParseFloat(t.get(rec, "stop_lon"), 64)
	if err != nil {
		return stops.Stop{}, &stops.PreconditionError{Field: "stop_lon", Value: t.get(rec, "stop_lon"), Reason: "not a number"}
	}
	if err := stops.CheckCoordinates(lat, lon); err != nil {
		return stops.Stop{}, err
	}
	return stops.Stop{ID: id, Name: t.get(rec, "stop_name"), Lat: lat, Lon: lon}, nil
}

func importStopTimes(ctx context.Context, tx *sql.Tx, feed fs.FS, kind string, stats *ImportStats) error {
	t, closer, err := openTable(feed, "stop_times.txt", "trip_id", "stop_id")
	if err != nil {
		return err
	}
	defer closer.Close()

	ids, err := queryIDs(ctx, tx, `SELECT stop_id FROM stops`)
	if err != nil {
		return err
	}
	known := make(map[stops.ID]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	for {
		rec, err := t.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", t.line, err)
		}
		stop := stops.ID(t.get(rec, "stop_id"))
		if !known[stop] {
			stats.UnknownStops++
			continue
		}
		props := map[string]any{}
		if a := t.get(rec, "arrival_time"); a != "" {
			props["arrival"] = a
		}
		if seq, err := strconv.Atoi(t.get(rec, "stop_sequence")); err == nil {
			props["sequence"] = seq
		}
		if _, err := insertRelationship(ctx, tx, kind, "trip:"+t.get(rec, "trip_id"), stop, props); err != nil {
			return fmt.Errorf("line %d: %w", t.line, err)
		}
		stats.Relationships++
	}
}
