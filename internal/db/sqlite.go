package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

const (
	sqliteTimeLayout = "2006-01-02T15:04:05Z"
	sqliteDayLayout  = "2006-01-02"
)

// SQLite is a single-file Store for local runs and tests. Timestamps are stored
// as fixed-width UTC text so lexical order matches time order.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path; ":memory:" is supported.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", models.ErrConfiguration)
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

// DB exposes the handle for tests.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *SQLite) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(sqliteSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) SyncLocations(ctx context.Context, locations []models.Location) (map[string]int64, error) {
	ids := make(map[string]int64, len(locations))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, loc := range orderLocations(locations) {
			var pairID any
			if loc.IsUrban {
				id, ok := ids[loc.PairName]
				if !ok {
					return fmt.Errorf("%w: urban location %q references unsynced %q", models.ErrConfiguration, loc.Name, loc.PairName)
				}
				pairID = id
			}
			var id int64
			err := tx.QueryRowContext(ctx, `
INSERT INTO locations (name, latitude, longitude, is_urban, urban_pair_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE
SET latitude = excluded.latitude,
    longitude = excluded.longitude,
    is_urban = excluded.is_urban,
    urban_pair_id = excluded.urban_pair_id
RETURNING location_id`, loc.Name, loc.Latitude, loc.Longitude, loc.IsUrban, pairID).Scan(&id)
			if err != nil {
				return fmt.Errorf("upsert location %s: %w", loc.Name, err)
			}
			ids[loc.Name] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLite) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT l.location_id, l.name, l.latitude, l.longitude, l.is_urban, l.urban_pair_id, COALESCE(p.name, '')
FROM locations l
LEFT JOIN locations p ON p.location_id = l.urban_pair_id
ORDER BY l.name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.Location, 0)
	for rows.Next() {
		var l models.Location
		var pairID sql.NullInt64
		if err := rows.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.IsUrban, &pairID, &l.PairName); err != nil {
			return nil, err
		}
		if pairID.Valid {
			id := pairID.Int64
			l.PairID = &id
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLite) HighWaterMark(ctx context.Context, locationID int64) (time.Time, bool, error) {
	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM temperature_data WHERE location_id = ?`, locationID).Scan(&raw); err != nil {
		return time.Time{}, false, err
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(sqliteTimeLayout, raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse high-water mark %q: %w", raw.String, err)
	}
	return ts, true, nil
}

func (s *SQLite) AppendReadings(ctx context.Context, locationID int64, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	written := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO temperature_data (location_id, timestamp, temperature, collected_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (location_id, timestamp) DO NOTHING`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range readings {
			res, err := stmt.ExecContext(ctx, locationID, formatTS(r.TS), r.Temperature, formatTS(r.CollectedAt))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: append readings for location %d: %v", models.ErrWriteFailure, locationID, err)
	}
	return written, nil
}

func (s *SQLite) Readings(ctx context.Context, locationID int64, from, to time.Time) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT location_id, timestamp, temperature, collected_at
FROM temperature_data
WHERE location_id = ? AND timestamp >= ? AND timestamp < ?
ORDER BY timestamp`, locationID, formatTS(from), formatTS(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		var ts, collected string
		if err := rows.Scan(&r.LocationID, &ts, &r.Temperature, &collected); err != nil {
			return nil, err
		}
		if r.TS, err = time.Parse(sqliteTimeLayout, ts); err != nil {
			return nil, err
		}
		if r.CollectedAt, err = time.Parse(sqliteTimeLayout, collected); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) ReplaceProjections(ctx context.Context, urbanID int64, from, to time.Time,
	hourly []models.HourlyDifferential, daily []models.DailyDifferential) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hourly_differential WHERE urban_location_id = ? AND timestamp >= ? AND timestamp < ?`,
			urbanID, formatTS(from), formatTS(to)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM daily_differential WHERE urban_location_id = ? AND day >= ? AND day < ?`,
			urbanID, formatDay(from), formatDay(to)); err != nil {
			return err
		}
		for _, h := range hourly {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO hourly_differential (urban_location_id, timestamp, urban_temperature, rural_temperature, differential)
VALUES (?, ?, ?, ?, ?)`, urbanID, formatTS(h.TS), h.UrbanTemperature, h.RuralTemperature, h.Differential); err != nil {
				return err
			}
		}
		for _, d := range daily {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO daily_differential (urban_location_id, day, mean_differential, rural_stddev, rolling_rural_stddev, normalized)
VALUES (?, ?, ?, ?, ?, ?)`, urbanID, formatDay(d.Day), d.MeanDifferential,
				nullFloat(d.RuralStdDev), nullFloat(d.RollingRuralStdDev), nullFloat(d.Normalized)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace projections for location %d: %w", urbanID, err)
	}
	return nil
}

func (s *SQLite) HourlyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.HourlyDifferential, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT urban_location_id, timestamp, urban_temperature, rural_temperature, differential
FROM hourly_differential
WHERE urban_location_id = ? AND timestamp >= ? AND timestamp < ?
ORDER BY timestamp`, urbanID, formatTS(from), formatTS(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.HourlyDifferential, 0)
	for rows.Next() {
		var h models.HourlyDifferential
		var ts string
		if err := rows.Scan(&h.UrbanLocationID, &ts, &h.UrbanTemperature, &h.RuralTemperature, &h.Differential); err != nil {
			return nil, err
		}
		if h.TS, err = time.Parse(sqliteTimeLayout, ts); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLite) DailyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.DailyDifferential, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT urban_location_id, day, mean_differential, rural_stddev, rolling_rural_stddev, normalized
FROM daily_differential
WHERE urban_location_id = ? AND day >= ? AND day < ?
ORDER BY day`, urbanID, formatDay(from), formatDay(dayCeil(to)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]models.DailyDifferential, 0)
	for rows.Next() {
		var d models.DailyDifferential
		var day string
		var std, rolling, norm sql.NullFloat64
		if err := rows.Scan(&d.UrbanLocationID, &day, &d.MeanDifferential, &std, &rolling, &norm); err != nil {
			return nil, err
		}
		if d.Day, err = time.Parse(sqliteDayLayout, day); err != nil {
			return nil, err
		}
		d.RuralStdDev, d.RollingRuralStdDev, d.Normalized = floatPtr(std), floatPtr(rolling), floatPtr(norm)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) LastCompletedRun(ctx context.Context, urbanID int64) (time.Time, bool, error) {
	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(finished_at) FROM pipeline_runs WHERE urban_location_id = ? AND state = 'DONE'`, urbanID).Scan(&raw); err != nil {
		return time.Time{}, false, err
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(sqliteTimeLayout, raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *SQLite) RecordRun(ctx context.Context, run models.RunRecord) error {
	var errText any
	if run.Error != "" {
		errText = run.Error
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_runs (run_id, urban_location_id, started_at, finished_at, state, error)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, urban_location_id) DO UPDATE
SET finished_at = excluded.finished_at, state = excluded.state, error = excluded.error`,
		run.RunID, run.UrbanLocationID, formatTS(run.StartedAt), formatTS(run.FinishedAt), run.State, errText)
	return err
}

func formatTS(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func formatDay(t time.Time) string { return dayStart(t).Format(sqliteDayLayout) }

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
