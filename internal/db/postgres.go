package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects a pool and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(postgresSchema) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

const upsertLocationPG = `
INSERT INTO locations (name, latitude, longitude, is_urban, urban_pair_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO UPDATE
SET latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    is_urban = EXCLUDED.is_urban,
    urban_pair_id = EXCLUDED.urban_pair_id
RETURNING location_id`

func (s *Postgres) SyncLocations(ctx context.Context, locations []models.Location) (map[string]int64, error) {
	ids := make(map[string]int64, len(locations))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, loc := range orderLocations(locations) {
			var pairID *int64
			if loc.IsUrban {
				id, ok := ids[loc.PairName]
				if !ok {
					return fmt.Errorf("%w: urban location %q references unsynced %q", models.ErrConfiguration, loc.Name, loc.PairName)
				}
				pairID = &id
			}
			var id int64
			if err := tx.QueryRow(ctx, upsertLocationPG, loc.Name, loc.Latitude, loc.Longitude, loc.IsUrban, pairID).Scan(&id); err != nil {
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

const listLocationsPG = `
SELECT l.location_id, l.name, l.latitude, l.longitude, l.is_urban, l.urban_pair_id, COALESCE(p.name, '')
FROM locations l
LEFT JOIN locations p ON p.location_id = l.urban_pair_id
ORDER BY l.name`

func (s *Postgres) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.pool.Query(ctx, listLocationsPG)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Location, 0)
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.IsUrban, &l.PairID, &l.PairName); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Postgres) HighWaterMark(ctx context.Context, locationID int64) (time.Time, bool, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(timestamp) FROM temperature_data WHERE location_id = $1`, locationID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

const insertReadingPG = `
INSERT INTO temperature_data (location_id, timestamp, temperature, collected_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (location_id, timestamp) DO NOTHING`

func (s *Postgres) AppendReadings(ctx context.Context, locationID int64, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	written := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := ensurePartitions(ctx, tx, readings); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, r := range readings {
			batch.Queue(insertReadingPG, locationID, r.TS.UTC(), r.Temperature, r.CollectedAt.UTC())
		}

		res := tx.SendBatch(ctx, batch)
		for range readings {
			tag, err := res.Exec()
			if err != nil {
				res.Close()
				return err
			}
			written += int(tag.RowsAffected())
		}
		return res.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("%w: append readings for location %d: %v", models.ErrWriteFailure, locationID, err)
	}
	return written, nil
}

// ensurePartitions creates the quarterly partitions a batch will land in.
func ensurePartitions(ctx context.Context, tx pgx.Tx, readings []models.Reading) error {
	lo, hi := readings[0].TS, readings[0].TS
	for _, r := range readings[1:] {
		if r.TS.Before(lo) {
			lo = r.TS
		}
		if r.TS.After(hi) {
			hi = r.TS
		}
	}
	for _, q := range quartersSpanning(lo, hi) {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF temperature_data FOR VALUES FROM ('%s') TO ('%s')`,
			pgx.Identifier{q.Name}.Sanitize(), q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create partition %s: %w", q.Name, err)
		}
	}
	return nil
}

const readingsPG = `
SELECT location_id, timestamp, temperature, collected_at
FROM temperature_data
WHERE location_id = $1 AND timestamp >= $2 AND timestamp < $3
ORDER BY timestamp`

func (s *Postgres) Readings(ctx context.Context, locationID int64, from, to time.Time) ([]models.Reading, error) {
	rows, err := s.pool.Query(ctx, readingsPG, locationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.LocationID, &r.TS, &r.Temperature, &r.CollectedAt); err != nil {
			return nil, err
		}
		r.TS = r.TS.UTC()
		r.CollectedAt = r.CollectedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

const (
	deleteHourlyPG = `DELETE FROM hourly_differential WHERE urban_location_id = $1 AND timestamp >= $2 AND timestamp < $3`
	deleteDailyPG  = `DELETE FROM daily_differential WHERE urban_location_id = $1 AND day >= $2 AND day < $3`
	insertHourlyPG = `
INSERT INTO hourly_differential (urban_location_id, timestamp, urban_temperature, rural_temperature, differential)
VALUES ($1, $2, $3, $4, $5)`
	insertDailyPG = `
INSERT INTO daily_differential (urban_location_id, day, mean_differential, rural_stddev, rolling_rural_stddev, normalized)
VALUES ($1, $2, $3, $4, $5, $6)`
)

func (s *Postgres) ReplaceProjections(ctx context.Context, urbanID int64, from, to time.Time,
	hourly []models.HourlyDifferential, daily []models.DailyDifferential) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteHourlyPG, urbanID, from.UTC(), to.UTC()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteDailyPG, urbanID, dayStart(from), dayStart(to)); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, h := range hourly {
			batch.Queue(insertHourlyPG, urbanID, h.TS.UTC(), h.UrbanTemperature, h.RuralTemperature, h.Differential)
		}
		for _, d := range daily {
			batch.Queue(insertDailyPG, urbanID, d.Day, d.MeanDifferential, d.RuralStdDev, d.RollingRuralStdDev, d.Normalized)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("replace projections for location %d: %w", urbanID, err)
	}
	return nil
}

const hourlyPG = `
SELECT urban_location_id, timestamp, urban_temperature, rural_temperature, differential
FROM hourly_differential
WHERE urban_location_id = $1 AND timestamp >= $2 AND timestamp < $3
ORDER BY timestamp`

func (s *Postgres) HourlyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.HourlyDifferential, error) {
	rows, err := s.pool.Query(ctx, hourlyPG, urbanID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.HourlyDifferential, 0)
	for rows.Next() {
		var h models.HourlyDifferential
		if err := rows.Scan(&h.UrbanLocationID, &h.TS, &h.UrbanTemperature, &h.RuralTemperature, &h.Differential); err != nil {
			return nil, err
		}
		h.TS = h.TS.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

const dailyPG = `
SELECT urban_location_id, day, mean_differential, rural_stddev, rolling_rural_stddev, normalized
FROM daily_differential
WHERE urban_location_id = $1 AND day >= $2 AND day < $3
ORDER BY day`

func (s *Postgres) DailyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.DailyDifferential, error) {
	rows, err := s.pool.Query(ctx, dailyPG, urbanID, dayStart(from), dayCeil(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.DailyDifferential, 0)
	for rows.Next() {
		var d models.DailyDifferential
		if err := rows.Scan(&d.UrbanLocationID, &d.Day, &d.MeanDifferential, &d.RuralStdDev, &d.RollingRuralStdDev, &d.Normalized); err != nil {
			return nil, err
		}
		d.Day = dayStart(d.Day)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) LastCompletedRun(ctx context.Context, urbanID int64) (time.Time, bool, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(finished_at) FROM pipeline_runs WHERE urban_location_id = $1 AND state = 'DONE'`, urbanID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

func (s *Postgres) RecordRun(ctx context.Context, run models.RunRecord) error {
	var errText *string
	if run.Error != "" {
		errText = &run.Error
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_runs (run_id, urban_location_id, started_at, finished_at, state, error)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, urban_location_id) DO UPDATE
SET finished_at = EXCLUDED.finished_at, state = EXCLUDED.state, error = EXCLUDED.error`,
		run.RunID, run.UrbanLocationID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.State, errText)
	return err
}
