// Package db is the storage engine boundary: locations, append-only readings,
// derived projections and the run ledger.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// Store is implemented by the Postgres and SQLite backends.
type Store interface {
	// Migrate applies the embedded schema; safe to call repeatedly.
	Migrate(ctx context.Context) error

	// SyncLocations upserts the catalog and returns name -> location_id.
	SyncLocations(ctx context.Context, locations []models.Location) (map[string]int64, error)
	ListLocations(ctx context.Context) ([]models.Location, error)

	// HighWaterMark returns the latest stored timestamp for a location; ok is false when none exists.
	HighWaterMark(ctx context.Context, locationID int64) (ts time.Time, ok bool, err error)
	// AppendReadings inserts readings in one transaction, skipping existing
	// (location, timestamp) keys, and returns the number of rows written.
	AppendReadings(ctx context.Context, locationID int64, readings []models.Reading) (int, error)
	// Readings returns stored readings with from <= ts < to ordered by timestamp.
	Readings(ctx context.Context, locationID int64, from, to time.Time) ([]models.Reading, error)

	// ReplaceProjections atomically swaps the derived rows of an urban location in [from, to).
	ReplaceProjections(ctx context.Context, urbanID int64, from, to time.Time,
		hourly []models.HourlyDifferential, daily []models.DailyDifferential) error
	HourlyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.HourlyDifferential, error)
	// DailyDifferentials returns every day that overlaps [from, to).
	DailyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.DailyDifferential, error)

	// LastCompletedRun returns the finish time of the latest DONE run for an urban location.
	LastCompletedRun(ctx context.Context, urbanID int64) (time.Time, bool, error)
	RecordRun(ctx context.Context, run models.RunRecord) error

	Close()
}

// Open selects a backend from the URL scheme: postgres:// and postgresql://
// use pgx, sqlite:// and file: use the embedded SQLite driver.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgres(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "file:"):
		return NewSQLite(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("%w: unsupported DATABASE_URL scheme", models.ErrConfiguration)
	}
}

// dayStart truncates t to its UTC calendar day.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dayCeil rounds t up to the next UTC midnight unless it already is one.
func dayCeil(t time.Time) time.Time {
	d := dayStart(t)
	if d.Before(t) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// orderLocations puts rural locations first so urban rows can reference them.
func orderLocations(locations []models.Location) []models.Location {
	out := make([]models.Location, 0, len(locations))
	for _, l := range locations {
		if !l.IsUrban {
			out = append(out, l)
		}
	}
	for _, l := range locations {
		if l.IsUrban {
			out = append(out, l)
		}
	}
	return out
}
