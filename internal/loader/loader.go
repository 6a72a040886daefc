// Package loader reconciles fetched observations against stored readings so
// repeated runs over overlapping windows write each (location, hour) once.
package loader

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// Store is the slice of the storage engine the loader needs.
type Store interface {
	HighWaterMark(ctx context.Context, locationID int64) (time.Time, bool, error)
	AppendReadings(ctx context.Context, locationID int64, readings []models.Reading) (int, error)
}

// Plan is the outcome of comparing a fetched sequence with storage.
type Plan struct {
	Location   models.Location
	HighWater  time.Time
	HasMark    bool
	Pending    []models.Reading
	Stale      int
	Duplicates int
}

type Loader struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(store Store, clock clockwork.Clock, logger *slog.Logger) *Loader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, clock: clock, logger: logger}
}

// Plan computes which readings would be written without touching storage.
func (l *Loader) Plan(ctx context.Context, loc models.Location, observations iter.Seq[models.Observation]) (Plan, error) {
	mark, ok, err := l.store.HighWaterMark(ctx, loc.ID)
	if err != nil {
		return Plan{}, fmt.Errorf("high-water mark for %s: %w", loc.Name, err)
	}
	collectedAt := l.clock.Now().UTC().Truncate(time.Second)
	pending, stale, dups := FilterNew(loc.ID, observations, mark, ok, collectedAt)
	return Plan{
		Location:   loc,
		HighWater:  mark,
		HasMark:    ok,
		Pending:    pending,
		Stale:      stale,
		Duplicates: dups,
	}, nil
}

// Reconcile writes the readings missing from storage as one atomic batch and
// returns the number of rows written.
func (l *Loader) Reconcile(ctx context.Context, loc models.Location, observations iter.Seq[models.Observation]) (int, error) {
	plan, err := l.Plan(ctx, loc, observations)
	if err != nil {
		return 0, err
	}
	if plan.Duplicates > 0 {
		l.logger.Warn("source repeated hours", "location", loc.Name, "duplicates", plan.Duplicates)
	}
	if len(plan.Pending) == 0 {
		l.logger.Info("no new readings", "location", loc.Name, "stale", plan.Stale)
		return 0, nil
	}

	written, err := l.store.AppendReadings(ctx, loc.ID, plan.Pending)
	if err != nil {
		return 0, err
	}
	l.logger.Info("reconciled readings",
		"location", loc.Name,
		"rows", written,
		"stale", plan.Stale,
		"first", plan.Pending[0].TS.Format(time.RFC3339),
		"last", plan.Pending[len(plan.Pending)-1].TS.Format(time.RFC3339),
	)
	return written, nil
}
