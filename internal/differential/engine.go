// Package differential derives the urban minus rural projections: hourly
// differentials and the daily differential normalized by a trailing mean of
// rural daily variability.
package differential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// Store reads readings and swaps derived rows.
type Store interface {
	Readings(ctx context.Context, locationID int64, from, to time.Time) ([]models.Reading, error)
	ReplaceProjections(ctx context.Context, urbanID int64, from, to time.Time,
		hourly []models.HourlyDifferential, daily []models.DailyDifferential) error
}

// Result describes one refresh.
type Result struct {
	From   time.Time
	To     time.Time
	Hourly int
	Daily  int
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// AffectedRange widens [from, to) to whole days and extends it by the window,
// since new readings change the rolling statistic of the following days.
func AffectedRange(from, to time.Time) (time.Time, time.Time) {
	start := Day(from)
	end := Day(to)
	if end.Before(to) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end.AddDate(0, 0, WindowDays-1)
}

// Refresh recomputes the pair's projections for every day whose values depend
// on readings in [from, to). It only reads readings, so calling it again for the
// same range yields the same rows.
func (e *Engine) Refresh(ctx context.Context, pair models.Pair, from, to time.Time) (Result, error) {
	if !from.Before(to) {
		return Result{}, fmt.Errorf("%w: refresh %s..%s", models.ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	start, end := AffectedRange(from, to)

	urban, err := e.store.Readings(ctx, pair.Urban.ID, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("load urban readings: %w", err)
	}
	// Rural history reaches back a full window so the first day's rolling value is complete.
	rural, err := e.store.Readings(ctx, pair.Rural.ID, start.AddDate(0, 0, -(WindowDays-1)), end)
	if err != nil {
		return Result{}, fmt.Errorf("load rural readings: %w", err)
	}

	hourly := Hourly(pair.Urban.ID, urban, rural)
	daily := Daily(pair.Urban.ID, hourly, rural)

	if err := e.store.ReplaceProjections(ctx, pair.Urban.ID, start, end, hourly, daily); err != nil {
		return Result{}, err
	}

	noSignal := 0
	for _, d := range daily {
		if d.Normalized == nil {
			noSignal++
		}
	}
	e.logger.Info("refreshed projections",
		"pair", pair.Key(),
		"from", start.Format(time.DateOnly),
		"to", end.Format(time.DateOnly),
		"hourly", len(hourly),
		"daily", len(daily),
		"no_signal_days", noSignal,
	)
	return Result{From: start, To: end, Hourly: len(hourly), Daily: len(daily)}, nil
}
