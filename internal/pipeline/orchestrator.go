// Package pipeline sequences fetch, reconcile and refresh for every
// urban/rural pair once per day, isolating failures to the pair that raised them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/02loveslollipop/urban-heat-differential/internal/differential"
	"github.com/02loveslollipop/urban-heat-differential/internal/loader"
	"github.com/02loveslollipop/urban-heat-differential/internal/metrics"
	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

type Fetcher interface {
	Fetch(ctx context.Context, loc models.Location, start, end time.Time) (iter.Seq[models.Observation], error)
}

type Reconciler interface {
	Plan(ctx context.Context, loc models.Location, observations iter.Seq[models.Observation]) (loader.Plan, error)
	Reconcile(ctx context.Context, loc models.Location, observations iter.Seq[models.Observation]) (int, error)
}

type Refresher interface {
	Refresh(ctx context.Context, pair models.Pair, from, to time.Time) (differential.Result, error)
}

// Catalog is satisfied by *registry.Registry.
type Catalog interface {
	Locations() []models.Location
	Bind(ids map[string]int64) ([]models.Pair, error)
}

// Store holds the location catalog and the run ledger.
type Store interface {
	SyncLocations(ctx context.Context, locations []models.Location) (map[string]int64, error)
	LastCompletedRun(ctx context.Context, urbanID int64) (time.Time, bool, error)
	RecordRun(ctx context.Context, run models.RunRecord) error
}

type Options struct {
	Catalog Catalog
	Store   Store
	Fetcher Fetcher
	Loader  Reconciler
	Engine  Refresher
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Sinks   []Sink
	DryRun  bool

	// MinRunInterval skips a pair whose last DONE run finished more recently. Zero disables the check.
	MinRunInterval time.Duration
}

const sinkTimeout = 30 * time.Second

type Orchestrator struct {
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, clock: clock, logger: logger}
}

// Run processes every pair sequentially. The returned error is reserved for
// problems that stop the run before any pair starts; pair failures are in the report.
func (o *Orchestrator) Run(ctx context.Context, window Window, force bool) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: o.clock.Now().UTC(),
		Window:    window,
		DryRun:    o.opts.DryRun,
	}
	if !window.Start.Before(window.End) {
		return report, fmt.Errorf("%w: window %s", models.ErrInvalidRange, window)
	}
	log := o.logger.With("run_id", report.RunID)

	ids, err := o.opts.Store.SyncLocations(ctx, o.opts.Catalog.Locations())
	if err != nil {
		return report, fmt.Errorf("sync locations: %w", err)
	}
	pairs, err := o.opts.Catalog.Bind(ids)
	if err != nil {
		return report, err
	}
	log.Info("starting daily pipeline", "window", window.String(), "pairs", len(pairs), "dry_run", o.opts.DryRun, "force", force)

	for i, pair := range pairs {
		if err := ctx.Err(); err != nil {
			report.Interrupted = true
			for _, rest := range pairs[i:] {
				report.Pairs = append(report.Pairs, PairReport{
					Pair:  rest.Key(),
					Urban: rest.Urban.Name,
					Rural: rest.Rural.Name,
					State: StageFailed,
					Error: fmt.Sprintf("not started: %v", err),
				})
				report.ErrorCount++
			}
			log.Warn("run cancelled", "err", err, "unprocessed", len(pairs)-i)
			break
		}
		pr := o.runPair(ctx, log, report.RunID, pair, window, force)
		report.Pairs = append(report.Pairs, pr)
		switch {
		case pr.State == StageSkipped:
			report.SkippedCount++
		case pr.State == StageFailed:
			report.ErrorCount++
		default:
			report.SuccessCount++
			report.TotalRows += pr.UrbanRows + pr.RuralRows
		}
	}

	report.FinishedAt = o.clock.Now().UTC()
	report.DurationSeconds = report.FinishedAt.Sub(report.StartedAt).Seconds()
	o.opts.Metrics.RunFinished(strconv.Itoa(report.ExitCode()))

	log.Info("pipeline completed",
		"rows", report.TotalRows,
		"success", report.SuccessCount,
		"errors", report.ErrorCount,
		"skipped", report.SkippedCount,
		"duration", time.Duration(report.DurationSeconds*float64(time.Second)).String(),
	)

	// Sinks still get the report when the run was cancelled.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, sink := range o.opts.Sinks {
		if err := sink.Publish(sinkCtx, report); err != nil {
			log.Warn("report sink failed", "sink", fmt.Sprintf("%T", sink), "err", err)
		}
	}
	return report, nil
}

func (o *Orchestrator) runPair(ctx context.Context, log *slog.Logger, runID string, pair models.Pair, window Window, force bool) PairReport {
	log = log.With("pair", pair.Key())
	started := o.clock.Now().UTC()
	pr := PairReport{Pair: pair.Key(), Urban: pair.Urban.Name, Rural: pair.Rural.Name}

	if reason, skip := o.shouldSkip(ctx, log, pair, window, force, started); skip {
		pr.State = StageSkipped
		pr.SkipReason = reason
		log.Info("pair skipped", "reason", reason)
		o.opts.Metrics.PairFinished(pair.Key(), string(StageSkipped), started)
		return pr
	}

	fail := func(stage Stage, err error) PairReport {
		pr.State = StageFailed
		pr.FailedStage = stage
		pr.Error = err.Error()
		pr.DurationSeconds = o.clock.Since(started).Seconds()
		log.Error("pair failed", "stage", stage, "err", err)
		o.finish(ctx, log, runID, pair, started, pr)
		return pr
	}

	// FETCH
	stageStart := o.clock.Now()
	urbanObs, err := o.opts.Fetcher.Fetch(ctx, pair.Urban, window.Start, window.End)
	if err != nil {
		return fail(StageFetch, fmt.Errorf("fetch %s: %w", pair.Urban.Name, err))
	}
	ruralObs, err := o.opts.Fetcher.Fetch(ctx, pair.Rural, window.Start, window.End)
	if err != nil {
		return fail(StageFetch, fmt.Errorf("fetch %s: %w", pair.Rural.Name, err))
	}
	o.opts.Metrics.ObserveStage(string(StageFetch), o.clock.Since(stageStart))

	// RECONCILE
	stageStart = o.clock.Now()
	if o.opts.DryRun {
		return o.dryRun(ctx, log, pr, pair, urbanObs, ruralObs, started)
	}
	// Rural first so a pair never has urban readings without their reference series.
	pr.RuralRows, err = o.opts.Loader.Reconcile(ctx, pair.Rural, ruralObs)
	if err != nil {
		return fail(StageReconcile, fmt.Errorf("reconcile %s: %w", pair.Rural.Name, err))
	}
	o.opts.Metrics.RowsWritten(pair.Rural.Name, pr.RuralRows)
	pr.UrbanRows, err = o.opts.Loader.Reconcile(ctx, pair.Urban, urbanObs)
	if err != nil {
		return fail(StageReconcile, fmt.Errorf("reconcile %s: %w", pair.Urban.Name, err))
	}
	o.opts.Metrics.RowsWritten(pair.Urban.Name, pr.UrbanRows)
	o.opts.Metrics.ObserveStage(string(StageReconcile), o.clock.Since(stageStart))

	// REFRESH failures leave reconciled readings in place; the next run recomputes.
	stageStart = o.clock.Now()
	res, err := o.opts.Engine.Refresh(ctx, pair, window.Start, window.End)
	if err != nil {
		pr.RefreshError = err.Error()
		log.Error("refresh failed, readings kept", "stage", StageRefresh, "err", err)
	} else {
		pr.HourlyRows, pr.DailyRows = res.Hourly, res.Daily
		o.opts.Metrics.ObserveStage(string(StageRefresh), o.clock.Since(stageStart))
	}

	pr.State = StageDone
	pr.DurationSeconds = o.clock.Since(started).Seconds()
	log.Info("pair processed", "urban_rows", pr.UrbanRows, "rural_rows", pr.RuralRows, "daily", pr.DailyRows)
	o.finish(ctx, log, runID, pair, started, pr)
	return pr
}

func (o *Orchestrator) dryRun(ctx context.Context, log *slog.Logger, pr PairReport, pair models.Pair,
	urbanObs, ruralObs iter.Seq[models.Observation], started time.Time) PairReport {
	for _, side := range []struct {
		loc  models.Location
		obs  iter.Seq[models.Observation]
		rows *int
	}{
		{pair.Rural, ruralObs, &pr.RuralRows},
		{pair.Urban, urbanObs, &pr.UrbanRows},
	} {
		plan, err := o.opts.Loader.Plan(ctx, side.loc, side.obs)
		if err != nil {
			pr.State = StageFailed
			pr.FailedStage = StageReconcile
			pr.Error = err.Error()
			log.Error("dry-run plan failed", "location", side.loc.Name, "err", err)
			return pr
		}
		*side.rows = len(plan.Pending)
		for _, r := range plan.Pending {
			log.Debug("dry-run: would insert", "location", side.loc.Name, "ts", r.TS.Format(time.RFC3339), "temperature", r.Temperature)
		}
	}
	pr.State = StageDone
	pr.DurationSeconds = o.clock.Since(started).Seconds()
	log.Info("dry-run: pair planned", "urban_rows", pr.UrbanRows, "rural_rows", pr.RuralRows)
	return pr
}

func (o *Orchestrator) shouldSkip(ctx context.Context, log *slog.Logger, pair models.Pair, window Window, force bool, now time.Time) (string, bool) {
	if force || window.Explicit || o.opts.MinRunInterval <= 0 {
		return "", false
	}
	last, ok, err := o.opts.Store.LastCompletedRun(ctx, pair.Urban.ID)
	if err != nil {
		log.Warn("run ledger unavailable, not skipping", "err", err)
		return "", false
	}
	if ok && now.Sub(last) < o.opts.MinRunInterval {
		return fmt.Sprintf("last completed run at %s is within %s", last.Format(time.RFC3339), o.opts.MinRunInterval), true
	}
	return "", false
}

func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, runID string, pair models.Pair, started time.Time, pr PairReport) {
	finished := o.clock.Now().UTC()
	o.opts.Metrics.PairFinished(pair.Key(), string(pr.State), finished)

	rec := models.RunRecord{
		RunID:           runID,
		UrbanLocationID: pair.Urban.ID,
		StartedAt:       started,
		FinishedAt:      finished,
		State:           string(pr.State),
		Error:           pr.Error,
	}
	if pr.Error == "" && pr.RefreshError != "" {
		rec.Error = pr.RefreshError
	}
	if err := o.opts.Store.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("record run failed", "err", err)
	}
}

// ExitCodeFor maps a Run error to a process exit status.
func ExitCodeFor(report Report, err error) int {
	if err == nil {
		return report.ExitCode()
	}
	if errors.Is(err, models.ErrConfiguration) || errors.Is(err, models.ErrInvalidRange) {
		return ExitConfig
	}
	return ExitFailed
}
