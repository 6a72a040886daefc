// Package scheduler runs the daily pipeline at a fixed UTC time of day.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is one scheduled invocation. It receives a context cancelled on Stop.
type Job func(ctx context.Context)

type Scheduler struct {
	scheduler *gocron.Scheduler
	at        string
	job       Job
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New prepares a scheduler that fires job every day at the HH:MM time in at (UTC).
func New(at string, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	// A run that outlasts a day is not overlapped by the next one.
	s.SingletonModeAll()
	return &Scheduler{scheduler: s, at: at, job: job, logger: logger}
}

// Start registers the daily job and starts the scheduler in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	_, err := s.scheduler.Every(1).Day().At(s.at).Do(func() {
		started := time.Now()
		s.logger.Info("scheduler: running daily pipeline")
		s.job(s.ctx)
		s.logger.Info("scheduler: daily pipeline finished", "duration", time.Since(started).String())
	})
	if err != nil {
		s.cancel()
		return fmt.Errorf("schedule daily job at %q: %w", s.at, err)
	}

	s.scheduler.StartAsync()
	if _, next := s.scheduler.NextRun(); !next.IsZero() {
		s.logger.Info("scheduler: started", "at", s.at, "next_run", next.Format(time.RFC3339))
	}
	return nil
}

// RunNow triggers the job immediately without changing the schedule.
func (s *Scheduler) RunNow() {
	s.scheduler.RunAll()
}

// Stop cancels the running job's context and stops future runs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
