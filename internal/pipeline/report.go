package pipeline

import (
	"context"
	"time"
)

type Stage string

const (
	StageFetch     Stage = "FETCH"
	StageReconcile Stage = "RECONCILE"
	StageRefresh   Stage = "REFRESH"
	StageDone      Stage = "DONE"
	StageFailed    Stage = "FAILED"
	StageSkipped   Stage = "SKIPPED"
)

const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

// PairReport is the outcome of one pair within a run.
type PairReport struct {
	Pair            string  `json:"pair"`
	Urban           string  `json:"urban"`
	Rural           string  `json:"rural"`
	State           Stage   `json:"state"`
	FailedStage     Stage   `json:"failed_stage,omitempty"`
	UrbanRows       int     `json:"urban_records"`
	RuralRows       int     `json:"rural_records"`
	HourlyRows      int     `json:"hourly_rows"`
	DailyRows       int     `json:"daily_rows"`
	Error           string  `json:"error,omitempty"`
	RefreshError    string  `json:"refresh_error,omitempty"`
	SkipReason      string  `json:"skip_reason,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Report summarises a whole run.
type Report struct {
	RunID           string       `json:"run_id"`
	StartedAt       time.Time    `json:"start_time"`
	FinishedAt      time.Time    `json:"end_time"`
	Window          Window       `json:"date_range"`
	DryRun          bool         `json:"dry_run"`
	Pairs           []PairReport `json:"location_pairs"`
	TotalRows       int          `json:"total_records"`
	SuccessCount    int          `json:"success_count"`
	ErrorCount      int          `json:"error_count"`
	SkippedCount    int          `json:"skipped_count"`
	DurationSeconds float64      `json:"duration_seconds"`
	// Interrupted is set when cancellation stopped the run before every pair was processed.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Failed lists pairs that ended FAILED or whose refresh did not complete.
func (r Report) Failed() []PairReport {
	var out []PairReport
	for _, p := range r.Pairs {
		if p.State == StageFailed || p.RefreshError != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExitCode is 0 when every pair completed or was skipped, 1 otherwise.
func (r Report) ExitCode() int {
	if r.Interrupted || len(r.Failed()) > 0 {
		return ExitFailed
	}
	return ExitOK
}

// Sink receives the report after every run.
type Sink interface {
	Publish(ctx context.Context, report Report) error
}
