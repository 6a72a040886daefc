package pipeline

import (
	"fmt"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// Window is the half-open fetch range [Start, End) in UTC. Explicit windows
// come from operator backfill arguments and bypass the once-daily check.
type Window struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Explicit bool      `json:"explicit"`
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DefaultWindow covers the daysBack whole days ending yesterday.
func DefaultWindow(now time.Time, daysBack int) Window {
	if daysBack < 1 {
		daysBack = 1
	}
	end := midnight(now)
	return Window{Start: end.AddDate(0, 0, -daysBack), End: end}
}

// ParseWindow builds a window from optional inclusive YYYY-MM-DD bounds. A
// missing start reaches daysBack days back from end; a missing end means yesterday.
func ParseWindow(start, end string, daysBack int, now time.Time) (Window, error) {
	if start == "" && end == "" {
		return DefaultWindow(now, daysBack), nil
	}

	w := DefaultWindow(now, daysBack)
	w.Explicit = true
	if end != "" {
		d, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return Window{}, fmt.Errorf("%w: invalid end date %q: %v", models.ErrConfiguration, end, err)
		}
		w.End = d.AddDate(0, 0, 1)
		w.Start = w.End.AddDate(0, 0, -max(daysBack, 1))
	}
	if start != "" {
		d, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return Window{}, fmt.Errorf("%w: invalid start date %q: %v", models.ErrConfiguration, start, err)
		}
		w.Start = d
	}
	if !w.Start.Before(w.End) {
		return Window{}, fmt.Errorf("%w: start %s is after end %s", models.ErrInvalidRange,
			w.Start.Format(time.DateOnly), w.End.AddDate(0, 0, -1).Format(time.DateOnly))
	}
	return w, nil
}

// Days is the number of calendar days covered.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.DateOnly), w.End.AddDate(0, 0, -1).Format(time.DateOnly))
}
