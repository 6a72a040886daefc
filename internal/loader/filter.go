package loader

import (
	"iter"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// FilterNew selects the observations that still need to be stored for a
// location. Anything at or before the high-water mark is dropped, and when the
// source reports the same hour twice the first copy wins.
func FilterNew(
	locationID int64,
	observations iter.Seq[models.Observation],
	mark time.Time,
	hasMark bool,
	collectedAt time.Time,
) (pending []models.Reading, stale, duplicates int) {
	seen := make(map[time.Time]struct{})
	for obs := range observations {
		ts := obs.TS.UTC()
		if hasMark && !ts.After(mark) {
			stale++
			continue
		}
		if _, dup := seen[ts]; dup {
			duplicates++
			continue
		}
		seen[ts] = struct{}{}
		pending = append(pending, models.Reading{
			LocationID:  locationID,
			TS:          ts,
			Temperature: obs.Temperature,
			CollectedAt: collectedAt,
		})
	}
	return pending, stale, duplicates
}
