package differential

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/db"
	"github.com/02loveslollipop/urban-heat-differential/internal/logging"
	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

func newPairStore(t *testing.T) (*db.SQLite, models.Pair) {
	t.Helper()
	ctx := context.Background()
	s, err := db.NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	urban := models.Location{Name: "Phoenix", Latitude: 33.4484, Longitude: -112.074, IsUrban: true, PairName: "Buckeye"}
	rural := models.Location{Name: "Buckeye", Latitude: 33.3703, Longitude: -112.5838}
	ids, err := s.SyncLocations(ctx, []models.Location{urban, rural})
	if err != nil {
		t.Fatalf("SyncLocations: %v", err)
	}
	urban.ID, rural.ID = ids["Phoenix"], ids["Buckeye"]
	return s, models.Pair{Urban: urban, Rural: rural}
}

func TestEngine_RefreshEndToEnd(t *testing.T) {
	s, pair := newPairStore(t)
	ctx := context.Background()

	mustAppend(t, s, pair.Urban.ID, series(pair.Urban.ID, day1, ramp(20, 24)...))
	mustAppend(t, s, pair.Rural.ID, series(pair.Rural.ID, day1, constant(10, 24)...))

	e := NewEngine(s, logging.Discard())
	res, err := e.Refresh(ctx, pair, day1, day1.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Hourly != 24 || res.Daily != 1 {
		t.Fatalf("result %+v", res)
	}

	daily, err := s.DailyDifferentials(ctx, pair.Urban.ID, day1, day1.AddDate(0, 0, 1))
	if err != nil || len(daily) != 1 {
		t.Fatalf("daily=%d err=%v", len(daily), err)
	}
	if daily[0].Normalized != nil {
		t.Fatalf("normalized = %v, want no value", *daily[0].Normalized)
	}

	// A second refresh over the same range is a no-op on content.
	if _, err := e.Refresh(ctx, pair, day1, day1.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	hourly, err := s.HourlyDifferentials(ctx, pair.Urban.ID, day1, day1.AddDate(0, 0, 1))
	if err != nil || len(hourly) != 24 {
		t.Fatalf("hourly=%d err=%v", len(hourly), err)
	}
	if hourly[0].Differential != 10 || hourly[23].Differential != 33 {
		t.Fatalf("hourly differentials %v..%v", hourly[0].Differential, hourly[23].Differential)
	}
}

func TestEngine_RefreshUpdatesFollowingDays(t *testing.T) {
	s, pair := newPairStore(t)
	ctx := context.Background()
	day2 := day1.AddDate(0, 0, 1)
	e := NewEngine(s, logging.Discard())

	// Day 2 is loaded and refreshed first, then day 1 arrives late.
	mustAppend(t, s, pair.Urban.ID, series(pair.Urban.ID, day2, ramp(25, 24)...))
	mustAppend(t, s, pair.Rural.ID, series(pair.Rural.ID, day2, alternating(3)...))
	if _, err := e.Refresh(ctx, pair, day2, day2.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("Refresh day2: %v", err)
	}

	mustAppend(t, s, pair.Urban.ID, series(pair.Urban.ID, day1, ramp(25, 24)...))
	mustAppend(t, s, pair.Rural.ID, series(pair.Rural.ID, day1, alternating(1)...))
	if _, err := e.Refresh(ctx, pair, day1, day2); err != nil {
		t.Fatalf("Refresh day1: %v", err)
	}

	daily, err := s.DailyDifferentials(ctx, pair.Urban.ID, day1, day2.AddDate(0, 0, 1))
	if err != nil || len(daily) != 2 {
		t.Fatalf("daily=%d err=%v", len(daily), err)
	}
	if got := *daily[1].RollingRuralStdDev; !approx(got, 2*math.Sqrt(24.0/23.0)) {
		t.Fatalf("day2 rolling not recomputed: %v", got)
	}
}

func TestEngine_InvalidRange(t *testing.T) {
	e := NewEngine(nil, logging.Discard())
	_, err := e.Refresh(context.Background(), models.Pair{}, day1, day1)
	if !errors.Is(err, models.ErrInvalidRange) {
		t.Fatalf("err=%v", err)
	}
}

func mustAppend(t *testing.T, s *db.SQLite, id int64, r []models.Reading) {
	t.Helper()
	for i := range r {
		r[i].CollectedAt = time.Date(2024, 8, 1, 6, 0, 0, 0, time.UTC)
	}
	if _, err := s.AppendReadings(context.Background(), id, r); err != nil {
		t.Fatalf("append: %v", err)
	}
}
