package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func seedPair(t *testing.T, s Store) (urbanID, ruralID int64) {
	t.Helper()
	ids, err := s.SyncLocations(context.Background(), []models.Location{
		{Name: "Phoenix", Latitude: 33.4484, Longitude: -112.074, IsUrban: true, PairName: "Buckeye"},
		{Name: "Buckeye", Latitude: 33.3703, Longitude: -112.5838},
	})
	if err != nil {
		t.Fatalf("SyncLocations: %v", err)
	}
	return ids["Phoenix"], ids["Buckeye"]
}

func hourly(from time.Time, n int, temp float64) []models.Reading {
	out := make([]models.Reading, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Reading{
			TS:          from.Add(time.Duration(i) * time.Hour),
			Temperature: temp + float64(i),
			CollectedAt: time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC),
		})
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSyncLocations_UpsertsAndLinksPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urbanID, ruralID := seedPair(t, s)

	again, _ := seedPair(t, s)
	if again != urbanID {
		t.Fatalf("re-sync changed id: %d -> %d", urbanID, again)
	}

	locs, err := s.ListLocations(ctx)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("locations=%d want 2", len(locs))
	}
	for _, l := range locs {
		switch l.Name {
		case "Phoenix":
			if !l.IsUrban || l.PairID == nil || *l.PairID != ruralID || l.PairName != "Buckeye" {
				t.Fatalf("urban row not linked: %+v", l)
			}
		case "Buckeye":
			if l.IsUrban || l.PairID != nil {
				t.Fatalf("rural row must carry no pair: %+v", l)
			}
		}
	}
}

func TestSyncLocations_RejectsRuralWithPair(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DB().Exec(`INSERT INTO locations (name, latitude, longitude, is_urban) VALUES ('Buckeye', 33.37, -112.58, 0)`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = s.DB().Exec(`INSERT INTO locations (name, latitude, longitude, is_urban, urban_pair_id) VALUES ('Gila Bend', 32.9, -112.7, 0, 1)`)
	if err == nil {
		t.Fatal("expected check constraint violation")
	}
}

func TestAppendReadings_SkipsExistingKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urbanID, _ := seedPair(t, s)
	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	n, err := s.AppendReadings(ctx, urbanID, hourly(start, 24, 10))
	if err != nil || n != 24 {
		t.Fatalf("first append n=%d err=%v", n, err)
	}
	n, err = s.AppendReadings(ctx, urbanID, hourly(start, 30, 50))
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if n != 6 {
		t.Fatalf("second append wrote %d, want 6", n)
	}

	got, err := s.Readings(ctx, urbanID, start, start.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("readings=%d want 30", len(got))
	}
	// Existing rows keep their first value.
	if got[0].Temperature != 10 {
		t.Fatalf("row overwritten: %+v", got[0])
	}
	for i := 1; i < len(got); i++ {
		if !got[i].TS.After(got[i-1].TS) {
			t.Fatalf("readings not ordered at %d", i)
		}
	}
}

func TestHighWaterMark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urbanID, ruralID := seedPair(t, s)

	if _, ok, err := s.HighWaterMark(ctx, urbanID); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.AppendReadings(ctx, urbanID, hourly(start, 5*24, 20)); err != nil {
		t.Fatalf("append: %v", err)
	}
	mark, ok, err := s.HighWaterMark(ctx, urbanID)
	if err != nil || !ok {
		t.Fatalf("HighWaterMark ok=%v err=%v", ok, err)
	}
	if want := time.Date(2024, 1, 5, 23, 0, 0, 0, time.UTC); !mark.Equal(want) {
		t.Fatalf("mark=%s want %s", mark, want)
	}
	if _, ok, _ := s.HighWaterMark(ctx, ruralID); ok {
		t.Fatal("rural location has no readings yet")
	}
}

func TestAppendReadings_AtomicOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urbanID, _ := seedPair(t, s)

	_, err := s.DB().Exec(`
CREATE TRIGGER reject_hot BEFORE INSERT ON temperature_data
WHEN NEW.temperature > 900
BEGIN SELECT RAISE(ABORT, 'implausible temperature'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	batch := hourly(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), 4, 10)
	batch[3].Temperature = 999

	_, err = s.AppendReadings(ctx, urbanID, batch)
	if !errors.Is(err, models.ErrWriteFailure) {
		t.Fatalf("err=%v want ErrWriteFailure", err)
	}
	if _, ok, _ := s.HighWaterMark(ctx, urbanID); ok {
		t.Fatal("partial batch was committed")
	}
}

func TestReplaceProjections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urbanID, _ := seedPair(t, s)

	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	std, norm := 1.5, 2.0

	first := []models.DailyDifferential{
		{UrbanLocationID: urbanID, Day: day1, MeanDifferential: 3, RuralStdDev: &std, RollingRuralStdDev: &std, Normalized: &norm},
		{UrbanLocationID: urbanID, Day: day2, MeanDifferential: 4},
	}
	hours := []models.HourlyDifferential{
		{UrbanLocationID: urbanID, TS: day1, UrbanTemperature: 30, RuralTemperature: 27, Differential: 3},
		{UrbanLocationID: urbanID, TS: day2, UrbanTemperature: 31, RuralTemperature: 27, Differential: 4},
	}
	if err := s.ReplaceProjections(ctx, urbanID, day1, day2.AddDate(0, 0, 1), hours, first); err != nil {
		t.Fatalf("ReplaceProjections: %v", err)
	}

	// Replacing day2 only leaves day1 intact.
	second := []models.DailyDifferential{{UrbanLocationID: urbanID, Day: day2, MeanDifferential: 5}}
	if err := s.ReplaceProjections(ctx, urbanID, day2, day2.AddDate(0, 0, 1), nil, second); err != nil {
		t.Fatalf("ReplaceProjections: %v", err)
	}

	daily, err := s.DailyDifferentials(ctx, urbanID, day1, day2.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("DailyDifferentials: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("daily=%d want 2", len(daily))
	}
	if daily[0].Normalized == nil || *daily[0].Normalized != 2 || !daily[0].Day.Equal(day1) {
		t.Fatalf("day1 changed: %+v", daily[0])
	}
	if daily[1].MeanDifferential != 5 || daily[1].Normalized != nil || daily[1].RuralStdDev != nil {
		t.Fatalf("day2 not replaced: %+v", daily[1])
	}

	// A bound inside day2 still includes day2.
	partial, err := s.DailyDifferentials(ctx, urbanID, day1, day2.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("DailyDifferentials: %v", err)
	}
	if len(partial) != 2 || !partial[1].Day.Equal(day2) {
		t.Fatalf("partial end daily = %+v", partial)
	}

	hourlyRows, err := s.HourlyDifferentials(ctx, urbanID, day1, day2.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("HourlyDifferentials: %v", err)
	}
	if len(hourlyRows) != 1 || hourlyRows[0].Differential != 3 {
		t.Fatalf("hourly rows = %+v", hourlyRows)
	}
}

func TestRunLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urbanID, _ := seedPair(t, s)

	if _, ok, err := s.LastCompletedRun(ctx, urbanID); err != nil || ok {
		t.Fatalf("empty ledger ok=%v err=%v", ok, err)
	}

	started := time.Date(2024, 1, 6, 6, 0, 0, 0, time.UTC)
	failed := models.RunRecord{RunID: "r1", UrbanLocationID: urbanID, StartedAt: started, FinishedAt: started.Add(time.Minute), State: "FAILED", Error: "boom"}
	if err := s.RecordRun(ctx, failed); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if _, ok, _ := s.LastCompletedRun(ctx, urbanID); ok {
		t.Fatal("failed run must not count as completed")
	}

	done := failed
	done.RunID, done.State, done.Error = "r2", "DONE", ""
	done.FinishedAt = started.Add(2 * time.Minute)
	if err := s.RecordRun(ctx, done); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	last, ok, err := s.LastCompletedRun(ctx, urbanID)
	if err != nil || !ok || !last.Equal(done.FinishedAt) {
		t.Fatalf("last=%s ok=%v err=%v", last, ok, err)
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err=%v want ErrConfiguration", err)
	}
}
