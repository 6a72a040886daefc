package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

type fakeSource map[int64][]models.DailyDifferential

func (f fakeSource) DailyDifferentials(_ context.Context, urbanID int64, _, _ time.Time) ([]models.DailyDifferential, error) {
	rows, ok := f[urbanID]
	if !ok {
		return nil, errors.New("no such location")
	}
	return rows, nil
}

var (
	day1  = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	pairs = []models.Pair{{
		Urban: models.Location{ID: 1, Name: "Phoenix", IsUrban: true},
		Rural: models.Location{ID: 2, Name: "Buckeye"},
	}}
)

func f64(v float64) *float64 { return &v }

func source() fakeSource {
	return fakeSource{1: {
		{UrbanLocationID: 1, Day: day1, MeanDifferential: 21.5, RuralStdDev: f64(0), RollingRuralStdDev: f64(0)},
		{UrbanLocationID: 1, Day: day1.AddDate(0, 0, 1), MeanDifferential: 4, RuralStdDev: f64(2), RollingRuralStdDev: f64(1), Normalized: f64(4)},
	}}
}

func TestWorkbook_Sheets(t *testing.T) {
	f, err := Workbook(context.Background(), source(), pairs, day1, day1.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != dailySheet || sheets[1] != summarySheet {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows(dailySheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("daily rows = %d", len(rows))
	}
	if rows[1][0] != "Phoenix" || rows[1][2] != "2024-07-01" || rows[1][6] != "n/a" {
		t.Fatalf("first data row = %v", rows[1])
	}
	if got, _ := f.GetCellValue(dailySheet, "G3", excelize.Options{RawCellValue: true}); got != "4" {
		t.Fatalf("normalized cell = %q", got)
	}

	if got, _ := f.GetCellValue(summarySheet, "E2"); got != "1" {
		t.Fatalf("no-signal days = %q", got)
	}
	if got, _ := f.GetCellValue(summarySheet, "A2"); got != "Phoenix/Buckeye" {
		t.Fatalf("pair = %q", got)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "differentials.xlsx")
	if err := WriteFile(context.Background(), source(), pairs, day1, day1.AddDate(0, 0, 2), path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue(summarySheet, "B2"); v != "2" {
		t.Fatalf("days = %q", v)
	}
}

func TestWorkbook_SourceError(t *testing.T) {
	_, err := Workbook(context.Background(), fakeSource{}, pairs, day1, day1.AddDate(0, 0, 1))
	if err == nil {
		t.Fatal("expected error")
	}
}
