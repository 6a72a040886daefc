// Package export writes daily differential projections to an Excel workbook.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

const (
	dailySheet   = "Daily Differential"
	summarySheet = "Summary"
)

// Source reads stored daily projections.
type Source interface {
	DailyDifferentials(ctx context.Context, urbanID int64, from, to time.Time) ([]models.DailyDifferential, error)
}

type styles struct {
	header   int
	number   int
	noSignal int
}

// Workbook builds a two-sheet workbook: one row per pair-day, and a per-pair summary.
func Workbook(ctx context.Context, src Source, pairs []models.Pair, from, to time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	st, err := createStyles(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("excel: styles: %w", err)
	}

	rowsByPair := make([][]models.DailyDifferential, len(pairs))
	for i, p := range pairs {
		rows, err := src.DailyDifferentials(ctx, p.Urban.ID, from, to)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("excel: load %s: %w", p.Key(), err)
		}
		rowsByPair[i] = rows
	}

	if err := writeDailySheet(f, st, pairs, rowsByPair); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("excel: daily: %w", err)
	}
	if err := writeSummarySheet(f, st, pairs, rowsByPair); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("excel: summary: %w", err)
	}

	// Remove default Sheet1.
	_ = f.DeleteSheet("Sheet1")
	f.SetActiveSheet(0)
	return f, nil
}

// WriteFile builds the workbook and saves it to path.
func WriteFile(ctx context.Context, src Source, pairs []models.Pair, from, to time.Time, path string) error {
	f, err := Workbook(ctx, src, pairs, from, to)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("excel: save %s: %w", path, err)
	}
	return nil
}

func createStyles(f *excelize.File) (*styles, error) {
	var s styles
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#2B5797"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    []excelize.Border{{Type: "bottom", Color: "#000000", Style: 2}},
	})
	if err != nil {
		return nil, err
	}

	s.number, err = f.NewStyle(&excelize.Style{
		CustomNumFmt: strPtr("0.000"),
		Alignment:    &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}

	s.noSignal, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Color: "#808080", Italic: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func strPtr(s string) *string { return &s }

func writeHeader(f *excelize.File, s *styles, sheet string, headers []string, widths []float64) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, s.header)
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, col, col, w)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}

// setOptional writes v, or a greyed "n/a" when the value is undefined.
func setOptional(f *excelize.File, s *styles, sheet, cell string, v *float64) {
	if v == nil {
		_ = f.SetCellValue(sheet, cell, "n/a")
		_ = f.SetCellStyle(sheet, cell, cell, s.noSignal)
		return
	}
	_ = f.SetCellValue(sheet, cell, *v)
	_ = f.SetCellStyle(sheet, cell, cell, s.number)
}

func writeDailySheet(f *excelize.File, s *styles, pairs []models.Pair, rowsByPair [][]models.DailyDifferential) error {
	if _, err := f.NewSheet(dailySheet); err != nil {
		return err
	}
	writeHeader(f, s, dailySheet,
		[]string{"Urban", "Rural", "Day", "Mean Differential (°C)", "Rural Std Dev (°C)", "Rolling 30d Std Dev (°C)", "Normalized"},
		[]float64{16, 16, 12, 20, 18, 22, 14})

	row := 2
	for i, p := range pairs {
		for _, d := range rowsByPair[i] {
			cell := func(col int) string {
				name, _ := excelize.CoordinatesToCellName(col, row)
				return name
			}
			_ = f.SetCellValue(dailySheet, cell(1), p.Urban.Name)
			_ = f.SetCellValue(dailySheet, cell(2), p.Rural.Name)
			_ = f.SetCellValue(dailySheet, cell(3), d.Day.Format(time.DateOnly))
			_ = f.SetCellValue(dailySheet, cell(4), d.MeanDifferential)
			_ = f.SetCellStyle(dailySheet, cell(4), cell(4), s.number)
			setOptional(f, s, dailySheet, cell(5), d.RuralStdDev)
			setOptional(f, s, dailySheet, cell(6), d.RollingRuralStdDev)
			setOptional(f, s, dailySheet, cell(7), d.Normalized)
			row++
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, s *styles, pairs []models.Pair, rowsByPair [][]models.DailyDifferential) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	writeHeader(f, s, summarySheet,
		[]string{"Pair", "Days", "Mean Differential (°C)", "Mean Normalized", "No-Signal Days"},
		[]float64{24, 8, 20, 16, 14})

	for i, p := range pairs {
		rows := rowsByPair[i]
		var sumDiff, sumNorm float64
		var normCount, noSignal int
		for _, d := range rows {
			sumDiff += d.MeanDifferential
			if d.Normalized == nil {
				noSignal++
				continue
			}
			sumNorm += *d.Normalized
			normCount++
		}

		r := i + 2
		cell := func(col int) string {
			name, _ := excelize.CoordinatesToCellName(col, r)
			return name
		}
		_ = f.SetCellValue(summarySheet, cell(1), p.Key())
		_ = f.SetCellValue(summarySheet, cell(2), len(rows))
		var meanDiff, meanNorm *float64
		if len(rows) > 0 {
			v := sumDiff / float64(len(rows))
			meanDiff = &v
		}
		if normCount > 0 {
			v := sumNorm / float64(normCount)
			meanNorm = &v
		}
		setOptional(f, s, summarySheet, cell(3), meanDiff)
		setOptional(f, s, summarySheet, cell(4), meanNorm)
		_ = f.SetCellValue(summarySheet, cell(5), noSignal)
	}
	return nil
}
