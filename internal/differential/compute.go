package differential

import (
	"math"
	"sort"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// WindowDays is the trailing window of the rolling rural statistic, current day included.
const WindowDays = 30

// DayStat is the sample standard deviation of one rural day; StdDev is nil
// when the day has fewer than two readings.
type DayStat struct {
	Day    time.Time
	Count  int
	StdDev *float64
}

// Day truncates ts to its UTC calendar day.
func Day(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// Hourly pairs urban and rural readings on identical timestamps. Hours missing
// on either side produce no row.
func Hourly(urbanID int64, urban, rural []models.Reading) []models.HourlyDifferential {
	ruralAt := make(map[int64]float64, len(rural))
	for _, r := range rural {
		ruralAt[r.TS.Unix()] = r.Temperature
	}

	out := make([]models.HourlyDifferential, 0, len(urban))
	for _, u := range urban {
		rt, ok := ruralAt[u.TS.Unix()]
		if !ok {
			continue
		}
		out = append(out, models.HourlyDifferential{
			UrbanLocationID:  urbanID,
			TS:               u.TS.UTC(),
			UrbanTemperature: u.Temperature,
			RuralTemperature: rt,
			Differential:     u.Temperature - rt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// RuralDailyStdDev groups rural readings by calendar day, ordered by day.
func RuralDailyStdDev(rural []models.Reading) []DayStat {
	byDay := make(map[time.Time][]float64)
	for _, r := range rural {
		d := Day(r.TS)
		byDay[d] = append(byDay[d], r.Temperature)
	}

	out := make([]DayStat, 0, len(byDay))
	for d, temps := range byDay {
		out = append(out, DayStat{Day: d, Count: len(temps), StdDev: sampleStdDev(temps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

func sampleStdDev(values []float64) *float64 {
	n := len(values)
	if n < 2 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(sq / float64(n-1))
	return &sd
}

// Rolling returns, for every day in stats, the mean of the defined daily
// standard deviations over that day and the window-1 calendar days before it.
// Days with no defined value in the window map to nil. stats must be ordered by day.
func Rolling(stats []DayStat, window int) map[time.Time]*float64 {
	out := make(map[time.Time]*float64, len(stats))
	var (
		sum   float64
		count int
		lo    int
	)
	for _, s := range stats {
		if s.StdDev != nil {
			sum += *s.StdDev
			count++
		}
		oldest := s.Day.AddDate(0, 0, -(window - 1))
		for stats[lo].Day.Before(oldest) {
			if stats[lo].StdDev != nil {
				sum -= *stats[lo].StdDev
				count--
			}
			lo++
		}
		if count == 0 {
			out[s.Day] = nil
			continue
		}
		mean := sum / float64(count)
		out[s.Day] = &mean
	}
	return out
}

// Daily folds hourly differentials into per-day rows and normalizes each
// day's mean differential by the rolling rural statistic. The normalized
// value is nil when the rolling statistic is missing or exactly zero.
func Daily(urbanID int64, hourly []models.HourlyDifferential, rural []models.Reading) []models.DailyDifferential {
	type acc struct {
		sum float64
		n   int
	}
	days := make(map[time.Time]*acc)
	order := make([]time.Time, 0)
	for _, h := range hourly {
		d := Day(h.TS)
		a, ok := days[d]
		if !ok {
			a = &acc{}
			days[d] = a
			order = append(order, d)
		}
		a.sum += h.Differential
		a.n++
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	stats := RuralDailyStdDev(rural)
	rolling := Rolling(stats, WindowDays)
	stdByDay := make(map[time.Time]*float64, len(stats))
	for _, s := range stats {
		stdByDay[s.Day] = s.StdDev
	}

	out := make([]models.DailyDifferential, 0, len(order))
	for _, d := range order {
		a := days[d]
		row := models.DailyDifferential{
			UrbanLocationID:    urbanID,
			Day:                d,
			MeanDifferential:   a.sum / float64(a.n),
			RuralStdDev:        stdByDay[d],
			RollingRuralStdDev: rolling[d],
		}
		if row.RollingRuralStdDev != nil && *row.RollingRuralStdDev != 0 {
			v := row.MeanDifferential / *row.RollingRuralStdDev
			row.Normalized = &v
		}
		out = append(out, row)
	}
	return out
}
