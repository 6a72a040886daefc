package models

import "time"

// Location is a catalog entry for a weather station.
type Location struct {
	ID        int64
	Name      string
	Latitude  float64
	Longitude float64
	IsUrban   bool
	// PairName/PairID reference the rural counterpart and are set on urban locations only.
	PairName string
	PairID   *int64
}

// Pair couples an urban location with its rural reference.
type Pair struct {
	Urban Location
	Rural Location
}

// Key identifies the pair in logs and reports.
func (p Pair) Key() string {
	return p.Urban.Name + "/" + p.Rural.Name
}

// Observation is a single upstream (timestamp, temperature) point.
type Observation struct {
	TS          time.Time
	Temperature float64
}

// Reading is a persisted observation. CollectedAt records when the value was ingested.
type Reading struct {
	LocationID  int64
	TS          time.Time
	Temperature float64
	CollectedAt time.Time
}

// HourlyDifferential is urban minus rural temperature at a matching hour.
type HourlyDifferential struct {
	UrbanLocationID  int64     `json:"urban_location_id"`
	TS               time.Time `json:"ts"`
	UrbanTemperature float64   `json:"urban_temperature"`
	RuralTemperature float64   `json:"rural_temperature"`
	Differential     float64   `json:"differential"`
}

// DailyDifferential is the per-day projection. Nil pointers mean "no value".
type DailyDifferential struct {
	UrbanLocationID    int64     `json:"urban_location_id"`
	Day                time.Time `json:"day"`
	MeanDifferential   float64   `json:"mean_differential"`
	RuralStdDev        *float64  `json:"rural_stddev,omitempty"`
	RollingRuralStdDev *float64  `json:"rolling_rural_stddev,omitempty"`
	Normalized         *float64  `json:"normalized,omitempty"`
}

// RunRecord is one orchestrator pass over a pair, kept for the once-daily check.
type RunRecord struct {
	RunID           string
	UrbanLocationID int64
	StartedAt       time.Time
	FinishedAt      time.Time
	State           string
	Error           string
}
