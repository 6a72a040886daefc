package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

type locationResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsUrban   bool    `json:"is_urban"`
	Pair      string  `json:"pair,omitempty"`
}

type pairResponse struct {
	Urban locationResponse `json:"urban"`
	Rural locationResponse `json:"rural"`
}

type readingResponse struct {
	TS          time.Time `json:"ts"`
	Temperature float64   `json:"temperature"`
	CollectedAt time.Time `json:"collected_at"`
}

func toLocationResponse(l models.Location) locationResponse {
	return locationResponse{
		ID:        l.ID,
		Name:      l.Name,
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		IsUrban:   l.IsUrban,
		Pair:      l.PairName,
	}
}

// handleV1ListLocations returns the location catalog
// GET /api/v1/locations
func (s *Server) handleV1ListLocations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	data := make([]locationResponse, 0, len(locations))
	for _, l := range locations {
		data = append(data, toLocationResponse(l))
	}
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"meta": gin.H{
			"count": len(data),
		},
	})
}

// handleV1ListPairs returns every urban location with its rural counterpart
// GET /api/v1/pairs
func (s *Server) handleV1ListPairs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	byID := make(map[int64]models.Location, len(locations))
	for _, l := range locations {
		byID[l.ID] = l
	}
	data := make([]pairResponse, 0)
	for _, l := range locations {
		if !l.IsUrban || l.PairID == nil {
			continue
		}
		rural, ok := byID[*l.PairID]
		if !ok {
			continue
		}
		data = append(data, pairResponse{Urban: toLocationResponse(l), Rural: toLocationResponse(rural)})
	}
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"meta": gin.H{
			"count": len(data),
		},
	})
}

// handleV1LocationReadings returns stored hourly readings for one location
// GET /api/v1/locations/:name/readings?start=&end=
func (s *Server) handleV1LocationReadings(c *gin.Context) {
	from, to, ok := s.parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	loc, ok := s.findLocation(ctx, c, c.Param("name"), false)
	if !ok {
		return
	}

	readings, err := s.store.Readings(ctx, loc.ID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data := make([]readingResponse, 0, len(readings))
	for _, r := range readings {
		data = append(data, readingResponse{TS: r.TS, Temperature: r.Temperature, CollectedAt: r.CollectedAt})
	}
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"meta": rangeMeta(loc.Name, from, to, len(data)),
	})
}

// handleV1PairHourly returns hourly urban minus rural differentials
// GET /api/v1/pairs/:urban/hourly?start=&end=
func (s *Server) handleV1PairHourly(c *gin.Context) {
	from, to, ok := s.parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	urban, ok := s.findLocation(ctx, c, c.Param("urban"), true)
	if !ok {
		return
	}

	rows, err := s.store.HourlyDifferentials(ctx, urban.ID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": rows,
		"meta": rangeMeta(urban.Name, from, to, len(rows)),
	})
}

// handleV1PairDaily returns daily normalized differentials; normalized is
// omitted on days without a usable rural variability signal
// GET /api/v1/pairs/:urban/daily?start=&end=
func (s *Server) handleV1PairDaily(c *gin.Context) {
	from, to, ok := s.parseRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	urban, ok := s.findLocation(ctx, c, c.Param("urban"), true)
	if !ok {
		return
	}

	rows, err := s.store.DailyDifferentials(ctx, urban.ID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": rows,
		"meta": rangeMeta(urban.Name, from, to, len(rows)),
	})
}

func (s *Server) findLocation(ctx context.Context, c *gin.Context, name string, urbanOnly bool) (models.Location, bool) {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return models.Location{}, false
	}
	for _, l := range locations {
		if l.Name != name {
			continue
		}
		if urbanOnly && !l.IsUrban {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s is a rural location", name)})
			return models.Location{}, false
		}
		return l, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
	return models.Location{}, false
}

// parseRange reads start/end query parameters as YYYY-MM-DD (end inclusive) or
// RFC3339 (end exclusive). Without them the last DefaultDays days are returned.
func (s *Server) parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := s.now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -s.cfg.DefaultDays)

	if endStr := c.Query("end"); endStr != "" {
		t, err := parseBound(endStr, true)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return time.Time{}, time.Time{}, false
		}
		to = t
		from = to.AddDate(0, 0, -s.cfg.DefaultDays)
	}
	if startStr := c.Query("start"); startStr != "" {
		t, err := parseBound(startStr, false)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}

	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be before end"})
		return time.Time{}, time.Time{}, false
	}
	if s.cfg.MaxDays > 0 && to.Sub(from) > time.Duration(s.cfg.MaxDays)*24*time.Hour {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("range exceeds %d days", s.cfg.MaxDays)})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseBound(v string, end bool) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, v); err == nil {
		if end {
			d = d.AddDate(0, 0, 1)
		}
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func rangeMeta(location string, from, to time.Time, count int) gin.H {
	return gin.H{
		"location": location,
		"start":    from.Format(time.RFC3339),
		"end":      to.Format(time.RFC3339),
		"count":    count,
	}
}
