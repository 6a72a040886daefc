package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/02loveslollipop/urban-heat-differential/internal/db"
	"github.com/02loveslollipop/urban-heat-differential/internal/differential"
	"github.com/02loveslollipop/urban-heat-differential/internal/logging"
	"github.com/02loveslollipop/urban-heat-differential/internal/metrics"
	"github.com/02loveslollipop/urban-heat-differential/internal/models"
	"github.com/02loveslollipop/urban-heat-differential/services/api/config"
)

var day1 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *db.SQLite {
	t.Helper()
	ctx := context.Background()
	store, err := db.NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	urban := models.Location{Name: "Phoenix", Latitude: 33.4484, Longitude: -112.074, IsUrban: true, PairName: "Buckeye"}
	rural := models.Location{Name: "Buckeye", Latitude: 33.3705, Longitude: -112.5838}
	ids, err := store.SyncLocations(ctx, []models.Location{urban, rural})
	if err != nil {
		t.Fatalf("SyncLocations: %v", err)
	}
	urban.ID, rural.ID = ids["Phoenix"], ids["Buckeye"]

	var u, r []models.Reading
	for h := 0; h < 24; h++ {
		ts := day1.Add(time.Duration(h) * time.Hour)
		u = append(u, models.Reading{TS: ts, Temperature: 20 + float64(h), CollectedAt: day1.AddDate(0, 0, 1)})
		r = append(r, models.Reading{TS: ts, Temperature: 10, CollectedAt: day1.AddDate(0, 0, 1)})
	}
	if _, err := store.AppendReadings(ctx, urban.ID, u); err != nil {
		t.Fatalf("append urban: %v", err)
	}
	if _, err := store.AppendReadings(ctx, rural.ID, r); err != nil {
		t.Fatalf("append rural: %v", err)
	}
	if _, err := differential.NewEngine(store, logging.Discard()).Refresh(ctx, models.Pair{Urban: urban, Rural: rural}, day1, day1.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return store
}

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	cfg := config.Config{Port: 8080, DefaultDays: 30, MaxDays: 366, BearerToken: token}
	s := New(cfg, seededStore(t), metrics.New(), logging.Discard())
	s.now = func() time.Time { return day1.Add(36 * time.Hour) }
	return s
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data []map[string]any `json:"data"`
	Meta map[string]any   `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return env
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, "secret")
	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `urban_heat_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("request counter missing:\n%s", rec.Body.String())
	}
}

func TestListLocationsAndPairs(t *testing.T) {
	s := newTestServer(t, "")
	rec := do(t, s, http.MethodGet, "/api/v1/locations", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-API-Version") != "v1" {
		t.Fatalf("locations = %d", rec.Code)
	}
	if env := decode(t, rec); len(env.Data) != 2 || env.Meta["count"].(float64) != 2 {
		t.Fatalf("locations body %+v", env)
	}

	env := decode(t, do(t, s, http.MethodGet, "/api/v1/pairs", ""))
	if len(env.Data) != 1 {
		t.Fatalf("pairs = %+v", env.Data)
	}
	urban := env.Data[0]["urban"].(map[string]any)
	rural := env.Data[0]["rural"].(map[string]any)
	if urban["name"] != "Phoenix" || rural["name"] != "Buckeye" || rural["is_urban"] != false {
		t.Fatalf("pair = %+v", env.Data[0])
	}
}

func TestPairHourlyAndDaily(t *testing.T) {
	s := newTestServer(t, "")

	env := decode(t, do(t, s, http.MethodGet, "/api/v1/pairs/Phoenix/hourly?start=2024-07-01&end=2024-07-01", ""))
	if len(env.Data) != 24 {
		t.Fatalf("hourly rows = %d", len(env.Data))
	}
	if env.Data[0]["differential"].(float64) != 10 {
		t.Fatalf("first differential %v", env.Data[0]["differential"])
	}

	// A mid-day RFC3339 end still covers that day, as it does for hourly rows.
	env = decode(t, do(t, s, http.MethodGet, "/api/v1/pairs/Phoenix/daily?start=2024-07-01T00:00:00Z&end=2024-07-01T12:00:00Z", ""))
	if len(env.Data) != 1 {
		t.Fatalf("partial-day daily rows = %d", len(env.Data))
	}

	// Default range covers the last 30 days up to today.
	env = decode(t, do(t, s, http.MethodGet, "/api/v1/pairs/Phoenix/daily", ""))
	if len(env.Data) != 1 {
		t.Fatalf("daily rows = %d", len(env.Data))
	}
	if env.Data[0]["mean_differential"].(float64) != 21.5 {
		t.Fatalf("daily %+v", env.Data[0])
	}
	if _, ok := env.Data[0]["normalized"]; ok {
		t.Fatalf("zero-variance day must have no normalized value: %+v", env.Data[0])
	}
}

func TestLocationReadings(t *testing.T) {
	s := newTestServer(t, "")
	env := decode(t, do(t, s, http.MethodGet, "/api/v1/locations/Buckeye/readings?start=2024-07-01T00:00:00Z&end=2024-07-01T06:00:00Z", ""))
	if len(env.Data) != 6 || env.Meta["location"] != "Buckeye" {
		t.Fatalf("readings %+v", env)
	}
}

func TestPairErrors(t *testing.T) {
	s := newTestServer(t, "")
	cases := []struct {
		path string
		code int
	}{
		{"/api/v1/pairs/Buckeye/daily", http.StatusBadRequest},
		{"/api/v1/pairs/Atlantis/daily", http.StatusNotFound},
		{"/api/v1/pairs/Phoenix/daily?start=yesterday", http.StatusBadRequest},
		{"/api/v1/pairs/Phoenix/daily?start=2024-07-05&end=2024-07-01", http.StatusBadRequest},
		{"/api/v1/pairs/Phoenix/hourly?start=2020-01-01&end=2024-07-01", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := do(t, s, http.MethodGet, tc.path, ""); rec.Code != tc.code {
			t.Errorf("%s = %d want %d", tc.path, rec.Code, tc.code)
		}
	}
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "secret")
	if rec := do(t, s, http.MethodGet, "/api/v1/locations", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/locations", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/locations", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("valid token = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := do(t, s, http.MethodOptions, "/api/v1/locations", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d", rec.Code)
	}
}
