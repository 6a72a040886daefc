// Package openmeteo fetches hourly historical temperatures from the Open-Meteo archive API.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/02loveslollipop/urban-heat-differential/internal/logging"
	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

const (
	// DefaultArchiveURL is the public historical weather endpoint.
	DefaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	// DefaultRequestsPerMinute keeps well under the free tier's limits.
	DefaultRequestsPerMinute = 10

	timeLayout = "2006-01-02T15:04"
	dateLayout = "2006-01-02"

	missingWarnPercent = 20.0
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Backoff    BackoffConfig
	// RequestsPerMinute caps outgoing requests. Zero means DefaultRequestsPerMinute;
	// a negative value disables the limit.
	RequestsPerMinute int
	Logger            *slog.Logger
}

// Client is the Extractor backed by Open-Meteo.
type Client struct {
	baseURL string
	http    *http.Client
	backoff BackoffConfig
	limiter *rate.Limiter
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New constructs a Client with a dedicated circuit breaker.
func New(opts Options) *Client {
	c := &Client{
		baseURL: opts.BaseURL,
		http:    opts.HTTPClient,
		backoff: opts.Backoff,
		logger:  opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultArchiveURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.backoff.InitialInterval <= 0 {
		c.backoff.InitialInterval = 500 * time.Millisecond
	}
	if c.backoff.MaxInterval <= 0 {
		c.backoff.MaxInterval = 10 * time.Second
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	perMinute := opts.RequestsPerMinute
	if perMinute == 0 {
		perMinute = DefaultRequestsPerMinute
	}
	if perMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	c.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo-archive",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
	})
	return c
}

type archiveResponse struct {
	Hourly struct {
		Time        []string   `json:"time"`
		Temperature []*float64 `json:"temperature_2m"`
	} `json:"hourly"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Fetch returns the hourly series for loc over [start, end). Upstream gaps are
// passed through; hours with a null temperature are dropped.
func (c *Client) Fetch(ctx context.Context, loc models.Location, start, end time.Time) (iter.Seq[models.Observation], error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", models.ErrInvalidRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	c.logger.Debug("fetching weather data",
		"location", loc.Name,
		"lat", loc.Latitude,
		"lon", loc.Longitude,
		"start", start.Format(dateLayout),
		"end", end.Format(dateLayout))

	resp, err := doRequest(ctx, c.http, c.backoff, c.limiter, c.circuit, func(ctx context.Context) (*http.Request, error) {
		return c.buildRequest(ctx, loc, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request archive for %s: %v", models.ErrSourceUnavailable, loc.Name, err)
	}
	defer resp.Body.Close()

	var payload archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload for %s: %v", models.ErrSourceUnavailable, loc.Name, err)
	}
	if payload.Error {
		return nil, fmt.Errorf("%w: upstream error for %s: %s", models.ErrSourceUnavailable, loc.Name, payload.Reason)
	}

	obs, err := c.parse(loc, payload, start, end)
	if err != nil {
		return nil, err
	}

	return func(yield func(models.Observation) bool) {
		for _, o := range obs {
			if !yield(o) {
				return
			}
		}
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, loc models.Location, start, end time.Time) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	// end is exclusive; the API's end_date is an inclusive calendar day.
	lastDay := end.Add(-time.Nanosecond)

	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	q.Set("start_date", start.Format(dateLayout))
	q.Set("end_date", lastDay.Format(dateLayout))
	q.Set("hourly", "temperature_2m")
	q.Set("timezone", "UTC")
	u.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (c *Client) parse(loc models.Location, payload archiveResponse, start, end time.Time) ([]models.Observation, error) {
	times, temps := payload.Hourly.Time, payload.Hourly.Temperature
	if len(times) != len(temps) {
		return nil, fmt.Errorf("%w: %s: %d timestamps but %d temperatures", models.ErrSourceUnavailable,
			loc.Name, len(times), len(temps))
	}

	out := make([]models.Observation, 0, len(times))
	dropped := 0
	for i, raw := range times {
		ts, err := time.ParseInLocation(timeLayout, raw, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: parse timestamp %q: %v", models.ErrSourceUnavailable, loc.Name, raw, err)
		}
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		if temps[i] == nil {
			dropped++
			continue
		}
		out = append(out, models.Observation{TS: ts, Temperature: *temps[i]})
	}

	if dropped > 0 {
		pct := float64(dropped) / float64(dropped+len(out)) * 100
		c.logger.Info("dropped null temperatures", "location", loc.Name, "dropped", dropped, "percent", pct)
		if pct > missingWarnPercent {
			c.logger.Warn("high share of missing temperatures", "location", loc.Name, "percent", pct)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid data points for %s", models.ErrSourceUnavailable, loc.Name)
	}

	c.logger.Debug("fetched weather data", "location", loc.Name, "rows", len(out))
	return out, nil
}
