// Package metrics holds the pipeline's Prometheus collectors. A nil *Collector
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "urban_heat"

type Collector struct {
	registry     *prometheus.Registry
	rowsWritten  *prometheus.CounterVec
	pairOutcomes *prometheus.CounterVec
	stageSeconds *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	requests     *prometheus.CounterVec
	requestSecs  *prometheus.HistogramVec
}

// New builds a collector on its own registry, with process and Go runtime collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_written_total",
			Help:      "Readings inserted by the loader.",
		}, []string{"location"}),
		pairOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_runs_total",
			Help:      "Pair runs by final state.",
		}, []string{"pair", "state"}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pair stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pair_last_success_timestamp_seconds",
			Help:      "Unix time of the last DONE run per pair.",
		}, []string{"pair"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Orchestrator runs by exit code.",
		}, []string{"exit_code"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		requestSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.rowsWritten, c.pairOutcomes, c.stageSeconds, c.lastSuccess, c.runs,
		c.requests, c.requestSecs,
	)
	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RowsWritten(location string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsWritten.WithLabelValues(location).Add(float64(n))
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) PairFinished(pair, state string, at time.Time) {
	if c == nil {
		return
	}
	c.pairOutcomes.WithLabelValues(pair, state).Inc()
	if state == "DONE" {
		c.lastSuccess.WithLabelValues(pair).Set(float64(at.Unix()))
	}
}

func (c *Collector) RunFinished(exitCode string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(exitCode).Inc()
}

// ObserveRequest records one served API request. route is the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveRequest(route, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestSecs.WithLabelValues(route).Observe(d.Seconds())
}
