package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// visited-countries engine.
type Metrics struct {
	EngineRunning prometheus.Gauge
	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram

	// Scanner metrics.
	CoordinatesScanned prometheus.Counter
	CellsDeferred      prometheus.Counter

	// Resolution metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,no_country,error}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	RateLimitWait      prometheus.Histogram
	CacheSize          prometheus.Gauge

	// Ledger metrics.
	CountriesDetected prometheus.Counter
	EventsPublished   prometheus.Counter
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.EngineRunning,
		m.CyclesTotal,
		m.CycleDuration,
		m.CoordinatesScanned,
		m.CellsDeferred,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.RateLimitWait,
		m.CacheSize,
		m.CountriesDetected,
		m.EventsPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		EngineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "visited_countries",
			Name:      "engine_running",
			Help:      "1 when the update-cycle engine is active, 0 when shut down.",
		}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "cycles_total",
			Help:      "Total per-person update cycles completed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "visited_countries",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one person's scan-resolve-record cycle.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		CoordinatesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "coordinates_scanned_total",
			Help:      "Raw coordinates drawn from history and current state.",
		}),
		CellsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "cells_deferred_total",
			Help:      "Uncached grid cells pushed past the per-cycle batch ceiling.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "geocode_requests_total",
			Help:      "External reverse-geocoding calls by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "visited_countries",
			Name:      "geocode_api_duration_seconds",
			Help:      "Reverse-geocoding API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "visited_countries",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the global geocoder pacer.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 1, 2},
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "visited_countries",
			Name:      "cache_size",
			Help:      "Grid cells currently held in the geocoding cache.",
		}),
		CountriesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "countries_detected_total",
			Help:      "Countries newly added to a person's detected set.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visited_countries",
			Name:      "events_published_total",
			Help:      "Visit events published to Kafka.",
		}),
	}
}
