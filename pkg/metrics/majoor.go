// Package metrics exposes Prometheus instrumentation for the asset
// manager. All methods are nil-safe: a nil *Metrics disables collection
// with zero overhead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the server records into.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanFiles    *prometheus.CounterVec

	enrichQueue prometheus.Gauge

	rateLimited *prometheus.CounterVec

	maintenanceActive prometheus.Gauge
	dbResets          prometheus.Counter

	watcherPending prometheus.Gauge
}

// New builds the collector set on a fresh registry. Returns nil when
// disabled; every method tolerates the nil receiver.
func New(enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "majoor_http_requests_total",
				Help: "HTTP requests by route and outcome code",
			},
			[]string{"route", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "majoor_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		scans: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "majoor_scans_total",
				Help: "Completed scans by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
		scanDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "majoor_scan_duration_seconds",
				Help:    "Scan wall time",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		scanFiles: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "majoor_scan_files_total",
				Help: "Files seen by scans, by disposition",
			},
			[]string{"disposition"}, // "added", "updated", "skipped", "errors"
		),
		enrichQueue: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "majoor_enrichment_queue_length",
				Help: "Pending background enrichment tasks",
			},
		),
		rateLimited: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "majoor_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by endpoint",
			},
			[]string{"endpoint"},
		),
		maintenanceActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "majoor_maintenance_active",
				Help: "1 while a maintenance operation holds the flag",
			},
		),
		dbResets: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "majoor_db_resets_total",
				Help: "Storage engine resets, including corruption self-heals",
			},
		),
		watcherPending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "majoor_watcher_pending",
				Help: "Files buffered by the filesystem watcher",
			},
		),
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(route, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordScan records one completed scan.
func (m *Metrics) RecordScan(ok bool, duration time.Duration, added, updated, skipped, errors int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(duration.Seconds())
	m.scanFiles.WithLabelValues("added").Add(float64(added))
	m.scanFiles.WithLabelValues("updated").Add(float64(updated))
	m.scanFiles.WithLabelValues("skipped").Add(float64(skipped))
	m.scanFiles.WithLabelValues("errors").Add(float64(errors))
}

// SetEnrichmentQueue updates the queue length gauge.
func (m *Metrics) SetEnrichmentQueue(n int) {
	if m == nil {
		return
	}
	m.enrichQueue.Set(float64(n))
}

// RecordRateLimited counts one rejected request.
func (m *Metrics) RecordRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

// SetMaintenanceActive flips the maintenance gauge.
func (m *Metrics) SetMaintenanceActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.maintenanceActive.Set(1)
	} else {
		m.maintenanceActive.Set(0)
	}
}

// RecordDBReset counts one storage reset.
func (m *Metrics) RecordDBReset() {
	if m == nil {
		return
	}
	m.dbResets.Inc()
}

// SetWatcherPending updates the watcher backlog gauge.
func (m *Metrics) SetWatcherPending(n int) {
	if m == nil {
		return
	}
	m.watcherPending.Set(float64(n))
}
