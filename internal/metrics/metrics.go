// Package metrics exposes Prometheus collectors for the ingest pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	filesDiscoveredTotal  *prometheus.CounterVec
	downloadsTotal        *prometheus.CounterVec
	downloadBytesTotal    prometheus.Counter
	importsTotal          *prometheus.CounterVec
	recordsImportedTotal  prometheus.Counter
	recrawlsTotal         *prometheus.CounterVec
	queueDepth            *prometheus.GaugeVec
	rateLimitDelaySeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		filesDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_files_discovered_total",
				Help: "Catalog upserts performed by discovery, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_downloads_total",
				Help: "Download attempts, labeled by outcome (success, cached, not_found, error).",
			},
			[]string{"outcome"},
		)

		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_download_bytes_total",
				Help: "Total bytes written by the download stage.",
			},
		)

		importsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_imports_total",
				Help: "Import attempts, labeled by terminal status.",
			},
			[]string{"status"},
		)

		recordsImportedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_records_imported_total",
				Help: "Relational rows produced by completed imports.",
			},
		)

		recrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_recrawls_total",
				Help: "Recrawl repair attempts, labeled by outcome (repaired, unmatched, failed).",
			},
			[]string{"outcome"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_queue_depth",
				Help: "Catalog records per status, refreshed by the stats loop.",
			},
			[]string{"status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_rate_limit_delay_seconds",
				Help:    "Histogram of waits imposed by the shared download rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDiscovery counts one catalog upsert.
func ObserveDiscovery(outcome string) {
	if filesDiscoveredTotal == nil {
		return
	}
	filesDiscoveredTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownload counts one download attempt and its payload size.
func ObserveDownload(outcome string, bytes int64) {
	if downloadsTotal == nil {
		return
	}
	downloadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		downloadBytesTotal.Add(float64(bytes))
	}
}

// ObserveImport counts one import attempt by terminal status.
func ObserveImport(status string, recordsImported int) {
	if importsTotal == nil {
		return
	}
	importsTotal.WithLabelValues(status).Inc()
	if recordsImported > 0 {
		recordsImportedTotal.Add(float64(recordsImported))
	}
}

// ObserveRecrawl counts one recrawl repair attempt.
func ObserveRecrawl(outcome string) {
	if recrawlsTotal == nil {
		return
	}
	recrawlsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current number of records in a status.
func SetQueueDepth(status string, depth int64) {
	if queueDepth == nil {
		return
	}
	queueDepth.WithLabelValues(status).Set(float64(depth))
}

// ObserveRateLimitDelay records a wait imposed by the download limiter.
func ObserveRateLimitDelay(d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	if d > time.Millisecond {
		rateLimitDelaySeconds.Observe(d.Seconds())
	}
}
