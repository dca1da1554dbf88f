// Package metrics provides Prometheus metrics for the server manager.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog sync metrics
	catalogWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_catalog_records_total",
			Help: "Catalog records processed by sync, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	catalogSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsm_catalog_sync_duration_seconds",
			Help:    "Catalog sync duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// Artifact metrics
	downloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_download_bytes_total",
			Help: "Bytes downloaded, by artifact kind",
		},
		[]string{"kind"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_downloads_total",
			Help: "Downloads, by artifact kind and status",
		},
		[]string{"kind", "status"},
	)

	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_commands_total",
			Help: "Commands handled, by command and status",
		},
		[]string{"command", "status"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsm_command_duration_seconds",
			Help:    "Command duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	commandQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsm_command_queue_depth",
			Help: "Commands waiting for a worker",
		},
	)

	// Process metrics
	serverRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsm_server_running",
			Help: "1 when a game server process is running",
		},
	)

	linkRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_link_requests_total",
			Help: "Token-protected link requests, by route and result",
		},
		[]string{"route", "result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCatalogRecord records one record handled by a catalog sync.
// outcome is one of added, updated, skipped, failed.
func RecordCatalogRecord(kind, outcome string) {
	catalogWritesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCatalogSync records the duration of a catalog sync run.
func RecordCatalogSync(kind string, duration time.Duration) {
	catalogSyncDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDownload records a finished artifact download.
func RecordDownload(kind string, bytes int64, success bool) {
	downloadBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	downloadsTotal.WithLabelValues(kind, status(success)).Inc()
}

// RecordCommand records a handled command.
func RecordCommand(command string, success bool, duration time.Duration) {
	commandsTotal.WithLabelValues(command, status(success)).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// SetQueueDepth sets the number of queued commands.
func SetQueueDepth(n int) {
	commandQueueDepth.Set(float64(n))
}

// SetServerRunning flips the process gauge.
func SetServerRunning(running bool) {
	if running {
		serverRunning.Set(1)
		return
	}
	serverRunning.Set(0)
}

// RecordLinkRequest records a request on a token-protected route.
func RecordLinkRequest(route string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	linkRequestsTotal.WithLabelValues(route, result).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
