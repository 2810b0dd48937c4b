// Package metrics provides Prometheus metrics for the tempofs read engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Probe metrics
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempofs_probes_total",
			Help: "Total number of resource probes by outcome",
		},
		[]string{"result"},
	)

	probeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tempofs_probe_duration_seconds",
			Help:    "Probe round trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Remote request metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempofs_remote_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"kind", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tempofs_remote_request_duration_seconds",
			Help:    "Outbound HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Read metrics
	readsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempofs_reads_total",
			Help: "Total number of reads by serving path and outcome",
		},
		[]string{"path", "result"},
	)

	rangeIgnoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tempofs_range_ignored_total",
			Help: "Range requests answered with a full body despite probed range support",
		},
	)

	bytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempofs_bytes_served_total",
			Help: "Total bytes returned to readers by serving path",
		},
		[]string{"path"},
	)

	// Materialization metrics
	materializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempofs_materializations_total",
			Help: "Total number of full-body fallback downloads",
		},
		[]string{"result"},
	)

	materializedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tempofs_materialized_bytes",
			Help: "Bytes currently held by materialized resources",
		},
	)

	// Handle metrics
	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tempofs_open_handles",
			Help: "Number of open file handles",
		},
	)

	namespaceEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tempofs_namespace_entries",
			Help: "Number of entries in the mounted namespace",
		},
	)
)

// Read serving paths
const (
	PathRange  = "range"
	PathMemory = "memory"
)

// Outbound request kinds
const (
	KindProbe = "probe"
	KindRange = "range"
	KindFetch = "fetch"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordProbe records a probe outcome. result is "supported", "unsupported"
// or "error".
func RecordProbe(result string, duration time.Duration) {
	probesTotal.WithLabelValues(result).Inc()
	probeDuration.Observe(duration.Seconds())
}

// RecordRemoteRequest records one outbound HTTP request. A status of 0 means
// no response was received.
func RecordRemoteRequest(kind string, status int, duration time.Duration) {
	s := "error"
	if status != 0 {
		s = strconv.Itoa(status)
	}
	remoteRequestsTotal.WithLabelValues(kind, s).Inc()
	remoteRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRead records a read served from path.
func RecordRead(path string, n int, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	readsTotal.WithLabelValues(path, result).Inc()
	if success {
		bytesServed.WithLabelValues(path).Add(float64(n))
	}
}

// RecordMaterialize records a fallback download.
func RecordMaterialize(bytes int64, success bool) {
	if success {
		materializationsTotal.WithLabelValues("success").Inc()
		materializedBytes.Add(float64(bytes))
	} else {
		materializationsTotal.WithLabelValues("error").Inc()
	}
}

// HandleOpened increments the open handle gauge.
func HandleOpened() {
	openHandles.Inc()
}

// HandleClosed decrements the open handle gauge.
func HandleClosed() {
	openHandles.Dec()
}

// SetNamespaceEntries records the number of mounted entries.
func SetNamespaceEntries(n int) {
	namespaceEntries.Set(float64(n))
}

// RecordRangeIgnored counts a range request answered with the full body by a
// resource whose probe reported range support.
func RecordRangeIgnored() {
	rangeIgnoredTotal.Inc()
}
