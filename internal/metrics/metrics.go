// Package metrics exposes the engine's Prometheus instrumentation:
// operation counters and latencies per format version, byte throughput,
// error counts by taxonomy, and live stream gauges.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kenneth/e2ee-encryption-engine/internal/errdefs"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Metrics holds all engine metrics.
type Metrics struct {
	cryptoOperations *prometheus.CounterVec
	cryptoDuration   *prometheus.HistogramVec
	cryptoErrors     *prometheus.CounterVec
	cryptoBytes      *prometheus.CounterVec
	activeStreams    *prometheus.GaugeVec
	goroutines       prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	memorySysBytes   prometheus.Gauge
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cryptoOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2ee_crypto_operations_total",
				Help: "Total number of encryption/decryption operations",
			},
			[]string{"operation", "version"}, // operation is "encrypt" or "decrypt"
		),
		cryptoDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "e2ee_crypto_duration_seconds",
				Help:    "Encryption/decryption operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation", "version"},
		),
		cryptoErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2ee_crypto_errors_total",
				Help: "Total number of encryption/decryption errors",
			},
			[]string{"operation", "error_type"},
		),
		cryptoBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "e2ee_crypto_bytes_total",
				Help: "Total cleartext bytes encrypted/decrypted",
			},
			[]string{"operation"},
		),
		activeStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "e2ee_active_streams",
				Help: "Number of streams currently being processed",
			},
			[]string{"operation"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordOperation records one whole-buffer encrypt or decrypt.
func (m *Metrics) RecordOperation(operation string, version byte, duration time.Duration, bytes int64) {
	v := strconv.Itoa(int(version))
	m.cryptoOperations.WithLabelValues(operation, v).Inc()
	m.cryptoDuration.WithLabelValues(operation, v).Observe(duration.Seconds())
	m.cryptoBytes.WithLabelValues(operation).Add(float64(bytes))
}

// RecordError records a failed operation, labelled by the error taxonomy.
func (m *Metrics) RecordError(operation string, err error) {
	m.cryptoErrors.WithLabelValues(operation, classify(err)).Inc()
}

// StreamStarted marks a stream as in flight.
func (m *Metrics) StreamStarted(operation string) {
	m.activeStreams.WithLabelValues(operation).Inc()
}

// StreamFinished marks a stream as done.
func (m *Metrics) StreamFinished(operation string) {
	m.activeStreams.WithLabelValues(operation).Dec()
}

// classify maps an error to its taxonomy label.
func classify(err error) string {
	switch {
	case errdefs.IsInvalidArgument(err):
		return "invalid_argument"
	case errdefs.IsDecryptionFailed(err):
		return "decryption_failed"
	default:
		return "internal"
	}
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
