package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "radio"

// Metrics contains all Prometheus metrics for the radio server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Upload metrics
	Uploads     *prometheus.CounterVec
	UploadBytes prometheus.Histogram

	// Conversion metrics
	ConversionQueue    prometheus.Gauge
	Conversions        *prometheus.CounterVec
	ConversionDuration prometheus.Histogram
	ConversionsDropped prometheus.Counter

	// Streaming metrics
	StreamRequests *prometheus.CounterVec

	// Station metrics
	FrequencyAssignments prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of recording uploads by result",
		}, []string{"result"}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of stored uploads in bytes",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 8),
		}),

		ConversionQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversion_queue_length",
			Help:      "Number of conversion jobs waiting for the worker",
		}),
		Conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of transcoder invocations by variant and result",
		}, []string{"variant", "result"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_seconds",
			Help:      "Time spent converting one recording into both variants",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		ConversionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_dropped_total",
			Help:      "Total number of jobs rejected because the queue was full",
		}),

		StreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_requests_total",
			Help:      "Total number of playback responses by status code",
		}, []string{"status"}),

		FrequencyAssignments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frequency_assignments_total",
			Help:      "Total number of new station frequencies assigned",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordUpload records an upload attempt and, on success, its size.
func (m *Metrics) RecordUpload(result string, bytes int64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
	if result == "ok" {
		m.UploadBytes.Observe(float64(bytes))
	}
}

// SetQueueLength reports the conversion queue depth.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.ConversionQueue.Set(float64(n))
}

// RecordConversion records one transcoder invocation.
func (m *Metrics) RecordConversion(variant string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Conversions.WithLabelValues(variant, result).Inc()
}

// ObserveConversion records the duration of a whole job in seconds.
func (m *Metrics) ObserveConversion(seconds float64) {
	if m == nil {
		return
	}
	m.ConversionDuration.Observe(seconds)
}

// RecordDroppedConversion counts a job rejected by a full queue.
func (m *Metrics) RecordDroppedConversion() {
	if m == nil {
		return
	}
	m.ConversionsDropped.Inc()
}

// RecordStream records a playback response status.
func (m *Metrics) RecordStream(status int) {
	if m == nil {
		return
	}
	m.StreamRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordFrequencyAssignment counts a newly created station.
func (m *Metrics) RecordFrequencyAssignment() {
	if m == nil {
		return
	}
	m.FrequencyAssignments.Inc()
}

// RecordHTTPRequest records an HTTP request and its duration in seconds.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
