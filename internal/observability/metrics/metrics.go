// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "visit_intake"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Encounter metrics
	EncountersTotal  prometheus.Counter
	EncountersActive prometheus.Gauge

	// Workflow metrics
	Transitions *prometheus.CounterVec
	Failures    *prometheus.CounterVec

	// Capture metrics
	CaptureFragments prometheus.Counter
	CaptureBytes     prometheus.Counter
	CaptureDuration  prometheus.Histogram
	DeviceReleases   *prometheus.CounterVec

	// Backend call metrics
	UploadLatency      *prometheus.HistogramVec
	BillingLatency     *prometheus.HistogramVec
	SuggestionOutcomes *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Session store metrics
	StoreLatency *prometheus.HistogramVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer creates unregistered metrics, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EncountersTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encounters_total",
			Help:      "Total number of encounters opened",
		}),
		EncountersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "encounters_active",
			Help:      "Number of encounters currently registered",
		}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of workflow state transitions",
		}, []string{"from", "to"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_failures_total",
			Help:      "Total number of workflow failures by kind",
		}, []string{"kind"}),

		CaptureFragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_fragments_total",
			Help:      "Total audio fragments received",
		}),
		CaptureBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Total audio bytes received",
		}),
		CaptureDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of finalized capture attempts in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		DeviceReleases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_releases_total",
			Help:      "Total device releases by exit path",
		}, []string{"reason"}),

		UploadLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_seconds",
			Help:      "Transcription upload latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		BillingLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_latency_seconds",
			Help:      "Billing endpoint latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"operation", "outcome"}),
		SuggestionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_suggestions_total",
			Help:      "Billing suggestion resolutions by source and outcome",
		}, []string{"source", "outcome"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_store_latency_seconds",
			Help:      "Session store operation latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}, []string{"operation", "outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total API requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordEncounterOpened records a new encounter being registered.
func (m *Metrics) RecordEncounterOpened() {
	m.EncountersTotal.Inc()
	m.EncountersActive.Inc()
}

// RecordEncounterClosed records an encounter leaving the registry.
func (m *Metrics) RecordEncounterClosed() {
	m.EncountersActive.Dec()
}

// RecordTransition records a workflow state change.
func (m *Metrics) RecordTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordFailure records a workflow failure.
func (m *Metrics) RecordFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

// RecordFragment records one audio fragment received.
func (m *Metrics) RecordFragment(bytes int) {
	m.CaptureFragments.Inc()
	m.CaptureBytes.Add(float64(bytes))
}

// RecordCaptureFinalized records the duration of a finalized capture.
func (m *Metrics) RecordCaptureFinalized(durationSeconds float64) {
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordDeviceRelease records a device release and the exit path that caused it.
func (m *Metrics) RecordDeviceRelease(reason string) {
	m.DeviceReleases.WithLabelValues(reason).Inc()
}

// RecordUpload records a transcription upload attempt.
func (m *Metrics) RecordUpload(err error, latencySeconds float64) {
	m.UploadLatency.WithLabelValues(outcome(err)).Observe(latencySeconds)
}

// RecordBillingCall records a billing endpoint call (submit or propose).
func (m *Metrics) RecordBillingCall(operation string, err error, latencySeconds float64) {
	m.BillingLatency.WithLabelValues(operation, outcome(err)).Observe(latencySeconds)
}

// RecordSuggestions records how the review seed was resolved.
func (m *Metrics) RecordSuggestions(source, result string) {
	m.SuggestionOutcomes.WithLabelValues(source, result).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStoreOperation records a session store call (save, load or delete).
func (m *Metrics) RecordStoreOperation(operation string, err error, latencySeconds float64) {
	m.StoreLatency.WithLabelValues(operation, outcome(err)).Observe(latencySeconds)
}

// RecordHTTPRequest records a completed API request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latencySeconds)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
