// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsComplete prometheus.Counter
	SessionsFailed   prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Ingest metrics
	FragmentsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	FragmentsRejected prometheus.Counter

	// Segment metrics
	SegmentsSealed    prometheus.Counter
	SegmentsDiscarded *prometheus.CounterVec
	ExtractionErrors  *prometheus.CounterVec
	ExtractionLatency prometheus.Histogram

	// Inference gate metrics
	GateInFlight     prometheus.Gauge
	GateWaiting      prometheus.Gauge
	GateWaitLatency  prometheus.Histogram
	InferenceLatency *prometheus.HistogramVec
	InferenceErrors  *prometheus.CounterVec

	// Transcript metrics
	PiecesRecorded  *prometheus.CounterVec
	FinalizeOutcome *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// WebSocket transport metrics
	WSConnectionsActive prometheus.Gauge
	WSCloses            *prometheus.CounterVec

	// gRPC metrics
	RPCStreamsActive prometheus.Gauge
	RPCCalls         *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
// It registers with the default registry, so call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live sessions opened",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions not yet finalized",
		}),
		SessionsComplete: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_complete_total",
			Help:      "Total number of sessions that reached complete",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended in error",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration from open to finalize",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),

		// Ingest metrics
		FragmentsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_received_total",
			Help:      "Total audio fragments accepted",
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes accepted",
		}),
		FragmentsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_rejected_total",
			Help:      "Fragments rejected because the session was closed",
		}),

		// Segment metrics
		SegmentsSealed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sealed_total",
			Help:      "Total number of segments sealed",
		}),
		SegmentsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Terminal segments discarded before extraction",
		}, []string{"reason"}),
		ExtractionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_errors_total",
			Help:      "Segments whose extraction failed",
		}, []string{"reason"}),
		ExtractionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_latency_seconds",
			Help:      "Time spent converting a segment to a waveform",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		// Inference gate metrics
		GateInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_in_flight",
			Help:      "Inference calls currently holding a gate permit",
		}),
		GateWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_waiting",
			Help:      "Segments waiting for a gate permit",
		}),
		GateWaitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_gate_wait_seconds",
			Help:      "Time spent waiting for a gate permit",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
		}),
		InferenceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Speech-to-text latency per segment",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"engine"}),
		InferenceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Total number of failed inference calls",
		}, []string{"engine", "error_type"}),

		// Transcript metrics
		PiecesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pieces_recorded_total",
			Help:      "Transcript pieces recorded by outcome",
		}, []string{"outcome"}),
		FinalizeOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Finalize calls by outcome",
		}, []string{"outcome"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// WebSocket transport metrics
		WSConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of open audio WebSocket connections",
		}),
		WSCloses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_closes_total",
			Help:      "Audio WebSocket connections closed, by outcome",
		}, []string{"outcome"}),

		// gRPC metrics
		RPCStreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of open gRPC streams (health watchers)",
		}),
		RPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "gRPC calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(complete bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if complete {
		m.SessionsComplete.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
}

// RecordFragment records an accepted fragment.
func (m *Metrics) RecordFragment(bytes int) {
	m.FragmentsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordFragmentRejected records a fragment refused after session close.
func (m *Metrics) RecordFragmentRejected() {
	m.FragmentsRejected.Inc()
}

// RecordSegmentSealed records a sealed segment.
func (m *Metrics) RecordSegmentSealed() {
	m.SegmentsSealed.Inc()
}

// RecordSegmentDiscarded records a terminal segment that was not submitted.
func (m *Metrics) RecordSegmentDiscarded(reason string) {
	m.SegmentsDiscarded.WithLabelValues(reason).Inc()
}

// RecordExtraction records the outcome of one extraction.
func (m *Metrics) RecordExtraction(reason string, latencySeconds float64) {
	m.ExtractionLatency.Observe(latencySeconds)
	if reason != "" {
		m.ExtractionErrors.WithLabelValues(reason).Inc()
	}
}

// RecordInference records one engine call.
func (m *Metrics) RecordInference(engine string, err error, latencySeconds float64) {
	m.InferenceLatency.WithLabelValues(engine).Observe(latencySeconds)
	if err != nil {
		m.InferenceErrors.WithLabelValues(engine, "engine").Inc()
	}
}

// RecordInferenceTimeout records an engine call that hit its deadline.
func (m *Metrics) RecordInferenceTimeout(engine string) {
	m.InferenceErrors.WithLabelValues(engine, "timeout").Inc()
}

// RecordPiece records a transcript piece by outcome.
func (m *Metrics) RecordPiece(ok bool) {
	if ok {
		m.PiecesRecorded.WithLabelValues("ok").Inc()
		return
	}
	m.PiecesRecorded.WithLabelValues("failed").Inc()
}

// RecordFinalize records a finalize outcome ("complete", "incomplete").
func (m *Metrics) RecordFinalize(outcome string) {
	m.FinalizeOutcome.WithLabelValues(outcome).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRPC records a completed gRPC call.
func (m *Metrics) RecordRPC(method, code string) {
	m.RPCCalls.WithLabelValues(method, code).Inc()
}

// RecordConnectionOpen records a newly upgraded WebSocket connection.
func (m *Metrics) RecordConnectionOpen() {
	m.WSConnectionsActive.Inc()
}

// RecordConnectionClose records a WebSocket connection closing.
// outcome is one of "end", "abort", "unauthorized" or "rejected".
func (m *Metrics) RecordConnectionClose(outcome string) {
	m.WSConnectionsActive.Dec()
	m.WSCloses.WithLabelValues(outcome).Inc()
}
