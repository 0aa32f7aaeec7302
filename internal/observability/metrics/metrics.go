// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_fraud_guard"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Socket metrics
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	ConnectionDuration prometheus.Histogram

	// Media session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	FramesDiscarded     *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	FragmentsScored    prometheus.Counter
	FragmentsSkipped   prometheus.Counter

	// Scoring metrics
	ScoringRequests *prometheus.CounterVec
	ScoringLatency  *prometheus.HistogramVec
	ScoringInFlight prometheus.Gauge
	FraudAlerts     *prometheus.CounterVec

	// Control channel metrics
	ControlConnected prometheus.Gauge
	ControlSends     *prometheus.CounterVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of media/control websocket connections accepted",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open media/control websocket connections",
		}),
		ConnectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of websocket connections in seconds",
			Buckets:   []float64{1, 5, 30, 60, 120, 300, 600, 1200},
		}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_sessions_started_total",
			Help:      "Total number of media sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_sessions_ended_total",
			Help:      "Total number of media sessions ended",
		}, []string{"reason"}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total compressed audio bytes received",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total media frames applied to a transcription session",
		}),
		FramesDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Total inbound frames discarded",
		}, []string{"reason"}),

		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of in-progress transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),
		FragmentsScored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_dispatched_total",
			Help:      "Total transcript fragments dispatched for scoring",
		}),
		FragmentsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_skipped_total",
			Help:      "Total transcript fragments below the significance threshold",
		}),

		ScoringRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_requests_total",
			Help:      "Total scoring requests by channel and outcome",
		}, []string{"channel", "outcome"}),
		ScoringLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_latency_seconds",
			Help:      "Scoring service round trip in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"channel"}),
		ScoringInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scoring_in_flight",
			Help:      "Scoring requests currently in flight",
		}),
		FraudAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_alerts_total",
			Help:      "Total fragments scored above the fraud threshold",
		}, []string{"channel"}),

		ControlConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_connected",
			Help:      "1 when a companion control connection is registered",
		}),
		ControlSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_sends_total",
			Help:      "Control events sent to the companion app",
		}, []string{"event", "outcome"}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

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

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordConnectionStart records a new socket.
func (m *Metrics) RecordConnectionStart() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionEnd records a socket closing.
func (m *Metrics) RecordConnectionEnd(durationSeconds float64) {
	m.ConnectionsActive.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordSessionStart records a media session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
}

// RecordSessionEnd records a media session ending.
func (m *Metrics) RecordSessionEnd(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records one applied media frame.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameDiscarded records an inbound frame that was dropped.
func (m *Metrics) RecordFrameDiscarded(reason string) {
	m.FramesDiscarded.WithLabelValues(reason).Inc()
}

// RecordPartialTranscript records an in-progress transcript.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordFragment records whether a fragment went to scoring.
func (m *Metrics) RecordFragment(dispatched bool) {
	if dispatched {
		m.FragmentsScored.Inc()
	} else {
		m.FragmentsSkipped.Inc()
	}
}

// RecordScoring records one scoring round trip.
func (m *Metrics) RecordScoring(channel string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ScoringRequests.WithLabelValues(channel, outcome).Inc()
	m.ScoringLatency.WithLabelValues(channel).Observe(latencySeconds)
}

// RecordFraudAlert records a fragment above threshold.
func (m *Metrics) RecordFraudAlert(channel string) {
	m.FraudAlerts.WithLabelValues(channel).Inc()
}

// RecordControlSend records a control event delivery attempt.
func (m *Metrics) RecordControlSend(event string, delivered bool) {
	outcome := "sent"
	if !delivered {
		outcome = "dropped"
	}
	m.ControlSends.WithLabelValues(event, outcome).Inc()
}

// SetControlConnected records whether a companion connection is registered.
func (m *Metrics) SetControlConnected(connected bool) {
	if connected {
		m.ControlConnected.Set(1)
	} else {
		m.ControlConnected.Set(0)
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latencySeconds)
}
