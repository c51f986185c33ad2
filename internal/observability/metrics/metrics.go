// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recording_ingress"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Webhook metrics
	WebhookEventsTotal   *prometheus.CounterVec
	WebhookInvalidTotal  prometheus.Counter
	WebhookDroppedTotal  *prometheus.CounterVec
	EventProcessDuration *prometheus.HistogramVec
	EventsInFlight       prometheus.Gauge

	// Resolver metrics
	ResolverAttempts       *prometheus.CounterVec
	ResolverExhausted      *prometheus.CounterVec
	ResolverDuration       *prometheus.HistogramVec
	TranscriptFetchesTotal prometheus.Counter
	TranscriptFetchErrors  prometheus.Counter

	// Fragment metrics
	FragmentsPersisted prometheus.Counter
	FragmentsDeduped   prometheus.Counter
	FragmentsDiscarded prometheus.Counter

	// Relay metrics
	RelayConnectionsActive prometheus.Gauge
	RelayPublishTotal      prometheus.Counter
	RelayDeliveriesTotal   prometheus.Counter
	RelayDeliveryErrors    prometheus.Counter
	RelayPushTotal         prometheus.Counter
	RelayPushErrors        prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Store metrics
	StoreErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Webhook metrics
		WebhookEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of lifecycle events received, by kind",
		}, []string{"event"}),
		WebhookInvalidTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_invalid_total",
			Help:      "Total number of webhook requests rejected as malformed",
		}),
		WebhookDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dropped_total",
			Help:      "Total number of events dropped for missing correlation data",
		}, []string{"event", "reason"}),
		EventProcessDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_process_duration_seconds",
			Help:      "Duration of post-acknowledgment event processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"event"}),
		EventsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_in_flight",
			Help:      "Number of events currently being processed",
		}),

		// Resolver metrics
		ResolverAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_attempts_total",
			Help:      "Total number of remote resolution attempts",
		}, []string{"kind"}),
		ResolverExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_exhausted_total",
			Help:      "Total number of resolutions that exhausted their retry budget",
		}, []string{"kind"}),
		ResolverDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_duration_seconds",
			Help:      "Duration of remote resolutions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 3, 10, 30, 60, 120},
		}, []string{"kind"}),
		TranscriptFetchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fetches_total",
			Help:      "Total number of full transcript fetches",
		}),
		TranscriptFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fetch_errors_total",
			Help:      "Total number of failed full transcript fetches",
		}),

		// Fragment metrics
		FragmentsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_persisted_total",
			Help:      "Total number of transcript fragments persisted",
		}),
		FragmentsDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_deduped_total",
			Help:      "Total number of duplicate fragments skipped",
		}),
		FragmentsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_discarded_total",
			Help:      "Total number of fragments discarded for empty text",
		}),

		// Relay metrics
		RelayConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections_active",
			Help:      "Number of currently open relay subscriber connections",
		}),
		RelayPublishTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_total",
			Help:      "Total number of publish calls handled by the relay",
		}),
		RelayDeliveriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_deliveries_total",
			Help:      "Total number of messages delivered to subscribers",
		}),
		RelayDeliveryErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_delivery_errors_total",
			Help:      "Total number of skipped or failed subscriber deliveries",
		}),
		RelayPushTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_push_total",
			Help:      "Total number of pushes from the dispatcher to the relay",
		}),
		RelayPushErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_push_errors_total",
			Help:      "Total number of failed pushes from the dispatcher to the relay",
		}),

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

		// Store metrics
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of store read/write errors",
		}, []string{"op"}),
	}
}

// RecordWebhookEvent records a received lifecycle event.
func (m *Metrics) RecordWebhookEvent(event string) {
	m.WebhookEventsTotal.WithLabelValues(event).Inc()
}

// RecordWebhookInvalid records a malformed webhook request.
func (m *Metrics) RecordWebhookInvalid() {
	m.WebhookInvalidTotal.Inc()
}

// RecordEventDropped records an event dropped for missing correlation data.
func (m *Metrics) RecordEventDropped(event, reason string) {
	m.WebhookDroppedTotal.WithLabelValues(event, reason).Inc()
}

// RecordEventStart records the start of post-acknowledgment processing.
func (m *Metrics) RecordEventStart() {
	m.EventsInFlight.Inc()
}

// RecordEventEnd records the end of post-acknowledgment processing.
func (m *Metrics) RecordEventEnd(event string, durationSeconds float64) {
	m.EventsInFlight.Dec()
	m.EventProcessDuration.WithLabelValues(event).Observe(durationSeconds)
}

// RecordResolverAttempt records one remote resolution attempt.
func (m *Metrics) RecordResolverAttempt(kind string) {
	m.ResolverAttempts.WithLabelValues(kind).Inc()
}

// RecordResolverExhausted records a resolution that ran out of attempts.
func (m *Metrics) RecordResolverExhausted(kind string) {
	m.ResolverExhausted.WithLabelValues(kind).Inc()
}

// RecordResolverDuration records how long a resolution took.
func (m *Metrics) RecordResolverDuration(kind string, seconds float64) {
	m.ResolverDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordTranscriptFetch records a full transcript fetch.
func (m *Metrics) RecordTranscriptFetch(err error) {
	m.TranscriptFetchesTotal.Inc()
	if err != nil {
		m.TranscriptFetchErrors.Inc()
	}
}

// RecordFragmentPersisted records a newly persisted fragment.
func (m *Metrics) RecordFragmentPersisted() {
	m.FragmentsPersisted.Inc()
}

// RecordFragmentDeduped records a duplicate fragment skip.
func (m *Metrics) RecordFragmentDeduped() {
	m.FragmentsDeduped.Inc()
}

// RecordFragmentDiscarded records a fragment discarded for empty text.
func (m *Metrics) RecordFragmentDiscarded() {
	m.FragmentsDiscarded.Inc()
}

// RecordRelayConnect records a new subscriber connection.
func (m *Metrics) RecordRelayConnect() {
	m.RelayConnectionsActive.Inc()
}

// RecordRelayDisconnect records a subscriber connection closing.
func (m *Metrics) RecordRelayDisconnect() {
	m.RelayConnectionsActive.Dec()
}

// RecordRelayPublish records a publish call and its delivery outcomes.
func (m *Metrics) RecordRelayPublish(delivered, skipped int) {
	m.RelayPublishTotal.Inc()
	m.RelayDeliveriesTotal.Add(float64(delivered))
	m.RelayDeliveryErrors.Add(float64(skipped))
}

// RecordRelayPush records a dispatcher-to-relay push attempt.
func (m *Metrics) RecordRelayPush(err error) {
	m.RelayPushTotal.Inc()
	if err != nil {
		m.RelayPushErrors.Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStoreError records a store read/write failure.
func (m *Metrics) RecordStoreError(op string) {
	m.StoreErrors.WithLabelValues(op).Inc()
}
