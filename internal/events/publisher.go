// Package events provides integration-event publishing to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"recording-ingress-service/internal/observability/metrics"
)

// Publisher publishes persisted-fragment and session-update events to
// separate Kafka topics. When disabled it degrades to log-only mode;
// callers treat every publish as best-effort.
type Publisher struct {
	writerFragment *kafka.Writer
	writerSession  *kafka.Writer
	principal      string
	topicFragment  string
	topicSession   string
	enabled        bool
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicFragment string
	TopicSession  string
	Principal     string
	Enabled       bool
}

// New creates a new Kafka event publisher with separate topics for
// transcript fragments and session updates.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicFragment: cfg.TopicFragment,
			topicSession:  cfg.TopicSession,
			enabled:       false,
			metrics:       m,
		}
	}

	// Custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerFragment := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFragment,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerSession := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSession,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicFragment", cfg.TopicFragment).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerFragment: writerFragment,
		writerSession:  writerSession,
		principal:      cfg.Principal,
		topicFragment:  cfg.TopicFragment,
		topicSession:   cfg.TopicSession,
		enabled:        true,
		metrics:        m,
	}
}

// PublishFragment publishes a persisted-fragment event keyed by session.
func (p *Publisher) PublishFragment(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFragment, p.topicFragment, "fragment", key, event)
}

// PublishSessionUpdate publishes a session-update event keyed by session.
func (p *Publisher) PublishSessionUpdate(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerSession, p.topicSession, "session", key, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerFragment != nil {
		if e := p.writerFragment.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing fragment writer")
			err = e
		}
	}
	if p.writerSession != nil {
		if e := p.writerSession.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing session writer")
			err = e
		}
	}
	return err
}
