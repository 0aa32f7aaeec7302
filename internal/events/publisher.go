// Package events publishes fraud scoring audit events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-fraud-guard/internal/observability/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicScore string
	TopicAlert string
	Principal  string
	Enabled    bool
	// Metrics defaults to metrics.DefaultMetrics.
	Metrics *metrics.Metrics
}

// stream is one audit topic. w is nil in log-only mode.
type stream struct {
	w         *kafka.Writer
	topic     string
	eventType string
}

// Publisher writes score and alert audit events, keyed by media session id,
// to separate topics. Without brokers it only logs.
type Publisher struct {
	score     stream
	alert     stream
	principal string
	metrics   *metrics.Metrics
}

// New creates a publisher. A nil config, Enabled false or an empty broker
// list selects log-only mode.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	p := &Publisher{
		score:     stream{topic: cfg.TopicScore, eventType: "scored"},
		alert:     stream{topic: cfg.TopicAlert, eventType: "alert"},
		principal: cfg.Principal,
		metrics:   m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, audit events are logged only")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	transport := &kafka.Transport{
		Dial: (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
	}
	// Scores are high volume and only audited, so they go out async with a
	// single ack. Alerts wait for the full ISR.
	p.score.w = newWriter(cfg.Brokers, cfg.TopicScore, kafka.RequireOne, true, transport)
	p.alert.w = newWriter(cfg.Brokers, cfg.TopicAlert, kafka.RequireAll, false, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicScore", cfg.TopicScore).
		Str("topicAlert", cfg.TopicAlert).
		Str("principal", cfg.Principal).
		Msg("Kafka audit publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, acks kafka.RequiredAcks, async bool, t *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: acks,
		Async:        async,
		Transport:    t,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.score.w != nil
}

// PublishScore publishes a scored fragment.
func (p *Publisher) PublishScore(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.score, key, event)
}

// PublishAlert publishes a raised fraud alert.
func (p *Publisher) PublishAlert(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.alert, key, event)
}

func (p *Publisher) publish(ctx context.Context, s stream, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", s.topic).Msg("Failed to marshal audit event")
		return err
	}

	log.Debug().
		Str("topic", s.topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Audit event")

	if s.w != nil {
		err = s.w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "eventType", Value: []byte(s.eventType)},
				{Key: "principal", Value: []byte(p.principal)},
			},
		})
		if err != nil {
			log.Error().Err(err).Str("topic", s.topic).Str("key", key).Msg("Failed to write audit event to Kafka")
		}
	}
	p.metrics.RecordKafkaPublish(s.topic, s.eventType, err, time.Since(start).Seconds())
	return err
}

// Close flushes pending async writes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, s := range []stream{p.score, p.alert} {
		if s.w == nil {
			continue
		}
		if err := s.w.Close(); err != nil {
			log.Error().Err(err).Str("topic", s.topic).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
