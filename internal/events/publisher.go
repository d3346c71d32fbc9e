// Package events publishes workflow transitions and audit records.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/metrics"
)

// Default topic names.
const (
	TopicTransitions = "intake.workflow.transition"
	TopicAudit       = "intake.audit"
)

// Publisher publishes transition and audit events to separate Kafka topics.
// With Kafka disabled it only logs.
type Publisher struct {
	writerTransitions *kafka.Writer
	writerAudit       *kafka.Writer
	principal         string
	topicTransitions  string
	topicAudit        string
	enabled           bool
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicTransitions string
	TopicAudit       string
	Principal        string
	Enabled          bool
}

// New creates a publisher. A nil config, Enabled=false or an empty broker
// list yields a log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			topicTransitions: TopicTransitions,
			topicAudit:       TopicAudit,
			metrics:          m,
		}
	}

	topicTransitions := cfg.TopicTransitions
	if topicTransitions == "" {
		topicTransitions = TopicTransitions
	}
	topicAudit := cfg.TopicAudit
	if topicAudit == "" {
		topicAudit = TopicAudit
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:        cfg.Principal,
			topicTransitions: topicTransitions,
			topicAudit:       topicAudit,
			metrics:          m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTransitions", topicTransitions).
		Str("topicAudit", topicAudit).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTransitions: newWriter(cfg.Brokers, topicTransitions, transport),
		writerAudit:       newWriter(cfg.Brokers, topicAudit, transport),
		principal:         cfg.Principal,
		topicTransitions:  topicTransitions,
		topicAudit:        topicAudit,
		enabled:           true,
		metrics:           m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishTransition publishes a workflow state change keyed by session ID.
func (p *Publisher) PublishTransition(ctx context.Context, event models.TransitionEvent) error {
	return p.publish(ctx, p.writerTransitions, p.topicTransitions, event.EventType, event.SessionID, event)
}

// PublishAudit publishes an audit record keyed by session ID.
func (p *Publisher) PublishAudit(ctx context.Context, event models.AuditEvent) error {
	return p.publish(ctx, p.writerAudit, p.topicAudit, event.EventType, event.SessionID, event)
}

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

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
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
	if p.writerTransitions != nil {
		if e := p.writerTransitions.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transition writer")
			err = e
		}
	}
	if p.writerAudit != nil {
		if e := p.writerAudit.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing audit writer")
			err = e
		}
	}
	return err
}
