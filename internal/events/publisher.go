// Package events publishes session events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/metrics"
)

// Event kinds, one topic each.
const (
	KindPartial = "partial"
	KindFinal   = "final"
	KindError   = "error"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// route binds an event kind to its topic and writer. writer is nil in
// log-only mode.
type route struct {
	kind   string
	topic  string
	writer MessageWriter
}

// Publisher publishes session events to separate Kafka topics: one for
// per-segment pieces, one for final transcripts and one for session errors.
// Every message is keyed by session ID so a session's events stay ordered
// within one partition.
type Publisher struct {
	routes    map[string]*route
	principal string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	TopicError   string
	Principal    string
	Enabled      bool
}

func (c *Config) topics() map[string]string {
	return map[string]string{
		KindPartial: c.TopicPartial,
		KindFinal:   c.TopicFinal,
		KindError:   c.TopicError,
	}
}

// New creates a new Kafka event publisher. Without brokers, or when
// disabled, events are only logged.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return newPublisher(cfg, false, func(string) MessageWriter { return nil })
	}

	// Custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial:     dialer.DialFunc,
		ClientID: cfg.Principal,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicError", cfg.TopicError).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return newPublisher(cfg, true, func(topic string) MessageWriter {
		return newWriter(cfg.Brokers, topic, transport)
	})
}

// NewWithWriters builds an enabled publisher over caller-supplied writers,
// keyed by event kind.
func NewWithWriters(cfg *Config, writers map[string]MessageWriter) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	return newPublisher(cfg, true, func(topic string) MessageWriter {
		for kind, t := range cfg.topics() {
			if t == topic {
				return writers[kind]
			}
		}
		return nil
	})
}

func newPublisher(cfg *Config, enabled bool, writerFor func(topic string) MessageWriter) *Publisher {
	p := &Publisher{
		routes:    make(map[string]*route, 3),
		principal: cfg.Principal,
		enabled:   enabled,
		metrics:   metrics.DefaultMetrics,
	}
	for kind, topic := range cfg.topics() {
		r := &route{kind: kind, topic: topic}
		if enabled && topic != "" {
			r.writer = writerFor(topic)
		}
		p.routes[kind] = r
	}
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // one session, one partition
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  5,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Lz4, // hour-long final transcripts compress well
		Transport:    transport,
	}
}

// PublishPartial publishes a per-segment piece event to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, KindPartial, key, event)
}

// PublishFinal publishes a final transcript event to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, KindFinal, key, event)
}

// PublishError publishes a session error event to the error topic.
func (p *Publisher) PublishError(ctx context.Context, key string, event any) error {
	return p.publish(ctx, KindError, key, event)
}

func (p *Publisher) publish(ctx context.Context, kind, key string, event any) error {
	start := time.Now()
	r := p.routes[kind]

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", r.topic).Msg("Failed to marshal event")
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	eventType := eventTypeOf(event, kind)

	log.Debug().
		Str("principal", p.principal).
		Str("topic", r.topic).
		Str("key", key).
		Str("eventType", eventType).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// Log-only mode
	if r.writer == nil {
		p.metrics.RecordKafkaPublish(r.topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  start,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "sessionId", Value: []byte(key)},
			{Key: "principal", Value: []byte(p.principal)},
			{Key: "contentType", Value: []byte("application/json")},
		},
	}

	err = r.writer.WriteMessages(ctx, msg)
	p.metrics.RecordKafkaPublish(r.topic, eventType, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", r.topic).
			Str("key", key).
			Str("eventType", eventType).
			Msg("Failed to write to Kafka")
		return fmt.Errorf("publish %s to %s: %w", eventType, r.topic, err)
	}
	return nil
}

// eventTypeOf returns the eventType carried by the known event models and
// falls back to the route kind for anything else.
func eventTypeOf(event any, kind string) string {
	switch e := event.(type) {
	case models.TranscriptPiece:
		return e.EventType
	case *models.TranscriptPiece:
		return e.EventType
	case models.FinalTranscript:
		return e.EventType
	case *models.FinalTranscript:
		return e.EventType
	case models.SessionError:
		return e.EventType
	case *models.SessionError:
		return e.EventType
	}
	return kind
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Topic returns the topic configured for an event kind.
func (p *Publisher) Topic(kind string) string {
	if r, ok := p.routes[kind]; ok {
		return r.topic
	}
	return ""
}

// Close flushes and closes every Kafka writer.
func (p *Publisher) Close() error {
	var errs []error
	for _, r := range p.routes {
		if r.writer == nil {
			continue
		}
		if err := r.writer.Close(); err != nil {
			log.Error().Err(err).Str("topic", r.topic).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
