// Package kafka mirrors recorded performance events onto the audit stream.
// Publishing is best-effort by contract: the tracker logs a failed publish
// and carries on.
package kafka

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
)

// writerInterface abstracts kafka.Writer for testing.
type writerInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher implements tracking.EventPublisher on a kafka topic.
// Events are keyed by test id so all events of one test land on the same
// partition in order.
type EventPublisher struct {
	writer writerInterface
	topic  string
	logger logging.Logger
	closed atomic.Bool

	published atomic.Int64
	failed    atomic.Int64
}

// NewEventPublisher builds a publisher from config.  An empty broker list
// disables publishing: the returned publisher is nil and callers fall back
// to a nop.
func NewEventPublisher(cfg config.KafkaConfig, logger logging.Logger) *EventPublisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.ProducerRetries,
		BatchSize:    cfg.BatchSize,
		WriteTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &EventPublisher{
		writer: writer,
		topic:  cfg.EventsTopic,
		logger: logger.Named("event_publisher"),
	}
}

// newEventPublisherWithWriter is the test constructor.
func newEventPublisherWithWriter(w writerInterface, topic string, logger logging.Logger) *EventPublisher {
	return &EventPublisher{writer: w, topic: topic, logger: logger}
}

// Publish sends one event to the audit topic.
func (p *EventPublisher) Publish(ctx context.Context, event *tracking.PerformanceEvent) error {
	if p.closed.Load() {
		return errors.New(errors.ErrCodeMessagingError, "event publisher closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal performance event")
	}

	msg := kafka.Message{
		Key:   []byte(event.TestID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		return errors.Wrap(err, errors.ErrCodeMessagingError, "publish performance event").
			WithDetail(p.topic)
	}
	p.published.Add(1)
	return nil
}

// Stats returns the publish counters.
func (p *EventPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes and closes the underlying writer.  Safe to call more than
// once; Publish after Close returns an error.
func (p *EventPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
