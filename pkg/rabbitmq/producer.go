/**
 * @description
 * This package provides the producer side of the AMQP transport. JSON events are published
 * to a topic exchange; settlement and reconciliation documents are sent point-to-point to
 * a named queue, optionally with a reply-to address.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - github.com/google/uuid: For message ids.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueMessage is a document sent directly to a queue.
type QueueMessage struct {
	Body          []byte
	ContentType   string
	ReplyTo       string
	CorrelationID string
}

// Publisher is the interface implemented by types that can publish events and send
// queue messages.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Send(ctx context.Context, queue string, msg QueueMessage) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventProducer{conn: conn, channel: ch, logger: logger.With("component", "rabbitmq_producer")}, nil
}

// Publish sends a JSON event to a durable topic exchange.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		p.logger.Error("json marshal failed", "exchange", exchange, "routing_key", routingKey, "error", err)
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withChannel(func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		return ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	}, "exchange", exchange, "routing_key", routingKey)
}

// Send delivers a document to a durable queue through the default exchange.
func (p *EventProducer) Send(ctx context.Context, queue string, m QueueMessage) error {
	contentType := m.ContentType
	if contentType == "" {
		contentType = "application/xml"
	}
	msg := amqp.Publishing{
		ContentType:   contentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Timestamp:     time.Now(),
		Body:          m.Body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withChannel(func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return err
		}
		return ch.PublishWithContext(ctx, "", queue, false, false, msg)
	}, "queue", queue, "correlation_id", m.CorrelationID)
}

// withChannel runs fn on the current channel and, if it fails, once more on a fresh one.
// Callers hold p.mu.
func (p *EventProducer) withChannel(fn func(*amqp.Channel) error, logAttrs ...any) error {
	err := fn(p.channel)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed; reopening channel", append(logAttrs, "error", err)...)
	if p.conn == nil {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	return fn(p.channel)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
