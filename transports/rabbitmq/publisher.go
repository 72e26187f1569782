// Package rabbitmq provides a RabbitMQ-backed event publisher for the
// workflow engine's post-commit domain events.
//
// Events are published to a topic exchange with routing keys of the form
// evt.<EventType>, persistent delivery mode, JSON bodies. Delivery is
// fire-and-forget from the engine's point of view: the Manager logs a
// publish failure and moves on, the committed transaction stands.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/draftline/draftline-go/contracts"
	"github.com/draftline/draftline-go/workflow"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes workflow domain events to a RabbitMQ exchange.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	logger   *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

var _ workflow.EventPublisher = (*Publisher)(nil)

// PublisherOption configures the publisher.
type PublisherOption func(*Publisher)

// WithExchange sets the exchange events are published to.
func WithExchange(exchange string) PublisherOption {
	return func(p *Publisher) {
		if exchange != "" {
			p.exchange = exchange
		}
	}
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher connects to RabbitMQ and declares the event exchange.
func NewPublisher(url string, opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		exchange: "draftline.events",
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	p.conn = conn

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.ch = ch

	p.logger.Info("event publisher connected", "exchange", p.exchange)
	return p, nil
}

// Publish implements workflow.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event contracts.Event) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	routingKey := "evt." + event.GetType()
	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.GetID(),
		Timestamp:    event.GetTimestamp(),
		Type:         event.GetType(),
		Body:         body,
	})
	if err != nil {
		p.invalidate(ch)
		return fmt.Errorf("failed to publish %s: %w", event.GetType(), err)
	}

	p.logger.Debug("event published",
		"eventType", event.GetType(),
		"eventId", event.GetID(),
		"routingKey", routingKey)
	return nil
}

// channel returns the cached channel, reopening it after a failure.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to reopen channel: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) invalidate(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		_ = ch.Close()
		p.ch = nil
	}
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
