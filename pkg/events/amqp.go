package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange lifecycle events are published to.
// The routing key is the event name.
const DefaultExchange = "ex.leadguard.events"

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	now      func() time.Time
}

// NewAMQPPublisher dials url, opens a channel and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed opening channel: %w", err)
	}

	p, err := NewAMQPPublisherWithChannel(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisherWithChannel declares the exchange on an open channel.
func NewAMQPPublisherWithChannel(ch Channel, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed declaring exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, now: time.Now}, nil
}

// Publish sends a persistent JSON message routed by event name.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	at := p.now()
	body, err := Marshal(e, at)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		e.EventName(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    at,
			Type:         e.EventName(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed publishing to rabbitmq: %w", err)
	}
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
