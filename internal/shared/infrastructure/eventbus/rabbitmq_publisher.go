package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the durable topic exchange all coachpage events flow through.
const ExchangeName = "coachpage.events"

// RabbitMQPublisher publishes persistent JSON messages to ExchangeName.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewRabbitMQPublisher dials url and declares the exchange.
func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, ch, err := dialExchange(url)
	if err != nil {
		return nil, err
	}
	logger.Info("rabbitmq publisher connected", "exchange", ExchangeName)

	return &RabbitMQPublisher{conn: conn, channel: ch, logger: logger}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		p.logger.Error("publish failed", "routing_key", routingKey, "error", err)
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	p.logger.Debug("message published", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.logger.Warn("error closing channel", "error", err)
	}
	return p.conn.Close()
}

// dialExchange opens a connection and channel and declares the topic exchange.
func dialExchange(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}
