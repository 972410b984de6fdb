package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConsumerConfig configures a durable queue bound to ExchangeName.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	Logger    *slog.Logger
}

// RabbitMQConsumer reads one message at a time from its queue. Messages whose
// consumers fail are nacked with requeue so delivery is at-least-once.
type RabbitMQConsumer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	registry *ConsumerRegistry
	logger   *slog.Logger
	running  bool
	closed   chan struct{}
}

func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig) (*RabbitMQConsumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueName == "" {
		return nil, errors.New("rabbitmq consumer: queue name is required")
	}

	conn, ch, err := dialExchange(cfg.URL)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	cfg.Logger.Info("rabbitmq consumer connected", "queue", cfg.QueueName, "exchange", ExchangeName)

	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    cfg.QueueName,
		registry: NewConsumerRegistry(cfg.Logger),
		logger:   cfg.Logger,
		closed:   make(chan struct{}),
	}, nil
}

// RegisterConsumer binds the queue to each routing key the consumer handles.
func (c *RabbitMQConsumer) RegisterConsumer(consumer EventConsumer) {
	c.registry.Register(consumer)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range consumer.EventTypes() {
		if err := c.channel.QueueBind(c.queue, key, ExchangeName, false, nil); err != nil {
			c.logger.Error("queue bind failed", "queue", c.queue, "routing_key", key, "error", err)
		}
	}
}

func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("rabbitmq consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("consuming events", "queue", c.queue, "routing_keys", c.registry.RoutingKeys())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *RabbitMQConsumer) deliver(ctx context.Context, msg amqp.Delivery) {
	event, err := decodeEnvelope(msg.Body, msg.RoutingKey)
	if err != nil {
		// A message that cannot be decoded will never succeed; drop it.
		c.logger.Error("discarding undecodable message", "routing_key", msg.RoutingKey, "error", err)
		_ = msg.Ack(false)
		return
	}

	start := time.Now()
	if err := c.registry.Dispatch(handlerContext(ctx, event), event); err != nil {
		c.logger.Error("event handling failed, requeueing",
			"routing_key", event.RoutingKey,
			"event_id", event.EventID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logger.Error("nack failed", "error", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("ack failed", "error", err)
	}
}

func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	c.running = false
	if err := c.channel.Close(); err != nil {
		c.logger.Warn("error closing channel", "error", err)
	}
	return c.conn.Close()
}
