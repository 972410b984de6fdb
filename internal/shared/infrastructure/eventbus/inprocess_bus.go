package eventbus

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// InProcessEventBus delivers events synchronously inside Publish. Local mode
// uses it as both Publisher and Consumer in place of RabbitMQ.
type InProcessEventBus struct {
	registry  *ConsumerRegistry
	logger    *slog.Logger
	delivered atomic.Int64
	failed    atomic.Int64
}

func NewInProcessEventBus(logger *slog.Logger) *InProcessEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessEventBus{
		registry: NewConsumerRegistry(logger),
		logger:   logger.With("bus", "inprocess"),
	}
}

func (b *InProcessEventBus) RegisterConsumer(consumer EventConsumer) {
	b.registry.Register(consumer)
}

// Publish dispatches the envelope before returning. A consumer error goes
// back to the publisher since there is no queue to redeliver from.
func (b *InProcessEventBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	event, err := decodeEnvelope(payload, routingKey)
	if err != nil {
		b.logger.Error("discarding undecodable event", "routing_key", routingKey, "error", err)
		return nil
	}

	if err := b.registry.Dispatch(handlerContext(ctx, event), event); err != nil {
		b.failed.Add(1)
		return err
	}
	b.delivered.Add(1)
	return nil
}

// Stats reports how many dispatches succeeded and failed.
func (b *InProcessEventBus) Stats() (delivered, failed int64) {
	return b.delivered.Load(), b.failed.Load()
}

// Start blocks until ctx is done.
func (b *InProcessEventBus) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *InProcessEventBus) Close() error { return nil }
