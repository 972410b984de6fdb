package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ConsumerRegistry routes events to consumers by routing key.
type ConsumerRegistry struct {
	mu        sync.RWMutex
	consumers map[string][]EventConsumer
	logger    *slog.Logger
}

func NewConsumerRegistry(logger *slog.Logger) *ConsumerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerRegistry{
		consumers: make(map[string][]EventConsumer),
		logger:    logger,
	}
}

func (r *ConsumerRegistry) Register(consumer EventConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range consumer.EventTypes() {
		r.consumers[key] = append(r.consumers[key], consumer)
		r.logger.Debug("registered event consumer", "routing_key", key)
	}
}

func (r *ConsumerRegistry) GetConsumers(routingKey string) []EventConsumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumers[routingKey]
}

// RoutingKeys lists every key with at least one consumer, sorted.
func (r *ConsumerRegistry) RoutingKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.consumers))
	for k := range r.consumers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dispatch hands event to every matching consumer. All consumers run even
// when one fails; the joined errors are returned so the broker redelivers.
func (r *ConsumerRegistry) Dispatch(ctx context.Context, event *ConsumedEvent) error {
	consumers := r.GetConsumers(event.RoutingKey)
	if len(consumers) == 0 {
		r.logger.Debug("no consumers for routing key", "routing_key", event.RoutingKey)
		return nil
	}

	var errs []error
	for _, c := range consumers {
		if err := c.Handle(ctx, event); err != nil {
			r.logger.Error("consumer failed",
				"routing_key", event.RoutingKey,
				"event_id", event.EventID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
