package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/coachpage/internal/shared/domain"
)

// Publisher sends encoded events to a broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Encode wraps a domain event in the envelope consumers decode as ConsumedEvent.
func Encode(event domain.DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.RoutingKey(), err)
	}
	meta := event.Metadata()
	return json.Marshal(ConsumedEvent{
		EventID:       event.EventID(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		RoutingKey:    event.RoutingKey(),
		OccurredAt:    event.OccurredAt(),
		Payload:       payload,
		Metadata: EventMetadata{
			UserID:        meta.UserID,
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
		},
	})
}

// PublishEvent encodes and publishes one domain event.
func PublishEvent(ctx context.Context, pub Publisher, event domain.DomainEvent) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, event.RoutingKey(), body)
}

// NoopPublisher drops every message. Used when no broker is configured.
type NoopPublisher struct {
	logger *slog.Logger
}

func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("noop publish", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
