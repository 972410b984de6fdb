package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// ErrNoPayload is returned by Decode for envelopes without a payload.
var ErrNoPayload = errors.New("event has no payload")

// EventConsumer handles the routing keys it declares.
type EventConsumer interface {
	EventTypes() []string
	Handle(ctx context.Context, event *ConsumedEvent) error
}

// Consumer receives events from a broker and dispatches them to registered
// EventConsumers.
type Consumer interface {
	// Start blocks until ctx is done or the consumer is closed.
	Start(ctx context.Context) error
	RegisterConsumer(consumer EventConsumer)
	Close() error
}

// ConsumedEvent is the wire envelope of every message on the bus.
type ConsumedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	RoutingKey    string          `json:"routing_key"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      EventMetadata   `json:"metadata,omitempty"`
}

type EventMetadata struct {
	UserID        uuid.UUID `json:"user_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
}

// Decode unmarshals the payload into v.
func (e *ConsumedEvent) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return ErrNoPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.RoutingKey, err)
	}
	return nil
}

// decodeEnvelope parses a message body. deliveredKey fills in a missing
// routing key.
func decodeEnvelope(body []byte, deliveredKey string) (*ConsumedEvent, error) {
	event := &ConsumedEvent{}
	if err := json.Unmarshal(body, event); err != nil {
		return nil, err
	}
	if event.RoutingKey == "" {
		event.RoutingKey = deliveredKey
	}
	return event, nil
}

// handlerContext carries the publisher's correlation id into the handlers so
// their log lines join the originating request.
func handlerContext(ctx context.Context, event *ConsumedEvent) context.Context {
	if event.Metadata.CorrelationID == "" {
		return ctx
	}
	return observability.WithCorrelationID(ctx, event.Metadata.CorrelationID)
}
