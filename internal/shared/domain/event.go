// Package domain holds the event primitives shared by bounded contexts.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact announced after a write has committed.
type DomainEvent interface {
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	AggregateType() string
	RoutingKey() string
	OccurredAt() time.Time
	Metadata() EventMetadata
}

// StampedEvent is a DomainEvent whose tracing context is filled in by the
// publisher.
type StampedEvent interface {
	DomainEvent
	SetMetadata(EventMetadata)
}

// EventMetadata ties an event to the request that caused it.
type EventMetadata struct {
	CorrelationID string
	CausationID   string
	UserID        uuid.UUID
}

// BaseEvent is embedded by concrete events.
type BaseEvent struct {
	id         uuid.UUID
	aggregate  uuid.UUID
	kind       string
	routingKey string
	occurredAt time.Time
	metadata   EventMetadata
}

// NewEvent stamps a fresh id. occurredAt is normalised to UTC, and the zero
// time means now.
func NewEvent(aggregateID uuid.UUID, aggregateType, routingKey string, occurredAt time.Time) BaseEvent {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return BaseEvent{
		id:         uuid.New(),
		aggregate:  aggregateID,
		kind:       aggregateType,
		routingKey: routingKey,
		occurredAt: occurredAt.UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID      { return e.id }
func (e BaseEvent) AggregateID() uuid.UUID  { return e.aggregate }
func (e BaseEvent) AggregateType() string   { return e.kind }
func (e BaseEvent) RoutingKey() string      { return e.routingKey }
func (e BaseEvent) OccurredAt() time.Time   { return e.occurredAt }
func (e BaseEvent) Metadata() EventMetadata { return e.metadata }

func (e *BaseEvent) SetMetadata(metadata EventMetadata) {
	e.metadata = metadata
}
