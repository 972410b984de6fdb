package application

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/eventbus"
)

func TestIdentityConsumer_GrantsTrialOnce(t *testing.T) {
	env := newTestEnv(t, 0)
	consumer := NewIdentityConsumer(env.svc, quiet())
	userID := uuid.New()

	payload, err := json.Marshal(map[string]string{"user_id": userID.String()})
	require.NoError(t, err)
	event := &eventbus.ConsumedEvent{
		EventID:    uuid.New(),
		RoutingKey: RoutingKeyIdentityCreated,
		Payload:    payload,
	}

	require.NoError(t, consumer.Handle(context.Background(), event))
	require.NoError(t, consumer.Handle(context.Background(), event))

	rec, err := env.svc.Record(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsPro)
	assert.Len(t, env.pub.Keys(), 1)
}

func TestIdentityConsumer_FallsBackToAggregateID(t *testing.T) {
	env := newTestEnv(t, 0)
	consumer := NewIdentityConsumer(env.svc, quiet())
	userID := uuid.New()

	err := consumer.Handle(context.Background(), &eventbus.ConsumedEvent{
		AggregateID: userID,
		RoutingKey:  RoutingKeyIdentityCreated,
		Payload:     json.RawMessage(`{"email":"coach@example.com"}`),
	})
	require.NoError(t, err)

	rec, err := env.svc.Record(context.Background(), userID)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestIdentityConsumer_DropsEventsWithoutIdentity(t *testing.T) {
	env := newTestEnv(t, 0)
	consumer := NewIdentityConsumer(env.svc, quiet())

	err := consumer.Handle(context.Background(), &eventbus.ConsumedEvent{
		RoutingKey: RoutingKeyIdentityCreated,
		Payload:    json.RawMessage(`not json`),
	})
	assert.NoError(t, err)
	assert.Empty(t, env.pub.Keys())
}

func TestIdentityConsumer_RegistersWithBus(t *testing.T) {
	env := newTestEnv(t, 0)
	bus := eventbus.NewInProcessEventBus(quiet())
	bus.RegisterConsumer(NewIdentityConsumer(env.svc, quiet()))
	userID := uuid.New()

	body, err := json.Marshal(eventbus.ConsumedEvent{
		EventID:     uuid.New(),
		AggregateID: userID,
		RoutingKey:  RoutingKeyIdentityCreated,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), RoutingKeyIdentityCreated, body))

	ok, err := env.svc.HasPro(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, ok)
}
