package projections

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/orders/internal/cache"
	"example.com/backstage/services/orders/internal/idempotency"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
)

func eventDelivery(t *testing.T, msg messaging.EventMessage) messaging.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return messaging.Delivery{MessageID: msg.EventID, Body: body}
}

func TestEventProcessorBuildsReadModel(t *testing.T) {
	projector, store, mem, collector := newProjectorFixture(t)
	ctx := context.Background()
	createOrder(t, store, "order-1", "user-1", 10)

	guard := idempotency.NewRedisGuard(mem, time.Hour)
	processor := NewEventProcessor(projector, guard, collector)

	msg := messaging.EventMessage{EventID: "event-1", AggregateID: "order-1", EventType: "V1_ORDER_CREATED"}
	require.NoError(t, processor.ProcessMessage(ctx, eventDelivery(t, msg)))

	var model OrderReadModel
	require.NoError(t, mem.Get(ctx, cache.ReadModelCacheKey("order-1"), &model))
	require.Equal(t, "order-1", model.OrderID)
	require.Equal(t, int64(1), collector.Value(metrics.CounterProjectionsBuilt))
}

func TestEventProcessorSkipsDuplicates(t *testing.T) {
	projector, store, mem, collector := newProjectorFixture(t)
	ctx := context.Background()
	createOrder(t, store, "order-1", "user-1", 10)

	guard := idempotency.NewRedisGuard(mem, time.Hour)
	processor := NewEventProcessor(projector, guard, collector)

	msg := messaging.EventMessage{EventID: "event-1", AggregateID: "order-1", EventType: "V1_ORDER_CREATED"}
	require.NoError(t, processor.ProcessMessage(ctx, eventDelivery(t, msg)))
	require.NoError(t, processor.ProcessMessage(ctx, eventDelivery(t, msg)))

	require.Equal(t, int64(1), collector.Value(metrics.CounterDuplicatesSkipped))
	require.Equal(t, int64(1), collector.Value(metrics.CounterProjectionsBuilt))
}

func TestEventProcessorDropsMalformed(t *testing.T) {
	projector, _, mem, collector := newProjectorFixture(t)

	guard := idempotency.NewRedisGuard(mem, time.Hour)
	processor := NewEventProcessor(projector, guard, collector)

	err := processor.ProcessMessage(context.Background(), messaging.Delivery{MessageID: "d1", Body: []byte("not json")})
	require.NoError(t, err)

	// Missing identity is also dropped
	err = processor.ProcessMessage(context.Background(), messaging.Delivery{MessageID: "d2", Body: []byte(`{"eventType":"x"}`)})
	require.NoError(t, err)

	require.Equal(t, int64(0), collector.Value(metrics.CounterProjectionsBuilt))
}

func TestEventProcessorReleasesGuardOnFailure(t *testing.T) {
	projector, _, mem, collector := newProjectorFixture(t)
	ctx := context.Background()

	guard := idempotency.NewRedisGuard(mem, time.Hour)
	processor := NewEventProcessor(projector, guard, collector)

	// No events exist for this aggregate, so the build fails and abandons
	msg := messaging.EventMessage{EventID: "event-1", AggregateID: "missing", EventType: "V1_ORDER_CREATED"}
	require.Error(t, processor.ProcessMessage(ctx, eventDelivery(t, msg)))

	// The key was released: the redelivery attempts the build again rather
	// than being skipped as a duplicate
	require.Error(t, processor.ProcessMessage(ctx, eventDelivery(t, msg)))
	require.Equal(t, int64(0), collector.Value(metrics.CounterDuplicatesSkipped))
}
