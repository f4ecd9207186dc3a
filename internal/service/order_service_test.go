package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/orders/config"
	"example.com/backstage/services/orders/internal/cache"
	"example.com/backstage/services/orders/internal/domain"
	"example.com/backstage/services/orders/internal/eventstore"
	"example.com/backstage/services/orders/internal/idempotency"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/models"
	"example.com/backstage/services/orders/internal/outbox"
	"example.com/backstage/services/orders/internal/projections"
	"example.com/backstage/services/orders/internal/taskqueue"
	"example.com/backstage/services/orders/internal/tracing"
)

// recordingBus captures publishes in memory
type recordingBus struct {
	published []messaging.Envelope
}

func (b *recordingBus) Publish(ctx context.Context, queue, key string, envelope messaging.Envelope) error {
	b.published = append(b.published, envelope)
	return nil
}

func (b *recordingBus) PublishDelayed(ctx context.Context, queue, key string, envelope messaging.Envelope, enqueueAt time.Time) error {
	return b.Publish(ctx, queue, key, envelope)
}

func (b *recordingBus) Run(ctx context.Context, queue string, processor messaging.MessageProcessor) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *recordingBus) Close() error { return nil }

func newServiceFixture(t *testing.T) (*OrderService, *recordingBus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	bus := &recordingBus{}
	mem := cache.NewMemoryCache()
	collector := metrics.NewCollector()
	store := eventstore.NewGormEventStore(db, "test")
	relay := outbox.NewRelay(store, bus, collector, "order-events", config.OutboxConfig{
		BatchSize:  100,
		MaxRetries: 3,
		StaleAfter: time.Hour,
	})
	projector := projections.NewProjector(store, mem, nil, collector, config.ProjectionConfig{
		CacheTTL:     time.Hour,
		IndexTTL:     time.Hour,
		MaxIndexSize: 100,
	})
	producer := taskqueue.NewProducer(bus, collector, "order-work", 3)
	guard := idempotency.NewRedisGuard(mem, time.Hour)
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	svc := NewOrderService(store, relay, projector, producer, guard, collector, tracer)
	return svc, bus
}

func appendCreate(t *testing.T, svc *OrderService, orderID string) {
	t.Helper()
	_, err := svc.AppendEvent(context.Background(), AppendEventCommand{
		AggregateID: orderID,
		EventType:   domain.OrderCreated,
		Data:        json.RawMessage(`{"order_id":"` + orderID + `","user_id":"user-1","quantity":100,"charge":3.5}`),
	})
	require.NoError(t, err)
}

func TestAppendEventCommitsAndPublishes(t *testing.T) {
	svc, bus := newServiceFixture(t)
	ctx := context.Background()

	committed, err := svc.AppendEvent(ctx, AppendEventCommand{
		AggregateID: "order-1",
		EventType:   domain.OrderCreated,
		Data:        json.RawMessage(`{"order_id":"order-1","user_id":"user-1","quantity":100,"charge":3.5}`),
	})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.Equal(t, int64(1), committed[0].SequenceNumber)

	// The event went straight to the bus
	require.Len(t, bus.published, 1)

	model, err := svc.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, model.Status)
	require.Equal(t, 100, model.Quantity)
}

func TestAppendEventRejectsInvalidTransition(t *testing.T) {
	svc, _ := newServiceFixture(t)
	appendCreate(t, svc, "order-1")

	_, err := svc.AppendEvent(context.Background(), AppendEventCommand{
		AggregateID: "order-1",
		EventType:   domain.OrderStatusChanged,
		Data:        json.RawMessage(`{"new_status":"COMPLETED"}`),
	})
	require.ErrorIs(t, err, ErrInvalidEvent)

	// Nothing was committed
	events, err := svc.GetEventHistory(context.Background(), "order-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestAppendEventRejectsUnknownType(t *testing.T) {
	svc, _ := newServiceFixture(t)

	_, err := svc.AppendEvent(context.Background(), AppendEventCommand{
		AggregateID: "order-1",
		EventType:   "V1_ORDER_EXPLODED",
		Data:        json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAppendEventIdempotentResubmission(t *testing.T) {
	svc, _ := newServiceFixture(t)
	ctx := context.Background()

	cmd := AppendEventCommand{
		AggregateID: "order-1",
		EventType:   domain.OrderCreated,
		EventID:     "client-1",
		Data:        json.RawMessage(`{"order_id":"order-1","quantity":10}`),
	}

	first, err := svc.AppendEvent(ctx, cmd)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The retry carries the same client event ID and is skipped rather
	// than rejected as an invalid command
	again, err := svc.AppendEvent(ctx, cmd)
	require.NoError(t, err)
	require.Empty(t, again)

	events, err := svc.GetEventHistory(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, first[0].EventID, events[0].EventID)
}

func TestReplayRange(t *testing.T) {
	svc, bus := newServiceFixture(t)
	ctx := context.Background()

	appendCreate(t, svc, "order-1")
	_, err := svc.AppendEvent(ctx, AppendEventCommand{
		AggregateID: "order-1",
		EventType:   domain.OrderStatusChanged,
		Data:        json.RawMessage(`{"new_status":"PROCESSING"}`),
	})
	require.NoError(t, err)

	bus.published = nil
	published, err := svc.ReplayRange(ctx, "order-1", 1, 0)
	require.NoError(t, err)
	require.Equal(t, 2, published)
	require.Len(t, bus.published, 2)

	// Bounded replay only re-emits the requested range
	bus.published = nil
	published, err = svc.ReplayRange(ctx, "order-1", 2, 2)
	require.NoError(t, err)
	require.Equal(t, 1, published)
}

func TestReplayWindow(t *testing.T) {
	svc, bus := newServiceFixture(t)
	ctx := context.Background()

	appendCreate(t, svc, "order-1")
	appendCreate(t, svc, "order-2")

	bus.published = nil
	published, err := svc.ReplayWindow(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, published)

	published, err = svc.ReplayWindow(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, published)
}

func TestTaskHandlerAppendsEvents(t *testing.T) {
	svc, _ := newServiceFixture(t)
	appendCreate(t, svc, "order-1")
	handler := NewTaskHandler(svc)

	payload, err := json.Marshal(TaskPayload{
		EventType: domain.OrderStatusChanged,
		Data:      json.RawMessage(`{"new_status":"PROCESSING"}`),
	})
	require.NoError(t, err)

	err = handler.Handle(context.Background(), taskqueue.Message{
		MessageID:     "msg-1",
		RoutingKey:    "order-1",
		Payload:       payload,
		AttemptNumber: 1,
		MaxAttempts:   3,
	})
	require.NoError(t, err)

	model, err := svc.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, model.Status)
}

func TestTaskHandlerClassifiesFailures(t *testing.T) {
	svc, _ := newServiceFixture(t)
	appendCreate(t, svc, "order-1")
	handler := NewTaskHandler(svc)

	// Command rejection dead-letters immediately
	payload, err := json.Marshal(TaskPayload{
		EventType: domain.OrderStatusChanged,
		Data:      json.RawMessage(`{"new_status":"COMPLETED"}`),
	})
	require.NoError(t, err)

	err = handler.Handle(context.Background(), taskqueue.Message{
		MessageID:     "msg-1",
		RoutingKey:    "order-1",
		Payload:       payload,
		AttemptNumber: 1,
		MaxAttempts:   3,
	})
	require.Error(t, err)
	require.False(t, taskqueue.IsRetryable(err))

	// Undecodable payloads are permanent too
	err = handler.Handle(context.Background(), taskqueue.Message{
		MessageID:     "msg-2",
		RoutingKey:    "order-1",
		Payload:       json.RawMessage(`not json`),
		AttemptNumber: 1,
		MaxAttempts:   3,
	})
	require.Error(t, err)
	require.False(t, taskqueue.IsRetryable(err))
}

func TestResetIdempotencyKey(t *testing.T) {
	svc, _ := newServiceFixture(t)
	require.NoError(t, svc.ResetIdempotencyKey(context.Background(), "task:msg-1:1"))
}
