package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/orders/config"
	"example.com/backstage/services/orders/internal/domain"
	"example.com/backstage/services/orders/internal/eventstore"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/models"
)

// fakeBus records publishes and fails on demand
type fakeBus struct {
	published []messaging.Envelope
	keys      []string
	failNext  int
}

func (b *fakeBus) Publish(ctx context.Context, queue, key string, envelope messaging.Envelope) error {
	if b.failNext > 0 {
		b.failNext--
		return errors.New("bus unavailable")
	}
	b.published = append(b.published, envelope)
	b.keys = append(b.keys, key)
	return nil
}

func (b *fakeBus) PublishDelayed(ctx context.Context, queue, key string, envelope messaging.Envelope, enqueueAt time.Time) error {
	return b.Publish(ctx, queue, key, envelope)
}

func (b *fakeBus) Run(ctx context.Context, queue string, processor messaging.MessageProcessor) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBus) Close() error { return nil }

func newRelayFixture(t *testing.T) (*Relay, eventstore.EventStore, *fakeBus, *metrics.Collector) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	store := eventstore.NewGormEventStore(db, "test")
	bus := &fakeBus{}
	collector := metrics.NewCollector()
	relay := NewRelay(store, bus, collector, "order-events", config.OutboxConfig{
		SweepInterval: time.Second,
		BatchSize:     100,
		MaxRetries:    3,
		StaleAfter:    time.Hour,
	})
	return relay, store, bus, collector
}

func seedEvents(t *testing.T, store eventstore.EventStore, orderID string) []models.Event {
	t.Helper()

	aggregate := domain.NewOrderAggregate(orderID)
	require.NoError(t, aggregate.Create(domain.OrderCreatedEvent{OrderID: orderID, Quantity: 10}))
	require.NoError(t, aggregate.ChangeStatus(domain.StatusProcessing, ""))

	committed, err := store.Append(context.Background(), aggregate)
	require.NoError(t, err)
	return committed
}

func TestPublishEventsMarksProcessed(t *testing.T) {
	relay, store, bus, collector := newRelayFixture(t)
	ctx := context.Background()
	committed := seedEvents(t, store, "order-1")

	relay.PublishEvents(ctx, committed)

	require.Len(t, bus.published, 2)
	// Publishing is keyed by aggregate ID for per-order ordering
	require.Equal(t, []string{"order-1", "order-1"}, bus.keys)

	pending, err := store.GetUnprocessedEvents(ctx, 100, 3)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Equal(t, int64(2), collector.Value(metrics.CounterEventsPublished))
}

func TestPublishFailureLeavesEventForSweep(t *testing.T) {
	relay, store, bus, collector := newRelayFixture(t)
	ctx := context.Background()
	committed := seedEvents(t, store, "order-1")

	bus.failNext = 2
	relay.PublishEvents(ctx, committed)

	pending, err := store.GetUnprocessedEvents(ctx, 100, 3)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, 1, pending[0].RetryCount)
	require.Equal(t, int64(2), collector.Value(metrics.CounterEventsFailed))

	// The sweep picks the events up once the bus recovers
	require.NoError(t, relay.PublishPending(ctx))
	pending, err = store.GetUnprocessedEvents(ctx, 100, 3)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Len(t, bus.published, 2)
}

func TestPublishPendingRespectsRetryBudget(t *testing.T) {
	relay, store, bus, _ := newRelayFixture(t)
	ctx := context.Background()
	committed := seedEvents(t, store, "order-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordFailure(ctx, committed[0].EventID, errors.New("boom")))
	}

	require.NoError(t, relay.PublishPending(ctx))

	// Only the event inside the budget went out
	require.Len(t, bus.published, 1)
}

func TestSweepStaleMarksExhaustedEvents(t *testing.T) {
	relay, store, _, collector := newRelayFixture(t)
	ctx := context.Background()
	committed := seedEvents(t, store, "order-1")

	// Age the events past the cutoff and exhaust one retry budget
	db := storeDB(t, store)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.Event{}).
		Where("aggregate_id = ?", "order-1").
		Update("timestamp", old).Error)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordFailure(ctx, committed[0].EventID, errors.New("boom")))
	}

	require.NoError(t, relay.SweepStale(ctx))

	// Exhausted event is terminal, the other is still eligible
	pending, err := store.GetUnprocessedEvents(ctx, 100, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, committed[1].EventID, pending[0].EventID)
	require.Equal(t, int64(1), collector.Value(metrics.CounterEventsStale))
}

func TestRepublishCountsReplayedEvents(t *testing.T) {
	relay, store, bus, collector := newRelayFixture(t)
	ctx := context.Background()
	committed := seedEvents(t, store, "order-1")
	relay.PublishEvents(ctx, committed)
	bus.published = nil

	published, err := relay.Republish(ctx, committed)
	require.NoError(t, err)
	require.Equal(t, 2, published)
	require.Len(t, bus.published, 2)
	require.Equal(t, int64(2), collector.Value(metrics.CounterEventsReplayed))
}

// storeDB digs the gorm handle out for test fixtures
func storeDB(t *testing.T, store eventstore.EventStore) *gorm.DB {
	t.Helper()
	gs, ok := store.(*eventstore.GormEventStore)
	require.True(t, ok)
	return gs.DB()
}
