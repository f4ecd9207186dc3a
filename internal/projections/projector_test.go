package projections

import (
	"context"
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
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/models"
)

func newProjectorFixture(t *testing.T) (*Projector, eventstore.EventStore, *cache.MemoryCache, *metrics.Collector) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	store := eventstore.NewGormEventStore(db, "test")
	mem := cache.NewMemoryCache()
	collector := metrics.NewCollector()
	projector := NewProjector(store, mem, nil, collector, config.ProjectionConfig{
		CacheTTL:     time.Hour,
		IndexTTL:     24 * time.Hour,
		MaxIndexSize: 3,
	})
	return projector, store, mem, collector
}

func createOrder(t *testing.T, store eventstore.EventStore, orderID, userID string, quantity int) {
	t.Helper()
	aggregate := domain.NewOrderAggregate(orderID)
	require.NoError(t, aggregate.Create(domain.OrderCreatedEvent{
		OrderID:   orderID,
		UserID:    userID,
		ServiceID: "service-1",
		Quantity:  quantity,
		Charge:    2.5,
	}))
	_, err := store.Append(context.Background(), aggregate)
	require.NoError(t, err)
}

func progressOrder(t *testing.T, store eventstore.EventStore, orderID string, completed int) {
	t.Helper()
	aggregate := domain.NewOrderAggregate(orderID)
	require.NoError(t, store.Load(context.Background(), aggregate))
	if aggregate.State.Status == domain.StatusPending {
		require.NoError(t, aggregate.ChangeStatus(domain.StatusProcessing, ""))
	}
	require.NoError(t, aggregate.UpdateProgress(domain.OrderProgressUpdatedEvent{CompletedCount: completed}))
	_, err := store.Append(context.Background(), aggregate)
	require.NoError(t, err)
}

func TestBuildDerivesReadModel(t *testing.T) {
	projector, store, _, _ := newProjectorFixture(t)
	ctx := context.Background()

	createOrder(t, store, "order-1", "user-1", 100)
	progressOrder(t, store, "order-1", 40)

	model, err := projector.Build(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", model.OrderID)
	require.Equal(t, domain.StatusProcessing, model.Status)
	require.Equal(t, 100, model.Quantity)
	require.Equal(t, 60, model.Remains)
	require.Equal(t, 40, model.Delivered)
	require.Equal(t, int64(3), model.Version)
}

func TestBuildUnknownOrder(t *testing.T) {
	projector, _, _, _ := newProjectorFixture(t)
	_, err := projector.Build(context.Background(), "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetRebuildsOnCacheMiss(t *testing.T) {
	projector, store, mem, _ := newProjectorFixture(t)
	ctx := context.Background()

	createOrder(t, store, "order-1", "user-1", 10)

	built, err := projector.Build(ctx, "order-1")
	require.NoError(t, err)

	// Evict the cache entry and read again: the rebuilt model is identical
	require.NoError(t, mem.Delete(ctx, cache.ReadModelCacheKey("order-1")))

	rebuilt, err := projector.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, built, rebuilt)

	// The second read is served from cache
	cached, err := projector.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, built, cached)
}

func TestListByIndexNewestFirst(t *testing.T) {
	projector, store, _, _ := newProjectorFixture(t)
	ctx := context.Background()

	createOrder(t, store, "order-1", "user-1", 10)
	time.Sleep(2 * time.Millisecond)
	createOrder(t, store, "order-2", "user-1", 10)
	time.Sleep(2 * time.Millisecond)
	createOrder(t, store, "order-3", "user-2", 10)

	rebuilt, err := projector.RebuildAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, rebuilt)

	orders, err := projector.ListByIndex(ctx, IndexRecent, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	require.Equal(t, "order-3", orders[0].OrderID)
	require.Equal(t, "order-1", orders[2].OrderID)

	byUser, err := projector.ListByIndex(ctx, IndexUser, "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
}

func TestIndexCapEvictsOldest(t *testing.T) {
	projector, store, _, _ := newProjectorFixture(t)
	ctx := context.Background()

	for _, id := range []string{"order-1", "order-2", "order-3", "order-4"} {
		createOrder(t, store, id, "user-1", 10)
		time.Sleep(2 * time.Millisecond)
		_, err := projector.Build(ctx, id)
		require.NoError(t, err)
	}

	// MaxIndexSize is 3: the oldest order fell out
	orders, err := projector.ListByIndex(ctx, IndexRecent, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	for _, model := range orders {
		require.NotEqual(t, "order-1", model.OrderID)
	}
}

func TestStatusChangeMovesStatusIndex(t *testing.T) {
	projector, store, _, _ := newProjectorFixture(t)
	ctx := context.Background()

	createOrder(t, store, "order-1", "user-1", 10)
	_, err := projector.Build(ctx, "order-1")
	require.NoError(t, err)

	pending, err := projector.ListByIndex(ctx, IndexStatus, domain.StatusPending, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	progressOrder(t, store, "order-1", 0)
	_, err = projector.Build(ctx, "order-1")
	require.NoError(t, err)

	pending, err = projector.ListByIndex(ctx, IndexStatus, domain.StatusPending, 0, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	processing, err := projector.ListByIndex(ctx, IndexStatus, domain.StatusProcessing, 0, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
}
