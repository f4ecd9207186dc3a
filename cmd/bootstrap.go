package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/orders/config"
	"example.com/backstage/services/orders/internal/cache"
	"example.com/backstage/services/orders/internal/database"
	"example.com/backstage/services/orders/internal/eventstore"
	"example.com/backstage/services/orders/internal/idempotency"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/models"
	"example.com/backstage/services/orders/internal/outbox"
	"example.com/backstage/services/orders/internal/projections"
	"example.com/backstage/services/orders/internal/search"
	"example.com/backstage/services/orders/internal/service"
	"example.com/backstage/services/orders/internal/taskqueue"
	"example.com/backstage/services/orders/internal/tracing"
)

// app holds the shared wiring behind the api and worker commands
type app struct {
	cfg       config.Config
	db        *gorm.DB
	cache     cache.Cache
	bus       messaging.Bus
	store     eventstore.EventStore
	relay     *outbox.Relay
	projector *projections.Projector
	producer  *taskqueue.Producer
	guard     idempotency.Guard
	collector *metrics.Collector
	tracer    tracing.Tracer
	svc       *service.OrderService
}

func newApp(cfg config.Config) (*app, error) {
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	var appCache cache.Cache
	if cfg.Redis.Enabled {
		appCache, err = cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, err
		}
	} else {
		// Single-process deployments can run without Redis; idempotency
		// and read models then live in process memory only
		log.Warn().Msg("Redis disabled, using in-process cache")
		appCache = cache.NewMemoryCache()
	}

	bus, err := messaging.NewAzureBus(cfg.Azure)
	if err != nil {
		return nil, err
	}

	var esClient search.Client
	if cfg.Elastic.URL != "" {
		esClient, err = search.NewElasticClient(cfg.Elastic)
		if err != nil {
			return nil, err
		}
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	store := eventstore.NewGormEventStore(db, "orders-service")
	relay := outbox.NewRelay(store, bus, collector, cfg.Azure.EventsQueue, cfg.Outbox)
	projector := projections.NewProjector(store, appCache, esClient, collector, cfg.Projection)
	producer := taskqueue.NewProducer(bus, collector, cfg.Azure.WorkQueue, cfg.Queue.DefaultMaxAttempts)
	guard := idempotency.NewRedisGuard(appCache, cfg.Queue.IdempotencyTTL)

	svc := service.NewOrderService(store, relay, projector, producer, guard, collector, tracer)

	return &app{
		cfg:       cfg,
		db:        db,
		cache:     appCache,
		bus:       bus,
		store:     store,
		relay:     relay,
		projector: projector,
		producer:  producer,
		guard:     guard,
		collector: collector,
		tracer:    tracer,
		svc:       svc,
	}, nil
}

func (a *app) close() {
	if err := a.bus.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close message bus")
	}
	if err := a.cache.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close cache")
	}
	a.tracer.Close()
}
