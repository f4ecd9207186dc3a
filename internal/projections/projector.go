package projections

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/config"
	"example.com/backstage/services/orders/internal/cache"
	"example.com/backstage/services/orders/internal/domain"
	"example.com/backstage/services/orders/internal/eventstore"
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/search"
)

// ErrOrderNotFound is returned when no events exist for an aggregate
var ErrOrderNotFound = errors.New("order not found")

// Projector maintains order read models. The event store is the only source
// of truth: every build replays the full event sequence and derives the
// model from scratch, then refreshes the cache, the indices and the search
// index. Evicting the whole cache is therefore always safe.
type Projector struct {
	store     eventstore.EventStore
	cache     cache.Cache
	es        search.Client
	collector *metrics.Collector
	cfg       config.ProjectionConfig
}

// NewProjector wires a projector. The search client may be nil when search
// indexing is not configured.
func NewProjector(store eventstore.EventStore, c cache.Cache, es search.Client, collector *metrics.Collector, cfg config.ProjectionConfig) *Projector {
	return &Projector{
		store:     store,
		cache:     c,
		es:        es,
		collector: collector,
		cfg:       cfg,
	}
}

// Build replays an order's full event sequence, derives its read model and
// stores it in the cache and indices.
func (p *Projector) Build(ctx context.Context, aggregateID string) (OrderReadModel, error) {
	events, err := p.store.GetEvents(ctx, aggregateID, 0)
	if err != nil {
		return OrderReadModel{}, err
	}
	if len(events) == 0 {
		return OrderReadModel{}, ErrOrderNotFound
	}

	aggregate := domain.NewOrderAggregate(aggregateID)
	statusesSeen := map[string]bool{}
	for _, dbEvent := range events {
		eventData, err := domain.UnmarshalEventData(dbEvent.EventType, func(v interface{}) error {
			return json.Unmarshal(dbEvent.Data, v)
		})
		if err != nil {
			return OrderReadModel{}, errors.Wrapf(err, "failed to decode event %s", dbEvent.EventID)
		}

		statusesSeen[aggregate.State.Status] = true
		if err := aggregate.Replay(eventData, dbEvent.SequenceNumber); err != nil {
			return OrderReadModel{}, errors.Wrapf(err, "failed to replay event %s", dbEvent.EventID)
		}
	}

	last := events[len(events)-1]
	model := FromState(aggregate.State, last.SequenceNumber, last.Timestamp)

	if err := p.project(ctx, model, statusesSeen); err != nil {
		return OrderReadModel{}, err
	}

	p.collector.Increment(metrics.CounterProjectionsBuilt)
	return model, nil
}

// Get returns an order's read model, rebuilding it on a cache miss
func (p *Projector) Get(ctx context.Context, aggregateID string) (OrderReadModel, error) {
	var model OrderReadModel
	err := p.cache.Get(ctx, cache.ReadModelCacheKey(aggregateID), &model)
	if err == nil {
		return model, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("orderId", aggregateID).Msg("Read model cache unavailable, rebuilding")
	}
	return p.Build(ctx, aggregateID)
}

// ListByIndex pages through an index dimension, newest first. Models whose
// cache entry expired are rebuilt on the way out.
func (p *Projector) ListByIndex(ctx context.Context, dimension, value string, offset, limit int64) ([]OrderReadModel, error) {
	ids, err := p.cache.IndexRange(ctx, cache.IndexCacheKey(dimension, value), offset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read index")
	}

	readModels := make([]OrderReadModel, 0, len(ids))
	for _, id := range ids {
		model, err := p.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				continue
			}
			return nil, err
		}
		readModels = append(readModels, model)
	}
	return readModels, nil
}

// RebuildAll recomputes every read model from the event store. Returns the
// number of models rebuilt.
func (p *Projector) RebuildAll(ctx context.Context) (int, error) {
	ids, err := p.store.ListAggregateIDs(ctx)
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, id := range ids {
		if _, err := p.Build(ctx, id); err != nil {
			return rebuilt, errors.Wrapf(err, "failed to rebuild read model for %s", id)
		}
		rebuilt++
	}

	log.Info().Int("count", rebuilt).Msg("All read models rebuilt")
	return rebuilt, nil
}

// project stores a freshly derived model in the cache, the index sets and
// the search index. The cache write must succeed; index and search writes
// are best effort because they can always be recovered by another build.
func (p *Projector) project(ctx context.Context, model OrderReadModel, statusesSeen map[string]bool) error {
	if err := p.cache.Set(ctx, cache.ReadModelCacheKey(model.OrderID), model, p.cfg.CacheTTL); err != nil {
		return errors.Wrap(err, "failed to cache read model")
	}

	// Orders are scored by creation time so ranges read newest first
	score := float64(model.CreatedAt.UnixMilli())
	for _, ref := range model.IndexRefs() {
		key := cache.IndexCacheKey(ref.Dimension, ref.Value)
		if err := p.cache.IndexAdd(ctx, key, model.OrderID, score, p.cfg.IndexTTL); err != nil {
			log.Error().Err(err).Str("index", key).Msg("Failed to update read model index")
			continue
		}
		if err := p.cache.IndexTrim(ctx, key, p.cfg.MaxIndexSize); err != nil {
			log.Error().Err(err).Str("index", key).Msg("Failed to trim read model index")
		}
	}

	// Status changes move the order between status indices: membership in
	// any status it passed through on the way here is stale
	for status := range statusesSeen {
		if status == "" || status == model.Status {
			continue
		}
		stale := cache.IndexCacheKey(IndexStatus, status)
		if err := p.cache.IndexRemove(ctx, stale, model.OrderID); err != nil {
			log.Error().Err(err).Str("index", stale).Msg("Failed to remove order from previous status index")
		}
	}

	if p.es != nil {
		if err := p.es.IndexOrder(ctx, model.OrderID, model); err != nil {
			log.Error().Err(err).Str("orderId", model.OrderID).Msg("Failed to index read model for search")
		}
	}

	return nil
}
