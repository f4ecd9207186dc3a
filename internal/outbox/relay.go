package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/config"
	"example.com/backstage/services/orders/internal/eventstore"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/models"
)

// Relay moves committed events from the store to the bus, at least once.
// Publishing is keyed by aggregate ID so one aggregate's events stay in
// order on a single partition. Failed publishes are left unprocessed for
// the periodic sweep; the relay never blocks the commit path and never
// retries forever.
type Relay struct {
	store     eventstore.EventStore
	bus       messaging.Bus
	collector *metrics.Collector
	queue     string
	cfg       config.OutboxConfig
}

// NewRelay creates a new outbox relay
func NewRelay(store eventstore.EventStore, bus messaging.Bus, collector *metrics.Collector, queue string, cfg config.OutboxConfig) *Relay {
	return &Relay{
		store:     store,
		bus:       bus,
		collector: collector,
		queue:     queue,
		cfg:       cfg,
	}
}

// PublishEvents pushes freshly committed events to the bus. Failures are
// recorded and left for the sweep; they are not returned to the caller
// because the commit already succeeded.
func (r *Relay) PublishEvents(ctx context.Context, events []models.Event) {
	for i := range events {
		if err := r.publishOne(ctx, &events[i]); err != nil {
			log.Error().Err(err).Str("eventID", events[i].EventID).Msg("Failed to publish event, sweep will retry")
		}
	}
}

// PublishPending publishes a batch of unprocessed events. Called by the
// periodic sweep, off the hot commit path.
func (r *Relay) PublishPending(ctx context.Context) error {
	events, err := r.store.GetUnprocessedEvents(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	log.Info().Int("count", len(events)).Msg("Relaying unprocessed events")

	for i := range events {
		if err := r.publishOne(ctx, &events[i]); err != nil {
			log.Error().Err(err).Str("eventID", events[i].EventID).Msg("Failed to relay event")
		}
	}
	return nil
}

func (r *Relay) publishOne(ctx context.Context, event *models.Event) error {
	msg := messaging.EventMessage{
		EventID:        event.EventID,
		AggregateID:    event.AggregateID,
		AggregateType:  event.AggregateType,
		EventType:      event.EventType,
		SequenceNumber: event.SequenceNumber,
		Data:           event.Data,
		CorrelationID:  event.CorrelationID,
		CausationID:    event.CausationID,
		Timestamp:      event.Timestamp,
	}

	envelope, err := msg.Envelope()
	if err != nil {
		return err
	}

	if err := r.bus.Publish(ctx, r.queue, event.AggregateID, envelope); err != nil {
		r.collector.Increment(metrics.CounterEventsFailed)
		if recordErr := r.store.RecordFailure(ctx, event.EventID, err); recordErr != nil {
			log.Error().Err(recordErr).Str("eventID", event.EventID).Msg("Failed to record publish failure")
		}
		return err
	}

	placement := eventstore.Placement{Queue: r.queue, Sequence: event.SequenceNumber}
	if err := r.store.MarkProcessed(ctx, event.EventID, placement); err != nil {
		// The publish went out; leaving the flag unset only risks a
		// duplicate delivery, which consumers tolerate.
		log.Error().Err(err).Str("eventID", event.EventID).Msg("Failed to mark event as processed")
		return err
	}

	r.collector.Increment(metrics.CounterEventsPublished)
	return nil
}

// Republish re-emits committed events to the bus for replay and recovery.
// Consumers deduplicate by event ID, so re-emitting a processed event is
// harmless. Returns the number of events that went out.
func (r *Relay) Republish(ctx context.Context, events []models.Event) (int, error) {
	published := 0
	for i := range events {
		if err := r.publishOne(ctx, &events[i]); err != nil {
			return published, err
		}
		r.collector.Increment(metrics.CounterEventsReplayed)
		published++
	}
	return published, nil
}

// SweepStale terminally fails unprocessed events past the age cutoff and
// past the retry budget, so they surface via metrics instead of being
// retried forever.
func (r *Relay) SweepStale(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.StaleAfter)

	events, err := r.store.GetStaleUnprocessed(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, event := range events {
		if event.RetryCount < r.cfg.MaxRetries {
			continue
		}

		reason := fmt.Sprintf("max retries exceeded (%d) and older than cutoff %s", event.RetryCount, cutoff.UTC().Format(time.RFC3339))
		if err := r.store.MarkStale(ctx, event.EventID, reason); err != nil {
			log.Error().Err(err).Str("eventID", event.EventID).Msg("Failed to mark event as stale")
			continue
		}

		r.collector.Increment(metrics.CounterEventsStale)
		log.Warn().
			Str("eventID", event.EventID).
			Str("aggregateID", event.AggregateID).
			Int("retryCount", event.RetryCount).
			Msg("Event marked terminally failed")
	}
	return nil
}
