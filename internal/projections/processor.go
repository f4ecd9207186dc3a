package projections

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/idempotency"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
)

// EventProcessor consumes the state-change queue and keeps read models
// current. Each event triggers a full rebuild from the store, so applying
// an event twice, or out of order after a replay, converges on the same
// model.
type EventProcessor struct {
	projector *Projector
	guard     idempotency.Guard
	collector *metrics.Collector
}

// NewEventProcessor wires the state-change queue consumer
func NewEventProcessor(projector *Projector, guard idempotency.Guard, collector *metrics.Collector) *EventProcessor {
	return &EventProcessor{
		projector: projector,
		guard:     guard,
		collector: collector,
	}
}

// ProcessMessage implements messaging.MessageProcessor for the events queue
func (p *EventProcessor) ProcessMessage(ctx context.Context, delivery messaging.Delivery) error {
	var msg messaging.EventMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		// Not a valid event message; there is nothing to rebuild and
		// redelivery cannot fix it
		log.Warn().Err(err).Str("deliveryId", delivery.MessageID).Msg("Dropping malformed event message")
		return nil
	}
	if msg.EventID == "" || msg.AggregateID == "" {
		log.Warn().Str("deliveryId", delivery.MessageID).Msg("Dropping event message without identity")
		return nil
	}

	key := fmt.Sprintf("event:%s", msg.EventID)
	first, err := p.guard.CheckAndMark(ctx, key)
	if err != nil {
		return errors.Wrap(err, "idempotency check failed")
	}
	if !first {
		p.collector.Increment(metrics.CounterDuplicatesSkipped)
		log.Debug().Str("eventId", msg.EventID).Msg("Skipping duplicate event delivery")
		return nil
	}

	if _, err := p.projector.Build(ctx, msg.AggregateID); err != nil {
		// Release the key so the redelivery is not skipped as a duplicate
		if resetErr := p.guard.Reset(ctx, key); resetErr != nil {
			log.Error().Err(resetErr).Str("eventId", msg.EventID).Msg("Failed to release idempotency key")
		}
		return errors.Wrapf(err, "failed to project event %s", msg.EventID)
	}

	log.Debug().
		Str("eventId", msg.EventID).
		Str("orderId", msg.AggregateID).
		Str("eventType", msg.EventType).
		Int64("sequence", msg.SequenceNumber).
		Msg("Read model updated")
	return nil
}
