package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/domain"
	"example.com/backstage/services/orders/internal/eventstore"
	"example.com/backstage/services/orders/internal/idempotency"
	"example.com/backstage/services/orders/internal/metrics"
	"example.com/backstage/services/orders/internal/models"
	"example.com/backstage/services/orders/internal/outbox"
	"example.com/backstage/services/orders/internal/projections"
	"example.com/backstage/services/orders/internal/taskqueue"
	"example.com/backstage/services/orders/internal/tracing"
)

// ErrInvalidEvent marks command rejections: unknown event types, bad
// payloads and invalid status transitions. Handlers map it to a 4xx.
var ErrInvalidEvent = errors.New("invalid event")

// AppendEventCommand carries one state-change request for an order
type AppendEventCommand struct {
	AggregateID   string
	EventType     string
	EventID       string
	CorrelationID string
	CausationID   string
	Data          json.RawMessage
}

// OrderService coordinates the write side, the task queue and the
// read-model queries behind one interface for the API and CLI.
type OrderService struct {
	store     eventstore.EventStore
	relay     *outbox.Relay
	projector *projections.Projector
	producer  taskqueue.Publisher
	guard     idempotency.Guard
	collector *metrics.Collector
	tracer    tracing.Tracer
}

// NewOrderService wires the service
func NewOrderService(
	store eventstore.EventStore,
	relay *outbox.Relay,
	projector *projections.Projector,
	producer taskqueue.Publisher,
	guard idempotency.Guard,
	collector *metrics.Collector,
	tracer tracing.Tracer,
) *OrderService {
	return &OrderService{
		store:     store,
		relay:     relay,
		projector: projector,
		producer:  producer,
		guard:     guard,
		collector: collector,
		tracer:    tracer,
	}
}

// AppendEvent validates a command against the order's current state and
// appends the resulting event. The committed events are pushed to the bus
// right away; delivery falls back to the relay sweep if that fails.
func (s *OrderService) AppendEvent(ctx context.Context, cmd AppendEventCommand) ([]models.Event, error) {
	txn := s.tracer.StartTransaction("OrderService.AppendEvent")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "orderId", cmd.AggregateID)
	s.tracer.AddAttribute(txn, "eventType", cmd.EventType)

	if cmd.AggregateID == "" {
		return nil, errors.Wrap(ErrInvalidEvent, "aggregate ID is required")
	}

	// A resubmitted client event ID short-circuits before command
	// validation: the original already committed, so re-validating against
	// the advanced aggregate state would wrongly reject the retry
	if cmd.EventID != "" {
		exists, err := s.store.ExistsByID(ctx, cmd.EventID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check for existing event")
		}
		if exists {
			log.Info().Str("eventId", cmd.EventID).Msg("Duplicate append skipped")
			return nil, nil
		}
	}

	eventData, err := domain.UnmarshalEventData(cmd.EventType, func(v interface{}) error {
		return json.Unmarshal(cmd.Data, v)
	})
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidEvent, "cannot decode %s payload: %v", cmd.EventType, err)
	}

	aggregate := domain.NewOrderAggregate(cmd.AggregateID)
	if err := s.store.Load(ctx, aggregate); err != nil {
		return nil, errors.Wrap(err, "failed to load order")
	}

	if err := s.applyCommand(aggregate, eventData); err != nil {
		return nil, errors.Wrap(ErrInvalidEvent, err.Error())
	}
	aggregate.SetEventIdentity(cmd.EventID, cmd.CorrelationID, cmd.CausationID)

	committed, err := s.store.Append(ctx, aggregate)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to append events")
	}
	s.collector.Add(metrics.CounterEventsAppended, int64(len(committed)))

	// Fast path to the bus; the relay sweep covers any failure here
	s.relay.PublishEvents(ctx, committed)

	return committed, nil
}

func (s *OrderService) applyCommand(aggregate *domain.OrderAggregate, eventData interface{}) error {
	switch e := eventData.(type) {
	case domain.OrderCreatedEvent:
		return aggregate.Create(e)
	case domain.OrderStatusChangedEvent:
		return aggregate.ChangeStatus(e.NewStatus, e.Reason)
	case domain.OrderProgressUpdatedEvent:
		return aggregate.UpdateProgress(e)
	case domain.OrderCompletedEvent:
		return aggregate.Complete(e)
	case domain.OrderCancelledEvent:
		return aggregate.Cancel(e)
	case domain.OrderRefundedEvent:
		return aggregate.Refund(e)
	default:
		return errors.Errorf("unsupported event type %T", eventData)
	}
}

// GetOrder returns an order's read model, rebuilding it on a cache miss
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (projections.OrderReadModel, error) {
	return s.projector.Get(ctx, orderID)
}

// ListOrders pages through an index dimension, newest first
func (s *OrderService) ListOrders(ctx context.Context, dimension, value string, offset, limit int64) ([]projections.OrderReadModel, error) {
	return s.projector.ListByIndex(ctx, dimension, value, offset, limit)
}

// GetEventHistory returns an order's events from a sequence number
func (s *OrderService) GetEventHistory(ctx context.Context, orderID string, fromSequence int64) ([]models.Event, error) {
	return s.store.GetEvents(ctx, orderID, fromSequence)
}

// GetEventStatistics summarizes an order's event history
func (s *OrderService) GetEventStatistics(ctx context.Context, orderID string) (eventstore.Statistics, error) {
	return s.store.GetStatistics(ctx, orderID)
}

// EnqueueTask puts a work item on the task queue and returns the populated
// message so the caller learns the assigned message ID.
func (s *OrderService) EnqueueTask(ctx context.Context, msg taskqueue.Message) (taskqueue.Message, error) {
	txn := s.tracer.StartTransaction("OrderService.EnqueueTask")
	defer s.tracer.EndTransaction(txn)

	return s.producer.Enqueue(ctx, msg)
}

// QueueMetrics returns the task queue counters
func (s *OrderService) QueueMetrics() metrics.QueueMetrics {
	return s.collector.Queue()
}

// Metrics returns the full counter snapshot
func (s *OrderService) Metrics() map[string]int64 {
	return s.collector.Snapshot()
}

// ReplayRange re-emits an order's events in a sequence range to the bus.
// toSequence zero means no upper bound. Consumers deduplicate by event ID,
// so a replay is safe while live traffic flows.
func (s *OrderService) ReplayRange(ctx context.Context, orderID string, fromSequence, toSequence int64) (int, error) {
	if fromSequence < 1 {
		fromSequence = 1
	}

	events, err := s.store.GetEvents(ctx, orderID, fromSequence-1)
	if err != nil {
		return 0, err
	}
	if toSequence > 0 {
		bounded := events[:0]
		for _, event := range events {
			if event.SequenceNumber <= toSequence {
				bounded = append(bounded, event)
			}
		}
		events = bounded
	}
	if len(events) == 0 {
		return 0, nil
	}

	published, err := s.relay.Republish(ctx, events)
	if err != nil {
		return published, errors.Wrap(err, "replay aborted")
	}

	log.Info().
		Str("orderId", orderID).
		Int64("from", fromSequence).
		Int64("to", toSequence).
		Int("published", published).
		Msg("Events replayed")
	return published, nil
}

// ReplayWindow re-emits every event in a time window, across orders
func (s *OrderService) ReplayWindow(ctx context.Context, start, end time.Time) (int, error) {
	events, err := s.store.GetEventsBetween(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published, err := s.relay.Republish(ctx, events)
	if err != nil {
		return published, errors.Wrap(err, "replay aborted")
	}

	log.Info().
		Time("start", start).
		Time("end", end).
		Int("published", published).
		Msg("Event window replayed")
	return published, nil
}

// SweepStale marks terminally failed outbox events
func (s *OrderService) SweepStale(ctx context.Context) error {
	return s.relay.SweepStale(ctx)
}

// RebuildAllProjections recomputes every read model from the event store
func (s *OrderService) RebuildAllProjections(ctx context.Context) (int, error) {
	txn := s.tracer.StartTransaction("OrderService.RebuildAllProjections")
	defer s.tracer.EndTransaction(txn)

	return s.projector.RebuildAll(ctx)
}

// ResetIdempotencyKey clears a processed marker so a message can be
// reprocessed after operator intervention
func (s *OrderService) ResetIdempotencyKey(ctx context.Context, key string) error {
	return s.guard.Reset(ctx, key)
}
