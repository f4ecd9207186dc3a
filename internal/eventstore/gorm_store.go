package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/orders/internal/domain"
	"example.com/backstage/services/orders/internal/models"
)

// ErrSequenceConflict is returned when concurrent writers raced for the same
// sequence number and the retry budget ran out
var ErrSequenceConflict = errors.New("sequence number conflict")

// appendRetries bounds how often Append refetches max(sequence) after a
// unique constraint violation before surfacing ErrSequenceConflict
const appendRetries = 3

// GormEventStore implements EventStore using GORM.
//
// Gap-free per-aggregate sequences rely on the composite unique index
// (aggregate_id, sequence_number): a concurrent writer that claimed the same
// number trips the constraint and the append retries with a fresh max.
type GormEventStore struct {
	db       *gorm.DB
	producer string
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore(db *gorm.DB, producer string) *GormEventStore {
	return &GormEventStore{db: db, producer: producer}
}

// DB exposes the underlying handle for callers that need to join event
// queries into their own transactions.
func (s *GormEventStore) DB() *gorm.DB {
	return s.db
}

// Append saves an aggregate's uncommitted events. A sequence conflict rolls
// the attempt back and retries in a fresh transaction with a fresh max, so a
// concurrent writer never produces a gap or a stale number.
func (s *GormEventStore) Append(ctx context.Context, aggregate domain.Aggregate) ([]models.Event, error) {
	var committed []models.Event

	for attempt := 0; attempt < appendRetries; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			committed, err = s.AppendInTx(ctx, tx, aggregate)
			return err
		})
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, ErrSequenceConflict) {
			return nil, err
		}

		log.Warn().
			Str("aggregateID", aggregate.GetID()).
			Int("attempt", attempt+1).
			Msg("Sequence conflict, retrying with fresh sequence")
	}

	return nil, ErrSequenceConflict
}

// AppendInTx persists the aggregate's uncommitted events within the caller's
// transaction, so an event and its triggering state change commit together.
// Returns ErrSequenceConflict when a concurrent writer claimed the next
// sequence number; the caller must retry its whole transaction.
func (s *GormEventStore) AppendInTx(ctx context.Context, tx *gorm.DB, aggregate domain.Aggregate) ([]models.Event, error) {
	events := aggregate.GetEvents()
	if len(events) == 0 {
		return nil, nil
	}

	// Fetch a fresh max inside the transaction; the unique constraint on
	// (aggregate_id, sequence_number) catches any concurrent writer that
	// won the race.
	var maxSequence int64
	if err := tx.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregate.GetID()).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&maxSequence).Error; err != nil {
		return nil, errors.Wrap(err, "failed to fetch max sequence number")
	}

	var committed []models.Event
	if err := s.insertEvents(ctx, tx, events, maxSequence, &committed); err != nil {
		return nil, err
	}

	aggregate.ClearEvents()
	return committed, nil
}

func (s *GormEventStore) insertEvents(ctx context.Context, tx *gorm.DB, events []domain.Event, maxSequence int64, committed *[]models.Event) error {
	next := maxSequence
	for _, event := range events {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return errors.Wrap(err, "failed to marshal event data")
		}

		metadata, err := json.Marshal(models.EventMetadata{
			Producer:      s.producer,
			Timestamp:     time.Now().UTC(),
			SchemaVersion: 1,
		})
		if err != nil {
			return errors.Wrap(err, "failed to marshal event metadata")
		}

		eventID := event.ID
		if eventID == "" {
			eventID = uuid.New().String()
		} else {
			// Re-submission with a caller-supplied event ID is idempotent:
			// the existing row is returned unchanged.
			var existing models.Event
			findErr := tx.WithContext(ctx).Where("event_id = ?", eventID).First(&existing).Error
			if findErr == nil {
				log.Warn().Str("eventID", eventID).Msg("Duplicate event detected, returning existing")
				*committed = append(*committed, existing)
				continue
			}
			if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				return errors.Wrap(findErr, "failed to check for existing event")
			}
		}

		next++
		dbEvent := models.Event{
			EventID:        eventID,
			AggregateID:    event.AggregateID,
			AggregateType:  event.AggregateType,
			EventType:      event.Type,
			SequenceNumber: next,
			Data:           data,
			Metadata:       metadata,
			CorrelationID:  event.CorrelationID,
			CausationID:    event.CausationID,
			Timestamp:      event.Timestamp,
			Processed:      false,
		}

		if err := tx.WithContext(ctx).Create(&dbEvent).Error; err != nil {
			// Generated event IDs never collide, so a duplicate key here
			// means another writer claimed this sequence number.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrSequenceConflict
			}
			return errors.Wrap(err, "failed to save event")
		}

		log.Info().
			Str("aggregateID", event.AggregateID).
			Str("eventType", event.Type).
			Int64("sequence", dbEvent.SequenceNumber).
			Msg("Event saved")

		*committed = append(*committed, dbEvent)
	}
	return nil
}

// Load rebuilds an aggregate from its event sequence
func (s *GormEventStore) Load(ctx context.Context, aggregate domain.Aggregate) error {
	if aggregate.GetID() == "" {
		return errors.New("aggregate ID is empty")
	}

	dbEvents, err := s.GetEvents(ctx, aggregate.GetID(), 0)
	if err != nil {
		return err
	}

	for _, dbEvent := range dbEvents {
		eventData, err := domain.UnmarshalEventData(dbEvent.EventType, func(v interface{}) error {
			return json.Unmarshal(dbEvent.Data, v)
		})
		if err != nil {
			return errors.Wrapf(err, "failed to decode event %s", dbEvent.EventID)
		}

		if err := aggregate.Replay(eventData, dbEvent.SequenceNumber); err != nil {
			return errors.Wrapf(err, "failed to replay event %s", dbEvent.EventID)
		}
	}

	return nil
}

// GetEvents returns an aggregate's events from a sequence number, in strict order
func (s *GormEventStore) GetEvents(ctx context.Context, aggregateID string, fromSequence int64) ([]models.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND sequence_number > ?", aggregateID, fromSequence).
		Order("sequence_number ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}
	return dbEvents, nil
}

// ExistsByID checks whether an event was already persisted
func (s *GormEventStore) ExistsByID(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "failed to check if event exists")
	}
	return count > 0, nil
}

// GetUnprocessedEvents returns events not yet published to the bus
func (s *GormEventStore) GetUnprocessedEvents(ctx context.Context, limit, maxRetries int) ([]models.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("processed = ? AND stale = ? AND retry_count < ?", false, false, maxRetries).
		Order("timestamp ASC").
		Limit(limit).
		Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get unprocessed events")
	}
	return dbEvents, nil
}

// MarkProcessed flags an event as published and records its bus placement
func (s *GormEventStore) MarkProcessed(ctx context.Context, eventID string, placement Placement) error {
	updates := map[string]interface{}{
		"processed":    true,
		"last_error":   nil,
		"bus_queue":    placement.Queue,
		"bus_sequence": placement.Sequence,
		"updated_at":   time.Now(),
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error; err != nil {
		return errors.Wrap(err, "failed to mark event as processed")
	}
	return nil
}

// RecordFailure increments an event's retry count and stores the error
func (s *GormEventStore) RecordFailure(ctx context.Context, eventID string, cause error) error {
	msg := cause.Error()
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  &msg,
			"updated_at":  time.Now(),
		}).Error; err != nil {
		return errors.Wrap(err, "failed to record event failure")
	}
	return nil
}

// MarkStale terminally fails an event that exhausted its retry budget
func (s *GormEventStore) MarkStale(ctx context.Context, eventID, reason string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"stale":      true,
			"last_error": &reason,
			"updated_at": time.Now(),
		}).Error; err != nil {
		return errors.Wrap(err, "failed to mark event as stale")
	}
	return nil
}

// ResetProcessed clears the processed flag for replay
func (s *GormEventStore) ResetProcessed(ctx context.Context, aggregateID string, fromSequence int64) ([]models.Event, error) {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ? AND sequence_number >= ?", aggregateID, fromSequence).
		Updates(map[string]interface{}{
			"processed":   false,
			"retry_count": 0,
			"stale":       false,
			"updated_at":  time.Now(),
		}).Error; err != nil {
		return nil, errors.Wrap(err, "failed to reset events for replay")
	}

	return s.GetEvents(ctx, aggregateID, fromSequence-1)
}

// GetEventsBetween returns events in a time window, across aggregates
func (s *GormEventStore) GetEventsBetween(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("timestamp ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events in window")
	}
	return dbEvents, nil
}

// GetStaleUnprocessed returns unprocessed events older than the cutoff
func (s *GormEventStore) GetStaleUnprocessed(ctx context.Context, cutoff time.Time) ([]models.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("processed = ? AND stale = ? AND timestamp < ?", false, false, cutoff).
		Order("timestamp ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get stale events")
	}
	return dbEvents, nil
}

// ListAggregateIDs returns the distinct aggregate IDs in the store
func (s *GormEventStore) ListAggregateIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Distinct("aggregate_id").
		Order("aggregate_id ASC").
		Pluck("aggregate_id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list aggregate IDs")
	}
	return ids, nil
}

// GetStatistics summarizes an aggregate's event history
func (s *GormEventStore) GetStatistics(ctx context.Context, aggregateID string) (Statistics, error) {
	events, err := s.GetEvents(ctx, aggregateID, 0)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{EventTypeCounts: make(map[string]int)}
	for _, event := range events {
		stats.TotalEvents++
		if event.Processed {
			stats.ProcessedEvents++
		}
		if event.RetryCount > 0 {
			stats.FailedEvents++
		}
		stats.EventTypeCounts[event.EventType]++
	}

	if len(events) > 0 {
		first := events[0].Timestamp
		last := events[len(events)-1].Timestamp
		stats.FirstEventTime = &first
		stats.LastEventTime = &last
	}

	return stats, nil
}
