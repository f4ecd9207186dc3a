package eventstore

import (
	"context"
	"time"

	"example.com/backstage/services/orders/internal/domain"
	"example.com/backstage/services/orders/internal/models"
)

// Placement records where an event landed on the bus once published
type Placement struct {
	Queue    string
	Sequence int64
}

// Statistics summarizes the event history of one aggregate
type Statistics struct {
	TotalEvents     int            `json:"total_events"`
	ProcessedEvents int            `json:"processed_events"`
	FailedEvents    int            `json:"failed_events"`
	EventTypeCounts map[string]int `json:"event_type_counts"`
	FirstEventTime  *time.Time     `json:"first_event_time,omitempty"`
	LastEventTime   *time.Time     `json:"last_event_time,omitempty"`
}

// EventStore is the interface for event storage
type EventStore interface {
	// Append atomically persists an aggregate's uncommitted events,
	// assigning gap-free sequence numbers
	Append(ctx context.Context, aggregate domain.Aggregate) ([]models.Event, error)

	// Load rebuilds an aggregate by replaying its event sequence
	Load(ctx context.Context, aggregate domain.Aggregate) error

	// GetEvents returns an aggregate's events from a sequence number, in strict order
	GetEvents(ctx context.Context, aggregateID string, fromSequence int64) ([]models.Event, error)

	// ExistsByID checks whether an event was already persisted
	ExistsByID(ctx context.Context, eventID string) (bool, error)

	// GetUnprocessedEvents returns events not yet published to the bus,
	// excluding those past the retry budget
	GetUnprocessedEvents(ctx context.Context, limit, maxRetries int) ([]models.Event, error)

	// MarkProcessed flags an event as published and records its bus placement
	MarkProcessed(ctx context.Context, eventID string, placement Placement) error

	// RecordFailure increments an event's retry count and stores the error
	RecordFailure(ctx context.Context, eventID string, cause error) error

	// MarkStale terminally fails an event that exhausted its retry budget
	MarkStale(ctx context.Context, eventID, reason string) error

	// ResetProcessed clears the processed flag for replay, returning the affected events
	ResetProcessed(ctx context.Context, aggregateID string, fromSequence int64) ([]models.Event, error)

	// GetEventsBetween returns events in a time window, across aggregates
	GetEventsBetween(ctx context.Context, start, end time.Time) ([]models.Event, error)

	// GetStaleUnprocessed returns unprocessed events older than the cutoff
	GetStaleUnprocessed(ctx context.Context, cutoff time.Time) ([]models.Event, error)

	// ListAggregateIDs returns the distinct aggregate IDs in the store
	ListAggregateIDs(ctx context.Context) ([]string, error)

	// GetStatistics summarizes an aggregate's event history
	GetStatistics(ctx context.Context, aggregateID string) (Statistics, error)
}
