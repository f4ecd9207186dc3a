package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is a row in the append-only event store.
//
// Only Processed, RetryCount, Stale, LastError and the bus placement fields
// are ever updated after insert; everything else is immutable.
type Event struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	EventID        string    `gorm:"uniqueIndex" json:"event_id"`
	AggregateID    string    `gorm:"index;uniqueIndex:idx_aggregate_sequence" json:"aggregate_id"`
	AggregateType  string    `json:"aggregate_type"`
	EventType      string    `json:"event_type"`
	SequenceNumber int64     `gorm:"uniqueIndex:idx_aggregate_sequence" json:"sequence_number"`
	Data           []byte    `json:"data"`
	Metadata       []byte    `json:"metadata"`
	CorrelationID  string    `json:"correlation_id"`
	CausationID    string    `json:"causation_id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Processed  bool    `gorm:"index" json:"processed"`
	RetryCount int     `json:"retry_count"`
	Stale      bool    `json:"stale"`
	LastError  *string `json:"last_error"`

	// Bus placement recorded once the event has been published
	BusQueue    *string `json:"bus_queue"`
	BusSequence *int64  `json:"bus_sequence"`
}

// EventMetadata is stored alongside each event for observability and replay.
type EventMetadata struct {
	Producer      string    `json:"producer"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schema_version"`
}

// DeadLetterEntry is a permanently failed task stored for operator review
type DeadLetterEntry struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	MessageID        string    `gorm:"uniqueIndex" json:"message_id"`
	RoutingKey       string    `gorm:"index" json:"routing_key"`
	Payload          []byte    `json:"payload"`
	FailureReason    string    `json:"failure_reason"`
	FailedAttempts   int       `json:"failed_attempts"`
	FirstFailureTime time.Time `json:"first_failure_time"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	ErrorHistory     []byte    `json:"error_history"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// SetupModels runs auto migrations for all models
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&DeadLetterEntry{},
	)
}
