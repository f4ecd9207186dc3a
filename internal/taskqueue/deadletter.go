package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/models"
)

// dead-letter header keys, carried alongside the standard task headers
const (
	HeaderFailureReason  = "failure-reason"
	HeaderFailedAttempts = "failed-attempts"
)

// DeadLetterer sends a permanently failed task to the dead-letter queue
type DeadLetterer interface {
	Send(ctx context.Context, msg Message, reason string) error
}

// DeadLetterService publishes terminal failures to the dead-letter queue and
// records them in the database for operator review.
type DeadLetterService struct {
	bus   messaging.Bus
	db    *gorm.DB
	queue string
}

// NewDeadLetterService creates a dead-letter sink for the given queue
func NewDeadLetterService(bus messaging.Bus, db *gorm.DB, queue string) *DeadLetterService {
	return &DeadLetterService{bus: bus, db: db, queue: queue}
}

// Send publishes the failed message with its error context and persists a
// DeadLetterEntry. The bus publish is the primary channel; a database error
// is logged but not returned, so the caller still acks exactly once.
func (s *DeadLetterService) Send(ctx context.Context, msg Message, reason string) error {
	envelope, err := msg.Envelope()
	if err != nil {
		return errors.Wrap(err, "failed to marshal dead-lettered task")
	}
	envelope.Headers[HeaderFailureReason] = reason
	envelope.Headers[HeaderFailedAttempts] = int64(msg.AttemptNumber)

	if err := s.bus.Publish(ctx, s.queue, msg.RoutingKey, envelope); err != nil {
		return errors.Wrap(err, "failed to publish to dead-letter queue")
	}

	if err := s.record(msg, reason); err != nil {
		log.Error().Err(err).
			Str("messageId", msg.MessageID).
			Msg("Failed to persist dead-letter entry")
	}

	log.Warn().
		Str("messageId", msg.MessageID).
		Str("routingKey", msg.RoutingKey).
		Int("failedAttempts", msg.AttemptNumber).
		Str("reason", reason).
		Msg("Task dead-lettered")
	return nil
}

func (s *DeadLetterService) record(msg Message, reason string) error {
	if s.db == nil {
		return nil
	}

	now := time.Now().UTC()
	first := now
	if len(msg.ErrorHistory) > 0 {
		first = msg.ErrorHistory[0].At
	}
	history, err := json.Marshal(msg.ErrorHistory)
	if err != nil {
		return err
	}

	entry := models.DeadLetterEntry{
		MessageID:        msg.MessageID,
		RoutingKey:       msg.RoutingKey,
		Payload:          msg.Payload,
		FailureReason:    reason,
		FailedAttempts:   msg.AttemptNumber,
		FirstFailureTime: first,
		LastFailureTime:  now,
		ErrorHistory:     history,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&entry).Error
}
