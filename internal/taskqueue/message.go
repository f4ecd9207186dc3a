package taskqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/orders/internal/messaging"
)

// Priority levels for task messages
const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"
	PriorityLow    = "LOW"
)

// MessageTypeTask marks work items on the bus
const MessageTypeTask = "task"

// AttemptError records one failed processing attempt
type AttemptError struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Message is an ephemeral work descriptor flowing through the task queue.
// It is not part of the event log.
type Message struct {
	MessageID     string          `json:"messageId"`
	RoutingKey    string          `json:"routingKey"`
	Payload       json.RawMessage `json:"payload"`
	Priority      string          `json:"priority"`
	AttemptNumber int             `json:"attemptNumber"`
	MaxAttempts   int             `json:"maxAttempts"`
	CreatedAt     time.Time       `json:"createdAt"`
	ScheduleAt    *time.Time      `json:"scheduleAt,omitempty"`
	ErrorHistory  []AttemptError  `json:"errorHistory,omitempty"`
}

// Validate rejects structurally invalid messages. A malformed message can
// never become valid by retrying.
func (m Message) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message has no messageId")
	}
	if m.RoutingKey == "" {
		return fmt.Errorf("message %s has no routingKey", m.MessageID)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has an empty payload", m.MessageID)
	}
	if m.AttemptNumber < 1 {
		return fmt.Errorf("message %s has invalid attemptNumber %d", m.MessageID, m.AttemptNumber)
	}
	if m.MaxAttempts < 1 {
		return fmt.Errorf("message %s has invalid maxAttempts %d", m.MessageID, m.MaxAttempts)
	}
	return nil
}

// IdempotencyKey identifies one delivery attempt. Redeliveries of the same
// attempt share a key; a retry is a new attempt and a new key.
func (m Message) IdempotencyKey() string {
	return fmt.Sprintf("task:%s:%d", m.MessageID, m.AttemptNumber)
}

// ShouldDelay reports whether the message is scheduled for the future
func (m Message) ShouldDelay(now time.Time) bool {
	return m.ScheduleAt != nil && m.ScheduleAt.After(now)
}

// NextAttempt builds the retry message for the next attempt. The retry is a
// new delivery with the same routing key, not a redelivery of the original.
func (m Message) NextAttempt(cause error, delay time.Duration, now time.Time) Message {
	retry := m
	retry.AttemptNumber = m.AttemptNumber + 1
	scheduleAt := now.Add(delay)
	retry.ScheduleAt = &scheduleAt
	retry.ErrorHistory = append(append([]AttemptError{}, m.ErrorHistory...), AttemptError{
		Attempt: m.AttemptNumber,
		Error:   cause.Error(),
		At:      now,
	})
	return retry
}

// Envelope converts the message into a transport envelope with headers
func (m Message) Envelope() (messaging.Envelope, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return messaging.Envelope{}, err
	}

	return messaging.Envelope{
		MessageID: fmt.Sprintf("%s-%d", m.MessageID, m.AttemptNumber),
		Body:      body,
		Headers: map[string]interface{}{
			messaging.HeaderMessageType: MessageTypeTask,
			messaging.HeaderPriority:    m.Priority,
			messaging.HeaderAttempt:     int64(m.AttemptNumber),
			messaging.HeaderCreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
			messaging.HeaderOrderID:     m.RoutingKey,
		},
	}, nil
}
