package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"example.com/backstage/services/orders/internal/taskqueue"
)

// TaskPayload is the work carried by a task message: an event to append to
// the order named by the message's routing key.
type TaskPayload struct {
	EventType     string          `json:"eventType"`
	EventID       string          `json:"eventId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// TaskHandler executes order work items by appending their events through
// the service. Command rejections are permanent, so they dead-letter
// immediately instead of burning retry attempts.
type TaskHandler struct {
	svc *OrderService
}

// NewTaskHandler creates the work queue handler
func NewTaskHandler(svc *OrderService) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// Handle implements taskqueue.Handler
func (h *TaskHandler) Handle(ctx context.Context, msg taskqueue.Message) error {
	var payload TaskPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return taskqueue.NonRetryable(errors.Wrap(err, "undecodable task payload"))
	}
	if payload.EventType == "" {
		return taskqueue.NonRetryable(errors.New("task payload has no eventType"))
	}

	_, err := h.svc.AppendEvent(ctx, AppendEventCommand{
		AggregateID:   msg.RoutingKey,
		EventType:     payload.EventType,
		EventID:       payload.EventID,
		CorrelationID: payload.CorrelationID,
		CausationID:   payload.CausationID,
		Data:          payload.Data,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			return taskqueue.NonRetryable(err)
		}
		return err
	}
	return nil
}
