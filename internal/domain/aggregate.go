package domain

import (
	"fmt"
	"time"
)

// AggregateBase provides common aggregate functionality
type AggregateBase struct {
	id            string
	aggregateType string
	sequence      int64
	events        []Event
	applier       func(event interface{}) error
}

// Aggregate is the interface for all aggregates
type Aggregate interface {
	GetID() string
	GetType() string
	GetSequence() int64
	GetEvents() []Event
	ClearEvents()
	Apply(event interface{}) error
	Replay(event interface{}, sequence int64) error
}

// NewAggregateBase creates a new aggregate base
func NewAggregateBase(aggregateType string, applier func(interface{}) error) *AggregateBase {
	return &AggregateBase{
		aggregateType: aggregateType,
		sequence:      0,
		events:        []Event{},
		applier:       applier,
	}
}

// GetID returns the aggregate ID
func (a *AggregateBase) GetID() string {
	return a.id
}

// SetID sets the aggregate ID
func (a *AggregateBase) SetID(id string) {
	a.id = id
}

// GetType returns the aggregate type
func (a *AggregateBase) GetType() string {
	return a.aggregateType
}

// GetSequence returns the sequence number of the last applied event
func (a *AggregateBase) GetSequence() int64 {
	return a.sequence
}

// GetEvents returns the uncommitted events
func (a *AggregateBase) GetEvents() []Event {
	return a.events
}

// ClearEvents clears the uncommitted events
func (a *AggregateBase) ClearEvents() {
	a.events = []Event{}
}

// Apply applies a new event to the aggregate and records it as uncommitted.
// Sequence numbers are provisional here; the event store assigns the
// durable gap-free sequence at append time.
func (a *AggregateBase) Apply(event interface{}) error {
	if a.applier == nil {
		return fmt.Errorf("applier is not set")
	}

	if err := a.applier(event); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	eventType, err := TypeOf(event)
	if err != nil {
		return err
	}

	a.sequence++
	a.events = append(a.events, Event{
		AggregateID:    a.id,
		AggregateType:  a.aggregateType,
		Type:           eventType,
		SequenceNumber: a.sequence,
		Timestamp:      time.Now().UTC(),
		Data:           event,
	})

	return nil
}

// SetEventIdentity stamps identity and causation metadata on the most
// recently applied uncommitted event. Callers supply an event ID when they
// need idempotent re-submission.
func (a *AggregateBase) SetEventIdentity(eventID, correlationID, causationID string) {
	if len(a.events) == 0 {
		return
	}
	last := &a.events[len(a.events)-1]
	last.ID = eventID
	last.CorrelationID = correlationID
	last.CausationID = causationID
}

// Replay applies a committed event while rebuilding state from the store.
// It advances the sequence without recording the event as uncommitted.
func (a *AggregateBase) Replay(event interface{}, sequence int64) error {
	if a.applier == nil {
		return fmt.Errorf("applier is not set")
	}

	if err := a.applier(event); err != nil {
		return fmt.Errorf("failed to replay event: %w", err)
	}

	a.sequence = sequence
	return nil
}

// TypeOf maps an event struct to its event type constant
func TypeOf(event interface{}) (string, error) {
	switch event.(type) {
	case OrderCreatedEvent:
		return OrderCreated, nil
	case OrderStatusChangedEvent:
		return OrderStatusChanged, nil
	case OrderProgressUpdatedEvent:
		return OrderProgressUpdated, nil
	case OrderCompletedEvent:
		return OrderCompleted, nil
	case OrderCancelledEvent:
		return OrderCancelled, nil
	case OrderRefundedEvent:
		return OrderRefunded, nil
	default:
		return "", fmt.Errorf("unknown event type: %T", event)
	}
}

// UnmarshalEventData decodes raw event data into the typed event struct for
// the given event type. The store and the projectors both need this.
func UnmarshalEventData(eventType string, unmarshal func(v interface{}) error) (interface{}, error) {
	switch eventType {
	case OrderCreated:
		var data OrderCreatedEvent
		if err := unmarshal(&data); err != nil {
			return nil, err
		}
		return data, nil
	case OrderStatusChanged:
		var data OrderStatusChangedEvent
		if err := unmarshal(&data); err != nil {
			return nil, err
		}
		return data, nil
	case OrderProgressUpdated:
		var data OrderProgressUpdatedEvent
		if err := unmarshal(&data); err != nil {
			return nil, err
		}
		return data, nil
	case OrderCompleted:
		var data OrderCompletedEvent
		if err := unmarshal(&data); err != nil {
			return nil, err
		}
		return data, nil
	case OrderCancelled:
		var data OrderCancelledEvent
		if err := unmarshal(&data); err != nil {
			return nil, err
		}
		return data, nil
	case OrderRefunded:
		var data OrderRefundedEvent
		if err := unmarshal(&data); err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}
