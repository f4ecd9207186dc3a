package messaging

import (
	"encoding/json"
	"time"
)

// MessageTypeEvent marks state-change event envelopes on the bus
const MessageTypeEvent = "order-event"

// EventMessage is the wire form of a committed event on the state-change queue
type EventMessage struct {
	EventID        string          `json:"eventId"`
	AggregateID    string          `json:"aggregateId"`
	AggregateType  string          `json:"aggregateType"`
	EventType      string          `json:"eventType"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Data           json.RawMessage `json:"data"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	CausationID    string          `json:"causationId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Envelope converts the event message into a transport envelope with headers
func (m EventMessage) Envelope() (Envelope, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}

	headers := map[string]interface{}{
		HeaderMessageType: MessageTypeEvent,
		HeaderCreatedAt:   m.Timestamp.UTC().Format(time.RFC3339),
		HeaderOrderID:     m.AggregateID,
	}
	if m.CorrelationID != "" {
		headers[HeaderCorrelationID] = m.CorrelationID
	}
	if m.CausationID != "" {
		headers[HeaderCausationID] = m.CausationID
	}

	return Envelope{
		MessageID: m.EventID,
		Body:      body,
		Headers:   headers,
	}, nil
}
