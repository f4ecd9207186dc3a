package messaging

import (
	"context"
	"time"
)

// Envelope header keys carried as transport application properties
const (
	HeaderMessageType   = "message-type"
	HeaderPriority      = "priority"
	HeaderAttempt       = "attempt"
	HeaderCreatedAt     = "created-at"
	HeaderCorrelationID = "correlation-id"
	HeaderCausationID   = "causation-id"
	HeaderOrderID       = "order-id"
)

// Envelope is a message plus its transport headers
type Envelope struct {
	MessageID string
	Body      []byte
	Headers   map[string]interface{}
}

// Delivery is a received message handed to a MessageProcessor
type Delivery struct {
	MessageID   string
	Body        []byte
	Headers     map[string]interface{}
	Queue       string
	BusSequence int64
}

// MessageProcessor handles a single delivery. A non-nil error abandons the
// message back to the queue; nil completes it. All business-level retry and
// dead-letter decisions happen inside the processor, which is why it must
// only return errors for infrastructure failures.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, delivery Delivery) error
}

// Bus is the interface for the ordered, partitioned message transport.
// Publishing with the same key guarantees in-order delivery of those
// messages to a single consumer.
type Bus interface {
	// Publish sends an envelope to a queue, partitioned by key
	Publish(ctx context.Context, queue, key string, envelope Envelope) error

	// PublishDelayed schedules an envelope for future delivery
	PublishDelayed(ctx context.Context, queue, key string, envelope Envelope, enqueueAt time.Time) error

	// Run consumes a queue until the context is cancelled
	Run(ctx context.Context, queue string, processor MessageProcessor) error

	// Close releases transport resources
	Close() error
}
