package domain

import (
	"time"
)

// EventType constants
const (
	OrderCreated         = "V1_ORDER_CREATED"
	OrderStatusChanged   = "V1_ORDER_STATUS_CHANGED"
	OrderProgressUpdated = "V1_ORDER_PROGRESS_UPDATED"
	OrderCompleted       = "V1_ORDER_COMPLETED"
	OrderCancelled       = "V1_ORDER_CANCELLED"
	OrderRefunded        = "V1_ORDER_REFUNDED"
)

// Event represents a domain event
type Event struct {
	ID             string      `json:"id"`
	AggregateID    string      `json:"aggregate_id"`
	AggregateType  string      `json:"aggregate_type"`
	Type           string      `json:"type"`
	SequenceNumber int64       `json:"sequence_number"`
	CorrelationID  string      `json:"correlation_id"`
	CausationID    string      `json:"causation_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           interface{} `json:"data"`
}

// OrderCreatedEvent represents an order created event
type OrderCreatedEvent struct {
	OrderID   string  `json:"order_id"`
	UserID    string  `json:"user_id"`
	ServiceID string  `json:"service_id"`
	Link      string  `json:"link"`
	Quantity  int     `json:"quantity"`
	Charge    float64 `json:"charge"`
}

// OrderStatusChangedEvent represents an order status transition
type OrderStatusChangedEvent struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Reason    string `json:"reason,omitempty"`
}

// OrderProgressUpdatedEvent records delivery progress against the target quantity
type OrderProgressUpdatedEvent struct {
	CompletedCount int `json:"completed_count"`
	StartCount     int `json:"start_count,omitempty"`
}

// OrderCompletedEvent represents an order fully delivered
type OrderCompletedEvent struct {
	CompletedAt time.Time `json:"completed_at"`
}

// OrderCancelledEvent represents an order cancellation.
// Remains is optional: when absent, nothing was delivered and the full
// quantity remains outstanding.
type OrderCancelledEvent struct {
	Reason  string `json:"reason,omitempty"`
	Remains *int   `json:"remains,omitempty"`
}

// OrderRefundedEvent represents a full or partial refund
type OrderRefundedEvent struct {
	Amount float64 `json:"amount"`
}
