package domain

import (
	"fmt"
	"time"
)

// AggregateTypeOrder is the aggregate type stored with every order event
const AggregateTypeOrder = "order"

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusActive     = "ACTIVE"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusHolding    = "HOLDING"
	StatusRefunded   = "REFUNDED"
)

// validTransitions defines the allowed status transitions. CANCELLED and
// REFUNDED are terminal.
var validTransitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusHolding},
	StatusProcessing: {StatusActive, StatusCompleted, StatusHolding, StatusCancelled},
	StatusActive:     {StatusCompleted, StatusHolding, StatusCancelled},
	StatusHolding:    {StatusProcessing, StatusCancelled},
	StatusCompleted:  {StatusHolding},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderState represents the materialized state of an order
type OrderState struct {
	OrderID     string
	UserID      string
	ServiceID   string
	Link        string
	Status      string
	Quantity    int
	StartCount  int
	Remains     int
	Charge      float64
	Refunded    float64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// OrderAggregate is the aggregate for an order
type OrderAggregate struct {
	*AggregateBase
	State OrderState
}

// NewOrderAggregate creates a new order aggregate
func NewOrderAggregate(id string) *OrderAggregate {
	aggregate := &OrderAggregate{
		State: OrderState{Status: StatusPending},
	}

	base := NewAggregateBase(AggregateTypeOrder, aggregate.applyEvent)
	base.SetID(id)
	aggregate.AggregateBase = base

	return aggregate
}

// ChangeStatus applies a status change after validating the transition
func (a *OrderAggregate) ChangeStatus(newStatus, reason string) error {
	if !CanTransition(a.State.Status, newStatus) {
		return fmt.Errorf("invalid status transition %s -> %s", a.State.Status, newStatus)
	}
	return a.Apply(OrderStatusChangedEvent{
		OldStatus: a.State.Status,
		NewStatus: newStatus,
		Reason:    reason,
	})
}

// Create applies the creation event to a fresh aggregate
func (a *OrderAggregate) Create(e OrderCreatedEvent) error {
	if a.GetSequence() > 0 {
		return fmt.Errorf("order %s already exists", a.GetID())
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %d", e.Quantity)
	}
	if e.OrderID == "" {
		e.OrderID = a.GetID()
	}
	return a.Apply(e)
}

// UpdateProgress records delivery progress against the target quantity
func (a *OrderAggregate) UpdateProgress(e OrderProgressUpdatedEvent) error {
	if a.GetSequence() == 0 {
		return fmt.Errorf("order %s does not exist", a.GetID())
	}
	switch a.State.Status {
	case StatusCancelled, StatusRefunded, StatusCompleted:
		return fmt.Errorf("cannot record progress on %s order %s", a.State.Status, a.GetID())
	}
	if e.CompletedCount < 0 {
		return fmt.Errorf("completed count must not be negative, got %d", e.CompletedCount)
	}
	return a.Apply(e)
}

// Complete marks the order fully delivered
func (a *OrderAggregate) Complete(e OrderCompletedEvent) error {
	if !CanTransition(a.State.Status, StatusCompleted) {
		return fmt.Errorf("invalid status transition %s -> %s", a.State.Status, StatusCompleted)
	}
	return a.Apply(e)
}

// Cancel cancels the order
func (a *OrderAggregate) Cancel(e OrderCancelledEvent) error {
	if !CanTransition(a.State.Status, StatusCancelled) {
		return fmt.Errorf("invalid status transition %s -> %s", a.State.Status, StatusCancelled)
	}
	return a.Apply(e)
}

// Refund records a refund. Refunds only apply to orders that stopped
// progressing.
func (a *OrderAggregate) Refund(e OrderRefundedEvent) error {
	switch a.State.Status {
	case StatusCompleted, StatusCancelled, StatusHolding, StatusRefunded:
	default:
		return fmt.Errorf("cannot refund %s order %s", a.State.Status, a.GetID())
	}
	if e.Amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %f", e.Amount)
	}
	return a.Apply(e)
}

// applyEvent applies an event to the order aggregate
func (a *OrderAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case OrderCreatedEvent:
		a.State.OrderID = e.OrderID
		a.State.UserID = e.UserID
		a.State.ServiceID = e.ServiceID
		a.State.Link = e.Link
		a.State.Quantity = e.Quantity
		a.State.Charge = e.Charge
		a.State.Status = StatusPending
		a.State.Remains = e.Quantity
		a.State.CreatedAt = time.Now().UTC()

	case OrderStatusChangedEvent:
		a.State.Status = e.NewStatus

	case OrderProgressUpdatedEvent:
		if e.StartCount > 0 {
			a.State.StartCount = e.StartCount
		}
		remains := a.State.Quantity - e.CompletedCount
		if remains < 0 {
			remains = 0
		}
		a.State.Remains = remains

	case OrderCompletedEvent:
		a.State.Status = StatusCompleted
		a.State.Remains = 0
		completedAt := e.CompletedAt
		if completedAt.IsZero() {
			completedAt = time.Now().UTC()
		}
		a.State.CompletedAt = &completedAt

	case OrderCancelledEvent:
		a.State.Status = StatusCancelled
		// A cancellation without an explicit remains means nothing was
		// delivered: the whole quantity is outstanding.
		if e.Remains != nil {
			a.State.Remains = *e.Remains
		} else {
			a.State.Remains = a.State.Quantity
		}

	case OrderRefundedEvent:
		a.State.Status = StatusRefunded
		a.State.Refunded += e.Amount
	}

	return nil
}
