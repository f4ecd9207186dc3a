package projections

import (
	"time"

	"example.com/backstage/services/orders/internal/domain"
)

// Index dimensions for read-model listings
const (
	IndexUser    = "user"
	IndexStatus  = "status"
	IndexService = "service"
	IndexRecent  = "recent"
)

// OrderReadModel is the denormalized query-side view of an order. It is
// always recomputed wholesale from the event history, never patched in
// place, so a rebuild from sequence 1 yields a byte-identical model.
type OrderReadModel struct {
	OrderID     string     `json:"orderId"`
	UserID      string     `json:"userId"`
	ServiceID   string     `json:"serviceId"`
	Link        string     `json:"link"`
	Status      string     `json:"status"`
	Quantity    int        `json:"quantity"`
	StartCount  int        `json:"startCount"`
	Remains     int        `json:"remains"`
	Delivered   int        `json:"delivered"`
	Charge      float64    `json:"charge"`
	Refunded    float64    `json:"refunded"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// FromState derives the read model from materialized order state. Version is
// the sequence number of the last event folded in.
func FromState(state domain.OrderState, version int64, updatedAt time.Time) OrderReadModel {
	delivered := state.Quantity - state.Remains
	if delivered < 0 {
		delivered = 0
	}
	return OrderReadModel{
		OrderID:     state.OrderID,
		UserID:      state.UserID,
		ServiceID:   state.ServiceID,
		Link:        state.Link,
		Status:      state.Status,
		Quantity:    state.Quantity,
		StartCount:  state.StartCount,
		Remains:     state.Remains,
		Delivered:   delivered,
		Charge:      state.Charge,
		Refunded:    state.Refunded,
		Version:     version,
		CreatedAt:   state.CreatedAt,
		CompletedAt: state.CompletedAt,
		UpdatedAt:   updatedAt,
	}
}

// IndexRef names one index membership for a read model
type IndexRef struct {
	Dimension string
	Value     string
}

// IndexRefs lists every index the model belongs to
func (m OrderReadModel) IndexRefs() []IndexRef {
	return []IndexRef{
		{Dimension: IndexUser, Value: m.UserID},
		{Dimension: IndexStatus, Value: m.Status},
		{Dimension: IndexService, Value: m.ServiceID},
		{Dimension: IndexRecent},
	}
}
