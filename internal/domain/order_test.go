package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newCreatedOrder(t *testing.T, quantity int) *OrderAggregate {
	t.Helper()
	aggregate := NewOrderAggregate("order-1")
	require.NoError(t, aggregate.Create(OrderCreatedEvent{
		OrderID:   "order-1",
		UserID:    "user-1",
		ServiceID: "service-1",
		Link:      "https://example.com/post/1",
		Quantity:  quantity,
		Charge:    9.99,
	}))
	return aggregate
}

func TestOrderLifecycle(t *testing.T) {
	aggregate := newCreatedOrder(t, 100)
	require.Equal(t, StatusPending, aggregate.State.Status)
	require.Equal(t, 100, aggregate.State.Remains)

	require.NoError(t, aggregate.ChangeStatus(StatusProcessing, "operator picked up"))
	require.NoError(t, aggregate.UpdateProgress(OrderProgressUpdatedEvent{CompletedCount: 40, StartCount: 10}))
	require.Equal(t, 60, aggregate.State.Remains)
	require.Equal(t, 10, aggregate.State.StartCount)

	require.NoError(t, aggregate.Complete(OrderCompletedEvent{CompletedAt: time.Now().UTC()}))
	require.Equal(t, StatusCompleted, aggregate.State.Status)
	require.Equal(t, 0, aggregate.State.Remains)
	require.NotNil(t, aggregate.State.CompletedAt)

	require.Len(t, aggregate.GetEvents(), 4)
	require.Equal(t, int64(4), aggregate.GetSequence())
}

func TestOrderCreateValidation(t *testing.T) {
	aggregate := NewOrderAggregate("order-1")
	require.Error(t, aggregate.Create(OrderCreatedEvent{Quantity: 0}))

	aggregate = newCreatedOrder(t, 10)
	err := aggregate.Create(OrderCreatedEvent{OrderID: "order-1", Quantity: 10})
	require.ErrorContains(t, err, "already exists")
}

func TestOrderCancelWithoutRemains(t *testing.T) {
	aggregate := newCreatedOrder(t, 100)
	require.NoError(t, aggregate.ChangeStatus(StatusProcessing, ""))
	require.NoError(t, aggregate.UpdateProgress(OrderProgressUpdatedEvent{CompletedCount: 30}))
	require.Equal(t, 70, aggregate.State.Remains)

	// No explicit remains on the cancellation: the full quantity is
	// outstanding again
	require.NoError(t, aggregate.Cancel(OrderCancelledEvent{Reason: "fraud"}))
	require.Equal(t, StatusCancelled, aggregate.State.Status)
	require.Equal(t, 100, aggregate.State.Remains)
}

func TestOrderCancelWithExplicitRemains(t *testing.T) {
	aggregate := newCreatedOrder(t, 100)
	require.NoError(t, aggregate.ChangeStatus(StatusProcessing, ""))

	remains := 25
	require.NoError(t, aggregate.Cancel(OrderCancelledEvent{Remains: &remains}))
	require.Equal(t, 25, aggregate.State.Remains)
}

func TestOrderStatusTransitions(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusProcessing))
	require.True(t, CanTransition(StatusProcessing, StatusActive))
	require.True(t, CanTransition(StatusActive, StatusCompleted))
	require.True(t, CanTransition(StatusCompleted, StatusHolding))
	require.True(t, CanTransition(StatusHolding, StatusProcessing))

	require.False(t, CanTransition(StatusPending, StatusCompleted))
	require.False(t, CanTransition(StatusCancelled, StatusProcessing))
	require.False(t, CanTransition(StatusRefunded, StatusPending))
	require.False(t, CanTransition(StatusCompleted, StatusActive))
}

func TestOrderInvalidTransitionRejected(t *testing.T) {
	aggregate := newCreatedOrder(t, 10)
	err := aggregate.ChangeStatus(StatusCompleted, "")
	require.ErrorContains(t, err, "invalid status transition")

	// Rejected commands leave no uncommitted event behind
	require.Len(t, aggregate.GetEvents(), 1)
	require.Equal(t, StatusPending, aggregate.State.Status)
}

func TestOrderRefund(t *testing.T) {
	aggregate := newCreatedOrder(t, 10)

	// Refunds only apply once the order stopped progressing
	require.Error(t, aggregate.Refund(OrderRefundedEvent{Amount: 5}))

	require.NoError(t, aggregate.ChangeStatus(StatusCancelled, "user request"))
	require.Error(t, aggregate.Refund(OrderRefundedEvent{Amount: 0}))
	require.NoError(t, aggregate.Refund(OrderRefundedEvent{Amount: 5}))
	require.NoError(t, aggregate.Refund(OrderRefundedEvent{Amount: 2.5}))

	require.Equal(t, StatusRefunded, aggregate.State.Status)
	require.Equal(t, 7.5, aggregate.State.Refunded)
}

func TestOrderProgressRejectedOnTerminalStatus(t *testing.T) {
	aggregate := newCreatedOrder(t, 10)
	require.NoError(t, aggregate.ChangeStatus(StatusCancelled, ""))
	require.Error(t, aggregate.UpdateProgress(OrderProgressUpdatedEvent{CompletedCount: 1}))
}

func TestReplayRebuildsIdenticalState(t *testing.T) {
	aggregate := newCreatedOrder(t, 100)
	require.NoError(t, aggregate.ChangeStatus(StatusProcessing, ""))
	require.NoError(t, aggregate.UpdateProgress(OrderProgressUpdatedEvent{CompletedCount: 60}))
	require.NoError(t, aggregate.Complete(OrderCompletedEvent{CompletedAt: time.Now().UTC()}))

	events := aggregate.GetEvents()

	rebuilt := NewOrderAggregate("order-1")
	for _, event := range events {
		require.NoError(t, rebuilt.Replay(event.Data, event.SequenceNumber))
	}

	require.Equal(t, aggregate.State.Status, rebuilt.State.Status)
	require.Equal(t, aggregate.State.Quantity, rebuilt.State.Quantity)
	require.Equal(t, aggregate.State.Remains, rebuilt.State.Remains)
	require.Equal(t, aggregate.GetSequence(), rebuilt.GetSequence())
	require.Empty(t, rebuilt.GetEvents())
}

func TestSetEventIdentity(t *testing.T) {
	aggregate := newCreatedOrder(t, 10)
	aggregate.SetEventIdentity("event-1", "corr-1", "cause-1")

	events := aggregate.GetEvents()
	require.Equal(t, "event-1", events[len(events)-1].ID)
	require.Equal(t, "corr-1", events[len(events)-1].CorrelationID)
	require.Equal(t, "cause-1", events[len(events)-1].CausationID)
}
