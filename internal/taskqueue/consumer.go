package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/idempotency"
	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
)

// Handler executes the business work for one task attempt. Returning an
// error wrapped with NonRetryable skips remaining attempts and goes straight
// to the dead-letter queue.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Consumer drives a task message through validation, idempotency, delay,
// processing and retry. Every outcome acks the delivery exactly once: a nil
// return completes the message, and retries travel as new publishes rather
// than abandons. Only infrastructure failures return an error.
type Consumer struct {
	guard     idempotency.Guard
	publisher Publisher
	dlq       DeadLetterer
	handler   Handler
	collector *metrics.Collector
	backoff   Backoff

	// now is a hook for tests
	now func() time.Time
}

// NewConsumer wires a task consumer
func NewConsumer(guard idempotency.Guard, publisher Publisher, dlq DeadLetterer, handler Handler, collector *metrics.Collector, backoff Backoff) *Consumer {
	return &Consumer{
		guard:     guard,
		publisher: publisher,
		dlq:       dlq,
		handler:   handler,
		collector: collector,
		backoff:   backoff,
		now:       time.Now,
	}
}

// ProcessMessage implements messaging.MessageProcessor for the work queue
func (c *Consumer) ProcessMessage(ctx context.Context, delivery messaging.Delivery) error {
	var msg Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return c.dropMalformed(delivery.MessageID, err)
	}
	if err := msg.Validate(); err != nil {
		return c.dropMalformed(delivery.MessageID, err)
	}

	// Atomic first-caller check. An error here is infrastructure trouble:
	// abandon so the broker redelivers once the guard is reachable again.
	first, err := c.guard.CheckAndMark(ctx, msg.IdempotencyKey())
	if err != nil {
		return errors.Wrap(err, "idempotency check failed")
	}
	if !first {
		c.collector.Increment(metrics.CounterDuplicatesSkipped)
		log.Info().
			Str("messageId", msg.MessageID).
			Int("attempt", msg.AttemptNumber).
			Msg("Skipping duplicate task delivery")
		return nil
	}

	// A task that arrived before its scheduled time goes back on the queue
	// with the same attempt number. The re-publish is a fresh delivery, so
	// the attempt's guard key has to be released first.
	if msg.ShouldDelay(c.now()) {
		if err := c.requeue(ctx, msg); err != nil {
			return err
		}
		log.Debug().
			Str("messageId", msg.MessageID).
			Time("scheduleAt", *msg.ScheduleAt).
			Msg("Task deferred until its scheduled time")
		return nil
	}

	if err := c.handler.Handle(ctx, msg); err != nil {
		return c.handleFailure(ctx, msg, err)
	}

	c.collector.Increment(metrics.CounterTasksSucceeded)
	log.Info().
		Str("messageId", msg.MessageID).
		Str("routingKey", msg.RoutingKey).
		Int("attempt", msg.AttemptNumber).
		Msg("Task processed")
	return nil
}

// dropMalformed acks a structurally invalid message. Retrying cannot fix it
// and it never reaches the handler, so dropping is safe.
func (c *Consumer) dropMalformed(deliveryID string, cause error) error {
	c.collector.Increment(metrics.CounterTasksMalformed)
	log.Warn().Err(cause).
		Str("deliveryId", deliveryID).
		Msg("Dropping malformed task message")
	return nil
}

func (c *Consumer) handleFailure(ctx context.Context, msg Message, cause error) error {
	c.collector.Increment(metrics.CounterTasksFailed)

	if !IsRetryable(cause) {
		return c.deadLetter(ctx, msg, fmt.Sprintf("non-retryable: %v", cause))
	}
	if msg.AttemptNumber >= msg.MaxAttempts {
		return c.deadLetter(ctx, msg, fmt.Sprintf("exhausted %d attempts: %v", msg.AttemptNumber, cause))
	}

	retry := msg.NextAttempt(cause, c.backoff.Delay(msg.AttemptNumber+1), c.now())
	if err := c.publisher.EnqueueRetry(ctx, retry); err != nil {
		// The retry never made it out, so release the guard key and abandon:
		// the broker redelivers this attempt instead of losing the task.
		c.resetGuard(ctx, msg)
		return errors.Wrap(err, "failed to publish retry")
	}

	c.collector.Increment(metrics.CounterTasksRetried)
	log.Warn().Err(cause).
		Str("messageId", msg.MessageID).
		Int("attempt", msg.AttemptNumber).
		Int("nextAttempt", retry.AttemptNumber).
		Time("scheduleAt", *retry.ScheduleAt).
		Msg("Task failed, retry scheduled")
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message, reason string) error {
	if err := c.dlq.Send(ctx, msg, reason); err != nil {
		c.resetGuard(ctx, msg)
		return errors.Wrap(err, "failed to dead-letter task")
	}
	c.collector.Increment(metrics.CounterTasksDeadLettered)
	return nil
}

func (c *Consumer) requeue(ctx context.Context, msg Message) error {
	if err := c.guard.Reset(ctx, msg.IdempotencyKey()); err != nil {
		return errors.Wrap(err, "failed to release guard for deferred task")
	}
	if err := c.publisher.EnqueueRetry(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to re-publish deferred task")
	}
	return nil
}

func (c *Consumer) resetGuard(ctx context.Context, msg Message) {
	if err := c.guard.Reset(ctx, msg.IdempotencyKey()); err != nil {
		log.Error().Err(err).
			Str("messageId", msg.MessageID).
			Msg("Failed to release idempotency key after publish failure")
	}
}
