package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/messaging"
	"example.com/backstage/services/orders/internal/metrics"
)

// Publisher enqueues task messages onto the work queue
type Publisher interface {
	Enqueue(ctx context.Context, msg Message) (Message, error)
	EnqueueRetry(ctx context.Context, msg Message) error
}

// Producer publishes task messages to the work queue, partitioned by
// routing key so tasks for one order stay ordered.
type Producer struct {
	bus         messaging.Bus
	collector   *metrics.Collector
	queue       string
	maxAttempts int
}

// NewProducer creates a task producer for the given work queue
func NewProducer(bus messaging.Bus, collector *metrics.Collector, queue string, defaultMaxAttempts int) *Producer {
	if defaultMaxAttempts < 1 {
		defaultMaxAttempts = 3
	}
	return &Producer{
		bus:         bus,
		collector:   collector,
		queue:       queue,
		maxAttempts: defaultMaxAttempts,
	}
}

// Enqueue fills message defaults and publishes it. The populated message is
// returned so callers can hand the messageId back to the requester.
func (p *Producer) Enqueue(ctx context.Context, msg Message) (Message, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.Priority == "" {
		msg.Priority = PriorityMedium
	}
	if msg.AttemptNumber == 0 {
		msg.AttemptNumber = 1
	}
	if msg.MaxAttempts == 0 {
		msg.MaxAttempts = p.maxAttempts
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := msg.Validate(); err != nil {
		return msg, errors.Wrap(err, "invalid task message")
	}

	if err := p.publish(ctx, msg); err != nil {
		return msg, err
	}
	p.collector.Increment(metrics.CounterTasksSent)

	log.Debug().
		Str("messageId", msg.MessageID).
		Str("routingKey", msg.RoutingKey).
		Int("attempt", msg.AttemptNumber).
		Msg("Task enqueued")
	return msg, nil
}

// EnqueueRetry publishes an already-populated retry message, honoring its
// scheduled time.
func (p *Producer) EnqueueRetry(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return errors.Wrap(err, "invalid retry message")
	}
	return p.publish(ctx, msg)
}

func (p *Producer) publish(ctx context.Context, msg Message) error {
	envelope, err := msg.Envelope()
	if err != nil {
		return errors.Wrap(err, "failed to marshal task message")
	}

	if msg.ShouldDelay(time.Now()) {
		if err := p.bus.PublishDelayed(ctx, p.queue, msg.RoutingKey, envelope, *msg.ScheduleAt); err != nil {
			return errors.Wrap(err, "failed to publish delayed task")
		}
		return nil
	}
	if err := p.bus.Publish(ctx, p.queue, msg.RoutingKey, envelope); err != nil {
		return errors.Wrap(err, "failed to publish task")
	}
	return nil
}
