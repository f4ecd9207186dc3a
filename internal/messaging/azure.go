package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/config"
)

// AzureBus implements Bus over Azure Service Bus. Messages published with
// the same key share a session, which keeps them ordered for one consumer.
type AzureBus struct {
	client  *azservicebus.Client
	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewAzureBus creates a new Azure Service Bus client
func NewAzureBus(cfg config.AzureConfig) (*AzureBus, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &AzureBus{
		client:  client,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

func (b *AzureBus) sender(queue string) (*azservicebus.Sender, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sender, ok := b.senders[queue]; ok {
		return sender, nil
	}

	sender, err := b.client.NewSender(queue, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for queue %s", queue)
	}
	b.senders[queue] = sender
	return sender, nil
}

func buildMessage(key string, envelope Envelope) *azservicebus.Message {
	msg := &azservicebus.Message{
		Body:                  envelope.Body,
		ApplicationProperties: envelope.Headers,
	}
	if envelope.MessageID != "" {
		id := envelope.MessageID
		msg.MessageID = &id
	}
	if key != "" {
		sessionID := key
		msg.SessionID = &sessionID
	}
	return msg
}

// Publish sends an envelope to a queue, partitioned by key
func (b *AzureBus) Publish(ctx context.Context, queue, key string, envelope Envelope) error {
	sender, err := b.sender(queue)
	if err != nil {
		return err
	}

	if err := sender.SendMessage(ctx, buildMessage(key, envelope), nil); err != nil {
		return errors.Wrapf(err, "failed to send message to queue %s", queue)
	}
	return nil
}

// PublishDelayed schedules an envelope for future delivery
func (b *AzureBus) PublishDelayed(ctx context.Context, queue, key string, envelope Envelope, enqueueAt time.Time) error {
	sender, err := b.sender(queue)
	if err != nil {
		return err
	}

	msg := buildMessage(key, envelope)
	msg.ScheduledEnqueueTime = &enqueueAt

	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to schedule message to queue %s", queue)
	}
	return nil
}

// Run consumes a queue until the context is cancelled. Sessions are accepted
// as they become available and handled concurrently; within a session,
// messages are processed in order.
func (b *AzureBus) Run(ctx context.Context, queue string, processor MessageProcessor) error {
	log.Info().Str("queue", queue).Msg("Starting consumers")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sessionReceiver, err := b.client.AcceptNextSessionForQueue(ctx, queue, nil)
		if err != nil {
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Str("queue", queue).Msg("No session available, waiting...")
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "failed to accept session for queue %s", queue)
		}

		log.Info().Str("queue", queue).Str("session", sessionReceiver.SessionID()).Msg("Session received")

		go b.handleSession(ctx, queue, sessionReceiver, processor)
	}
}

func (b *AzureBus) handleSession(ctx context.Context, queue string, receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Str("session", receiver.SessionID()).Msg("Closing session")
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("session", receiver.SessionID()).Msg("Error closing session")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("session", receiver.SessionID()).Msg("Error receiving messages")
			}
			return
		}

		if len(messages) == 0 {
			// No more messages in this session
			return
		}

		for _, message := range messages {
			delivery := Delivery{
				MessageID: message.MessageID,
				Body:      message.Body,
				Headers:   message.ApplicationProperties,
				Queue:     queue,
			}
			if message.SequenceNumber != nil {
				delivery.BusSequence = *message.SequenceNumber
			}

			if err := processor.ProcessMessage(ctx, delivery); err != nil {
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error processing message")
				// Return the message to the queue
				if abandonErr := receiver.AbandonMessage(ctx, message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Str("messageID", message.MessageID).Msg("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Failed to complete message")
			}
		}
	}
}

// Close releases transport resources
func (b *AzureBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sender := range b.senders {
		if err := sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if b.client != nil {
		return b.client.Close(context.Background())
	}
	return nil
}
