package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/atlaspay/ledger/internal/config"
	"github.com/atlaspay/ledger/internal/models"
)

// PaymentHandler processes one payment event. A returned error means the
// event was not committed and should be redelivered.
type PaymentHandler interface {
	Process(ctx context.Context, event *models.PaymentEvent) error
}

// Consumer reads payment events from a single ordered queue and hands them
// to the ledger processor one at a time. Delivery is at-least-once: events
// are acked only after the ledger commit, so a crash between commit and ack
// replays the event and the unique posting index absorbs the duplicate.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.AMQPConfig
	handler PaymentHandler
}

// NewConsumer connects to the broker and declares the payments queue.
func NewConsumer(cfg *config.AMQPConfig, handler PaymentHandler) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Prefetch 1 keeps processing strictly sequential per consumer.
	if err := channel.Qos(cfg.Prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	if _, err := channel.QueueDeclare(
		cfg.PaymentsQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	log.Printf("[CONSUMER] initialized: queue=%s prefetch=%d", cfg.PaymentsQueue, cfg.Prefetch)

	return &Consumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
		handler: handler,
	}, nil
}

// Start consumes until the context is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.PaymentsQueue,
		"",    // consumer tag (auto-generated)
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Printf("[CONSUMER] started, waiting for messages on queue: %s", c.config.PaymentsQueue)

	for {
		select {
		case <-ctx.Done():
			log.Println("[CONSUMER] context cancelled, stopping")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	event, err := models.ParsePaymentEvent(msg.Body)
	if err != nil {
		// Malformed messages and unknown kinds are dead-lettered, never
		// requeued: redelivery cannot make them parse.
		if errors.Is(err, models.ErrUnknownEventKind) {
			log.Printf("[CONSUMER] skipping message: %v", err)
		} else {
			log.Printf("[CONSUMER] rejecting unparseable message: %v", err)
		}
		msg.Nack(false, false)
		return
	}

	if err := c.handler.Process(ctx, event); err != nil {
		// Store failure before commit: requeue for redelivery.
		log.Printf("[CONSUMER] processing failed for %s, requeueing: %v", event.EventID, err)
		msg.Nack(false, true)
		return
	}

	msg.Ack(false)
}

// Close closes the broker channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			log.Printf("[CONSUMER] error closing channel: %v", err)
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
