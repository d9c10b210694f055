package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/atlaspay/ledger/internal/config"
	"github.com/atlaspay/ledger/internal/models"
)

// Publisher emits "ledger written" notifications after each committed
// posting pair. Publishing is a post-commit side effect: failures are the
// caller's to log and swallow.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewPublisher connects to the broker and declares the ledger-written queue.
func NewPublisher(cfg *config.AMQPConfig) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		cfg.LedgerWrittenQueue,
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

	log.Printf("[PUBLISHER] initialized: queue=%s", cfg.LedgerWrittenQueue)

	return &Publisher{
		conn:    conn,
		channel: channel,
		queue:   cfg.LedgerWrittenQueue,
	}, nil
}

// PublishLedgerWritten sends {eventId, at, payload} keyed by the event id.
func (p *Publisher) PublishLedgerWritten(ctx context.Context, event *models.PaymentEvent) error {
	body, err := json.Marshal(map[string]interface{}{
		"eventId": event.EventID,
		"at":      event.At.Format(time.RFC3339),
		"payload": event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal ledger written event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish ledger written event %s: %w", event.EventID, err)
	}
	return nil
}

// Close closes the broker channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Printf("[PUBLISHER] error closing channel: %v", err)
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
