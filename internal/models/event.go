package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventKind discriminates the messages arriving on the payments channel.
// The union is closed: anything outside it is rejected at the boundary.
type EventKind string

const (
	EventPaymentInitiated EventKind = "PAYMENT_INITIATED"
)

// ErrUnknownEventKind is returned for messages whose type is outside the
// supported union. Callers should dead-letter these instead of retrying.
var ErrUnknownEventKind = fmt.Errorf("unknown event kind")

// PaymentPayload carries the economic content of a payment event.
type PaymentPayload struct {
	FromAccount string  `json:"fromAccount" validate:"required"`
	ToAccount   string  `json:"toAccount" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Remarks     string  `json:"remarks,omitempty"`
	Complaints  string  `json:"complaints,omitempty"`
}

// PaymentEvent is the external input to the ledger pipeline. EventID is the
// idempotency key for every write derived from it.
type PaymentEvent struct {
	EventID string         `json:"eventId" validate:"required"`
	Type    EventKind      `json:"type" validate:"required"`
	At      time.Time      `json:"at" validate:"required"`
	Payload PaymentPayload `json:"payload" validate:"required"`
}

var eventValidator = validator.New()

// ParsePaymentEvent decodes and validates a raw payments-channel message.
// Unknown event kinds return ErrUnknownEventKind; malformed or invalid
// payloads return a descriptive error. Either way the message must not be
// requeued.
func ParsePaymentEvent(data []byte) (*PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode payment event: %w", err)
	}

	if event.Type != EventPaymentInitiated {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, event.Type)
	}

	if err := eventValidator.Struct(&event); err != nil {
		return nil, fmt.Errorf("validate payment event %s: %w", event.EventID, err)
	}

	return &event, nil
}
