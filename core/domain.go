package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEventNotFound      = errors.New("core: event not found")
	ErrDeadLetterNotFound = errors.New("core: dead letter not found")
)

// Storage key namespaces. Every durable record the system writes lives
// under one of these prefixes.
const (
	KeyPrefixEvent         = "event:"
	KeyPrefixFailed        = "failed:"
	KeyPrefixDeadLetter    = "deadletter:"
	KeyPrefixCheckout      = "checkout:"
	KeyPrefixAbandoned     = "abandoned:"
	KeyPrefixSubscription  = "subscription:"
	KeyPrefixPayment       = "payment:"
	KeyPrefixPaymentFailed = "payment_failed:"
	KeyPrefixUncollectible = "uncollectible:"
	KeyPrefixDispute       = "dispute:"
)

func EventKey(eventID string) string { return KeyPrefixEvent + strings.TrimSpace(eventID) }

func FailedKey(eventID string) string { return KeyPrefixFailed + strings.TrimSpace(eventID) }

func DeadLetterKey(eventID string) string { return KeyPrefixDeadLetter + strings.TrimSpace(eventID) }

func CheckoutKey(sessionID string) string { return KeyPrefixCheckout + strings.TrimSpace(sessionID) }

func AbandonedKey(sessionID string) string { return KeyPrefixAbandoned + strings.TrimSpace(sessionID) }

func SubscriptionKey(subID string) string {
	return KeyPrefixSubscription + strings.TrimSpace(subID)
}

func PaymentKey(invoiceID string) string { return KeyPrefixPayment + strings.TrimSpace(invoiceID) }

func PaymentFailedKey(invoiceID string) string {
	return KeyPrefixPaymentFailed + strings.TrimSpace(invoiceID)
}

func UncollectibleKey(invoiceID string) string {
	return KeyPrefixUncollectible + strings.TrimSpace(invoiceID)
}

func DisputeKey(disputeID string) string { return KeyPrefixDispute + strings.TrimSpace(disputeID) }

// ProcessedEvent is the durable idempotency ledger entry. One row per
// event id; duplicate deliveries are detected against it and never
// re-execute handlers. Only the manual retry path re-persists it.
type ProcessedEvent struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	ProcessedAt time.Time      `json:"processed_at"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Results     map[string]any `json:"results,omitempty"`
}

func (p ProcessedEvent) Validate() error {
	if strings.TrimSpace(p.EventID) == "" {
		return fmt.Errorf("core: processed event id is required")
	}
	if strings.TrimSpace(p.EventType) == "" {
		return fmt.Errorf("core: processed event type is required")
	}
	return nil
}

func (p ProcessedEvent) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalProcessedEvent(data []byte) (ProcessedEvent, error) {
	var out ProcessedEvent
	if err := json.Unmarshal(data, &out); err != nil {
		return ProcessedEvent{}, fmt.Errorf("core: decode processed event: %w", err)
	}
	return out, nil
}

// DeadLetterEntry holds an event whose handler processing permanently
// failed, awaiting operator-triggered retry. It carries the full
// envelope so the retry re-runs from the original payload.
type DeadLetterEntry struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Data      []byte    `json:"data"`
	Created   time.Time `json:"created"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

func (d DeadLetterEntry) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func UnmarshalDeadLetterEntry(data []byte) (DeadLetterEntry, error) {
	var out DeadLetterEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return DeadLetterEntry{}, fmt.Errorf("core: decode dead letter entry: %w", err)
	}
	return out, nil
}

// NotificationDispatch records one outbound notification keyed by an
// idempotency key, so a duplicate handler execution does not produce a
// duplicate email.
type NotificationDispatch struct {
	EventID        string
	Template       string
	Recipient      string
	IdempotencyKey string
	Status         string
	Error          string
	Metadata       map[string]any
}

// NotificationDispatchLedger dedupes outbound notifications.
type NotificationDispatchLedger interface {
	Seen(ctx context.Context, idempotencyKey string) (bool, error)
	Record(ctx context.Context, dispatch NotificationDispatch) error
}
