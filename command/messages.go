package command

import (
	"strings"
	"time"
)

const (
	TypeRetryDeadLetter = "payments.command.deadletter.retry"
	TypePurgeProcessed  = "payments.command.ledger.purge"
	TypeUpsertCustomer  = "payments.command.customer.upsert"
)

type RetryDeadLetterMessage struct {
	EventID string
}

func (RetryDeadLetterMessage) Type() string { return TypeRetryDeadLetter }

func (m RetryDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

type PurgeProcessedMessage struct {
	Before time.Time
}

func (PurgeProcessedMessage) Type() string { return TypePurgeProcessed }

func (m PurgeProcessedMessage) Validate() error {
	if m.Before.IsZero() {
		return commandValidationError("before", "purge cutoff is required")
	}
	return nil
}

type UpsertCustomerMessage struct {
	CustomerID string
	Email      string
	Name       string
}

func (UpsertCustomerMessage) Type() string { return TypeUpsertCustomer }

func (m UpsertCustomerMessage) Validate() error {
	if strings.TrimSpace(m.CustomerID) == "" {
		return commandValidationError("customer_id", "customer id is required")
	}
	if strings.TrimSpace(m.Email) == "" {
		return commandValidationError("email", "customer email is required")
	}
	return nil
}
