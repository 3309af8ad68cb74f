package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/roadpay/roadpay/webhooks"
)

// DeadLetterRetrier replays an exhausted delivery through its handlers.
type DeadLetterRetrier interface {
	RetryDeadLetter(ctx context.Context, eventID string) (webhooks.Result, error)
}

// LedgerPurger removes committed delivery records older than a cutoff.
type LedgerPurger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

// CustomerUpserter maintains the local customer contact mirror.
type CustomerUpserter interface {
	Upsert(ctx context.Context, customerID, email, name string) error
}

type RetryDeadLetterCommand struct {
	retrier DeadLetterRetrier
}

func NewRetryDeadLetterCommand(retrier DeadLetterRetrier) *RetryDeadLetterCommand {
	return &RetryDeadLetterCommand{retrier: retrier}
}

func (c *RetryDeadLetterCommand) Execute(ctx context.Context, msg RetryDeadLetterMessage) error {
	if c == nil || c.retrier == nil {
		return commandDependencyError("command: dead letter retrier is required")
	}
	out, err := c.retrier.RetryDeadLetter(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgeProcessedCommand struct {
	purger LedgerPurger
}

func NewPurgeProcessedCommand(purger LedgerPurger) *PurgeProcessedCommand {
	return &PurgeProcessedCommand{purger: purger}
}

func (c *PurgeProcessedCommand) Execute(ctx context.Context, msg PurgeProcessedMessage) error {
	if c == nil || c.purger == nil {
		return commandDependencyError("command: ledger purger is required")
	}
	out, err := c.purger.Purge(ctx, msg.Before)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertCustomerCommand struct {
	upserter CustomerUpserter
}

func NewUpsertCustomerCommand(upserter CustomerUpserter) *UpsertCustomerCommand {
	return &UpsertCustomerCommand{upserter: upserter}
}

func (c *UpsertCustomerCommand) Execute(ctx context.Context, msg UpsertCustomerMessage) error {
	if c == nil || c.upserter == nil {
		return commandDependencyError("command: customer upserter is required")
	}
	return c.upserter.Upsert(ctx, msg.CustomerID, msg.Email, msg.Name)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
