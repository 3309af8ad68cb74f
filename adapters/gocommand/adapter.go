package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	paymentscommand "github.com/roadpay/roadpay/command"
	paymentsquery "github.com/roadpay/roadpay/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// PaymentOperations collects the collaborators the payment command and
// query handlers run against.
type PaymentOperations struct {
	Retrier   paymentscommand.DeadLetterRetrier
	Purger    paymentscommand.LedgerPurger
	Customers paymentscommand.CustomerUpserter
	Ledger    paymentsquery.LedgerReader
	DeadLets  paymentsquery.DeadLetterReader
	Stats     paymentsquery.StatsCollector
}

// RegisterPaymentOperations registers and subscribes every payment
// command and query whose collaborator is wired. It returns the active
// subscriptions so callers can unsubscribe on shutdown.
func RegisterPaymentOperations(
	adapter *RegistryAdapter,
	ops PaymentOperations,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}

	var subscriptions []commanddispatcher.Subscription
	cleanup := func() {
		for _, sub := range subscriptions {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
	}

	if ops.Retrier != nil {
		cmd := paymentscommand.NewRetryDeadLetterCommand(ops.Retrier)
		subscriptions = append(subscriptions, SubscribeCommand(cmd, runnerOpts...))
		if err := adapter.RegisterCommand(cmd); err != nil {
			cleanup()
			return nil, err
		}
	}
	if ops.Purger != nil {
		cmd := paymentscommand.NewPurgeProcessedCommand(ops.Purger)
		subscriptions = append(subscriptions, SubscribeCommand(cmd, runnerOpts...))
		if err := adapter.RegisterCommand(cmd); err != nil {
			cleanup()
			return nil, err
		}
	}
	if ops.Customers != nil {
		cmd := paymentscommand.NewUpsertCustomerCommand(ops.Customers)
		subscriptions = append(subscriptions, SubscribeCommand(cmd, runnerOpts...))
		if err := adapter.RegisterCommand(cmd); err != nil {
			cleanup()
			return nil, err
		}
	}
	if ops.Ledger != nil {
		qry := paymentsquery.NewGetProcessedEventQuery(ops.Ledger)
		subscriptions = append(subscriptions, SubscribeQuery(qry, runnerOpts...))
		if err := adapter.RegisterQuery(qry); err != nil {
			cleanup()
			return nil, err
		}
	}
	if ops.DeadLets != nil {
		qry := paymentsquery.NewListDeadLettersQuery(ops.DeadLets)
		subscriptions = append(subscriptions, SubscribeQuery(qry, runnerOpts...))
		if err := adapter.RegisterQuery(qry); err != nil {
			cleanup()
			return nil, err
		}
	}
	if ops.Stats != nil {
		qry := paymentsquery.NewCollectStatsQuery(ops.Stats)
		subscriptions = append(subscriptions, SubscribeQuery(qry, runnerOpts...))
		if err := adapter.RegisterQuery(qry); err != nil {
			cleanup()
			return nil, err
		}
	}

	return subscriptions, nil
}
