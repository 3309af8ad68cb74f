package roadpay

import (
	"fmt"

	"github.com/roadpay/roadpay/command"
	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/query"
)

// CommandQueryService is the operator surface the command and query
// handlers run against. *Service implements it.
type CommandQueryService interface {
	command.DeadLetterRetrier
	command.LedgerPurger
	query.LedgerReader
	query.DeadLetterReader
}

// Commands bundles the mutating operations, ready to subscribe on a
// dispatcher or execute directly.
type Commands struct {
	RetryDeadLetter *command.RetryDeadLetterCommand
	PurgeProcessed  *command.PurgeProcessedCommand
	UpsertCustomer  *command.UpsertCustomerCommand
}

// Queries bundles the read operations.
type Queries struct {
	GetProcessedEvent *query.GetProcessedEventQuery
	ListDeadLetters   *query.ListDeadLettersQuery
	CollectStats      *query.CollectStatsQuery
}

// Facade wires a service into the full command and query set.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	stats     query.StatsCollector
	customers command.CustomerUpserter
}

// WithStatsCollector overrides the stats source resolved from the
// service.
func WithStatsCollector(collector query.StatsCollector) FacadeOption {
	return func(options *facadeOptions) {
		options.stats = collector
	}
}

// WithFacadeCustomerUpserter overrides the customer directory resolved
// from the service.
func WithFacadeCustomerUpserter(customers command.CustomerUpserter) FacadeOption {
	return func(options *facadeOptions) {
		options.customers = customers
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("roadpay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	stats := cfg.stats
	if stats == nil {
		stats = resolveStatsCollector(service)
	}
	customers := cfg.customers
	if customers == nil {
		customers, _ = service.(command.CustomerUpserter)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		RetryDeadLetter: command.NewRetryDeadLetterCommand(service),
		PurgeProcessed:  command.NewPurgeProcessedCommand(service),
		UpsertCustomer:  command.NewUpsertCustomerCommand(customers),
	}
	facade.queries = Queries{
		GetProcessedEvent: query.NewGetProcessedEventQuery(service),
		ListDeadLetters:   query.NewListDeadLettersQuery(service),
		CollectStats:      query.NewCollectStatsQuery(stats),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveStatsCollector(service CommandQueryService) query.StatsCollector {
	if service == nil {
		return nil
	}
	if collector, ok := service.(query.StatsCollector); ok {
		return collector
	}
	provider, ok := service.(interface {
		Storage() core.Storage
	})
	if !ok {
		return nil
	}
	storage := provider.Storage()
	if storage == nil {
		return nil
	}
	collector, err := query.NewStorageStatsCollector(storage)
	if err != nil {
		return nil
	}
	return collector
}
