// Package roadpay assembles the webhook processing pipeline from its
// parts: signature verification, the event envelope, the idempotency
// ledger, handler routing with bounded retry, and the dead letter
// queue. Embedding applications construct a Service from configuration
// and wire it behind their own transport.
package roadpay

import (
	"context"
	"fmt"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/events"
	"github.com/roadpay/roadpay/query"
	"github.com/roadpay/roadpay/security"
	"github.com/roadpay/roadpay/webhooks"
)

type Config = core.Config

type Observer = core.Observer

type Storage = core.Storage

type Event = webhooks.Event

type Result = webhooks.Result

type Stats = webhooks.Stats

type ProcessedEvent = core.ProcessedEvent

type DeadLetterEntry = core.DeadLetterEntry

// CustomerUpserter records provider customer contact details so
// notifications can resolve recipients without an API round trip.
type CustomerUpserter interface {
	Upsert(ctx context.Context, customerID, email, name string) error
}

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// ResolveConfig layers defaults, loaded configuration, and runtime
// overrides into a validated Config.
func ResolveConfig(
	ctx context.Context,
	provider core.ConfigProvider,
	resolver core.OptionsResolver,
	runtime Config,
) (Config, error) {
	return core.ResolveConfig(ctx, provider, resolver, runtime)
}

// Service is the assembled pipeline. It exposes delivery processing
// plus the operator surface the command and query handlers expect.
type Service struct {
	config      Config
	storage     core.Storage
	verifier    *webhooks.SignedPayloadVerifier
	registry    *webhooks.Registry
	ledger      *webhooks.EventLedger
	deadLetters *webhooks.DeadLetterStore
	processor   *webhooks.Processor
	stats       *query.StorageStatsCollector
	customers   CustomerUpserter
	observer    core.Observer
}

type Option func(*serviceOptions)

type serviceOptions struct {
	storage        core.Storage
	observer       core.Observer
	secrets        security.SecretSource
	registry       *webhooks.Registry
	retry          *webhooks.RetryEngine
	customers      CustomerUpserter
	handlerOptions []events.HandlersOption
}

// WithStorage replaces the default in-memory storage, usually with the
// SQL-backed key/value store.
func WithStorage(storage core.Storage) Option {
	return func(o *serviceOptions) {
		o.storage = storage
	}
}

// WithObserver attaches logging and metrics to the pipeline.
func WithObserver(observer core.Observer) Option {
	return func(o *serviceOptions) {
		o.observer = observer
	}
}

// WithSecretSource overrides the secret source derived from the
// webhook configuration.
func WithSecretSource(secrets security.SecretSource) Option {
	return func(o *serviceOptions) {
		o.secrets = secrets
	}
}

// WithRegistry supplies a pre-populated handler registry.
func WithRegistry(registry *webhooks.Registry) Option {
	return func(o *serviceOptions) {
		o.registry = registry
	}
}

// WithRetryEngine overrides the retry engine derived from the webhook
// configuration. Tests use this to skip real sleeps.
func WithRetryEngine(engine *webhooks.RetryEngine) Option {
	return func(o *serviceOptions) {
		o.retry = engine
	}
}

// WithCustomerUpserter wires the customer directory writes the upsert
// command needs.
func WithCustomerUpserter(customers CustomerUpserter) Option {
	return func(o *serviceOptions) {
		o.customers = customers
	}
}

// WithHandlerOptions forwards options to the default event handler set
// registered by Setup. NewService ignores them.
func WithHandlerOptions(options ...events.HandlersOption) Option {
	return func(o *serviceOptions) {
		o.handlerOptions = append(o.handlerOptions, options...)
	}
}

// NewService builds the pipeline from cfg. The handler registry starts
// empty unless WithRegistry provides one; use Setup to get the default
// event handlers registered as well.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	secrets := options.secrets
	if secrets == nil {
		built, err := secretSourceFromConfig(cfg.Webhook)
		if err != nil {
			return nil, err
		}
		secrets = built
	}

	verifier, err := webhooks.NewSignedPayloadVerifier(secrets)
	if err != nil {
		return nil, err
	}
	if cfg.Webhook.ToleranceSeconds > 0 {
		verifier.Tolerance = time.Duration(cfg.Webhook.ToleranceSeconds) * time.Second
	}

	storage := options.storage
	if storage == nil {
		storage = core.NewMemoryStorage()
	}

	ledger, err := webhooks.NewEventLedger(storage)
	if err != nil {
		return nil, err
	}
	deadLetters, err := webhooks.NewDeadLetterStore(storage)
	if err != nil {
		return nil, err
	}

	registry := options.registry
	if registry == nil {
		registry = webhooks.NewRegistry()
	}

	retry := options.retry
	if retry == nil {
		retry = webhooks.NewRetryEngine()
		retry.MaxAttempts = cfg.Webhook.MaxRetries
		retry.BaseDelay = time.Duration(cfg.Webhook.BaseDelaySeconds) * time.Second
	}

	processor, err := webhooks.NewProcessor(
		verifier,
		registry,
		ledger,
		deadLetters,
		webhooks.WithRetryEngine(retry),
		webhooks.WithObserver(options.observer),
	)
	if err != nil {
		return nil, err
	}

	stats, err := query.NewStorageStatsCollector(storage)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:      cfg,
		storage:     storage,
		verifier:    verifier,
		registry:    registry,
		ledger:      ledger,
		deadLetters: deadLetters,
		processor:   processor,
		stats:       stats,
		customers:   options.customers,
		observer:    options.observer,
	}, nil
}

// Setup builds a Service and registers the default event handlers on
// its registry.
func Setup(cfg Config, opts ...Option) (*Service, error) {
	options := serviceOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	service, err := NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}

	handlerOptions := append(
		[]events.HandlersOption{events.WithObserver(service.observer)},
		options.handlerOptions...,
	)
	handlers, err := events.NewHandlers(service.storage, handlerOptions...)
	if err != nil {
		return nil, err
	}
	if err := handlers.RegisterAll(service.registry); err != nil {
		return nil, err
	}

	return service, nil
}

// Process runs one delivery through the pipeline.
func (s *Service) Process(ctx context.Context, payload []byte, signatureHeader string) (webhooks.Result, error) {
	if s == nil || s.processor == nil {
		return webhooks.Result{}, fmt.Errorf("roadpay: service is not configured")
	}
	return s.processor.Process(ctx, payload, signatureHeader)
}

// RetryDeadLetter replays a dead lettered event through its handlers.
func (s *Service) RetryDeadLetter(ctx context.Context, eventID string) (webhooks.Result, error) {
	if s == nil || s.processor == nil {
		return webhooks.Result{}, fmt.Errorf("roadpay: service is not configured")
	}
	return s.processor.RetryDeadLetter(ctx, eventID)
}

// Purge removes committed ledger records older than the cutoff.
func (s *Service) Purge(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.ledger == nil {
		return 0, fmt.Errorf("roadpay: service is not configured")
	}
	return s.ledger.Purge(ctx, before)
}

// Get returns the ledger record for a processed event.
func (s *Service) Get(ctx context.Context, eventID string) (core.ProcessedEvent, error) {
	if s == nil || s.ledger == nil {
		return core.ProcessedEvent{}, fmt.Errorf("roadpay: service is not configured")
	}
	return s.ledger.Get(ctx, eventID)
}

// List returns the pending dead letters, oldest first.
func (s *Service) List(ctx context.Context) ([]core.DeadLetterEntry, error) {
	if s == nil || s.deadLetters == nil {
		return nil, fmt.Errorf("roadpay: service is not configured")
	}
	return s.deadLetters.List(ctx)
}

// CollectStats counts ledger records by outcome and event type, dead
// letters, and the event types with registered handlers.
func (s *Service) CollectStats(ctx context.Context) (webhooks.Stats, error) {
	if s == nil || s.stats == nil {
		return webhooks.Stats{}, fmt.Errorf("roadpay: service is not configured")
	}

	stats, err := s.stats.CollectStats(ctx)
	if err != nil {
		return webhooks.Stats{}, err
	}

	stats.HandlersRegistered = len(s.registry.EventTypes())

	return stats, nil
}

// Upsert records customer contact details through the configured
// directory.
func (s *Service) Upsert(ctx context.Context, customerID, email, name string) error {
	if s == nil {
		return fmt.Errorf("roadpay: service is not configured")
	}
	if s.customers == nil {
		return fmt.Errorf("roadpay: customer directory is not configured")
	}
	return s.customers.Upsert(ctx, customerID, email, name)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() *webhooks.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Storage() core.Storage {
	if s == nil {
		return nil
	}
	return s.storage
}

func (s *Service) Ledger() *webhooks.EventLedger {
	if s == nil {
		return nil
	}
	return s.ledger
}

func (s *Service) DeadLetters() *webhooks.DeadLetterStore {
	if s == nil {
		return nil
	}
	return s.deadLetters
}

func secretSourceFromConfig(cfg core.WebhookConfig) (security.SecretSource, error) {
	if cfg.PreviousSecret != "" {
		return security.NewRotatingSecretSource(cfg.Secret, cfg.PreviousSecret, security.RotationWindow{})
	}
	return security.NewStaticSecretSource(cfg.Secret)
}
