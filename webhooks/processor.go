package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roadpay/roadpay/core"
)

// Delivery statuses reported by the processor. Handler failures are
// contained in the partial_failure status, only verification and
// ledger failures surface as errors to the transport.
const (
	StatusProcessed        = "processed"
	StatusAlreadyProcessed = "already_processed"
	StatusUnhandled        = "unhandled"
	StatusPartialFailure   = "partial_failure"
)

// Result is the processor's report for one delivery.
type Result struct {
	Status    string         `json:"status"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Attempts  int            `json:"attempts,omitempty"`
	Results   map[string]any `json:"results,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// Processor runs the delivery pipeline: verify the signature, decode
// the envelope, claim the event id, route to handlers with bounded
// retry, and commit the outcome to the ledger. Exhausted handlers
// dead-letter the event for operator retry.
type Processor struct {
	verifier    *SignedPayloadVerifier
	registry    *Registry
	ledger      *EventLedger
	deadLetters *DeadLetterStore
	retry       *RetryEngine
	observer    core.Observer
	Now         func() time.Time
}

// ProcessorOption mutates processor construction.
type ProcessorOption func(*Processor)

// WithRetryEngine replaces the default retry engine.
func WithRetryEngine(engine *RetryEngine) ProcessorOption {
	return func(p *Processor) {
		if engine != nil {
			p.retry = engine
		}
	}
}

// WithObserver attaches logging and metrics to the pipeline.
func WithObserver(observer core.Observer) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

func NewProcessor(verifier *SignedPayloadVerifier, registry *Registry, ledger *EventLedger, deadLetters *DeadLetterStore, options ...ProcessorOption) (*Processor, error) {
	if verifier == nil {
		return nil, fmt.Errorf("webhooks: verifier is required")
	}

	if registry == nil {
		return nil, fmt.Errorf("webhooks: registry is required")
	}

	if ledger == nil {
		return nil, fmt.Errorf("webhooks: ledger is required")
	}

	if deadLetters == nil {
		return nil, fmt.Errorf("webhooks: dead letter store is required")
	}

	processor := &Processor{
		verifier:    verifier,
		registry:    registry,
		ledger:      ledger,
		deadLetters: deadLetters,
		retry:       NewRetryEngine(),
		Now:         time.Now,
	}

	for _, option := range options {
		if option != nil {
			option(processor)
		}
	}

	return processor, nil
}

// Process runs one inbound delivery end to end. It returns an error
// only for failures the provider should redeliver on: an invalid
// signature, an undecodable payload, or a ledger write failure.
func (p *Processor) Process(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("webhooks: processor is not configured")
	}

	startedAt := p.now()

	if err := p.verifier.Verify(signatureHeader, payload); err != nil {
		p.observer.ObserveOperation(ctx, startedAt, "webhook.rejected", err, nil)
		return Result{}, err
	}

	event, err := ParseEvent(payload)
	if err != nil {
		p.observer.ObserveOperation(ctx, startedAt, "webhook.rejected", err, nil)
		return Result{}, err
	}

	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	}

	claimed, err := p.ledger.Reserve(ctx, event.ID, event.Type)
	if err != nil {
		p.observer.ObserveOperation(ctx, startedAt, "webhook.process", err, fields)
		return Result{}, err
	}

	if !claimed {
		p.observer.LogInfo(ctx, "duplicate delivery acknowledged", fields)
		p.observer.ObserveOperation(ctx, startedAt, "webhook.duplicate", nil, fields)
		return Result{
			Status:    StatusAlreadyProcessed,
			EventID:   event.ID,
			EventType: event.Type,
		}, nil
	}

	result, err := p.dispatch(ctx, event)
	if err != nil {
		p.observer.ObserveOperation(ctx, startedAt, "webhook.process", err, fields)
		return Result{}, err
	}

	p.observer.ObserveOperation(ctx, startedAt, "webhook.process", nil, fields)

	return result, nil
}

// RetryDeadLetter replays a dead-lettered event from its stored
// payload. Success clears the dead-letter entry and rewrites the
// ledger record without the failure. Another exhaustion keeps the
// event dead-lettered with the attempt count accumulated.
func (p *Processor) RetryDeadLetter(ctx context.Context, eventID string) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("webhooks: processor is not configured")
	}

	startedAt := p.now()

	entry, err := p.deadLetters.Get(ctx, eventID)
	if err != nil {
		return Result{}, err
	}

	event := Event{
		ID:      entry.EventID,
		Type:    entry.EventType,
		Created: entry.Created,
	}

	if len(entry.Data) > 0 {
		if err := json.Unmarshal(entry.Data, &event.Data); err != nil {
			return Result{}, core.NewInvalidPayloadError("dead letter payload is corrupt")
		}
	}

	if event.Data == nil {
		event.Data = map[string]any{}
	}

	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	}

	handled, attempts, results, errs, lastErr := p.execute(ctx, event)
	if !handled {
		p.observer.LogWarn(ctx, "dead letter retry found no handler", fields)
	}

	if lastErr != nil {
		if err := p.deadLetters.Add(ctx, event, entry.Attempts+attempts, lastErr); err != nil {
			return Result{}, err
		}
	} else {
		if err := p.deadLetters.Remove(ctx, event.ID); err != nil {
			return Result{}, err
		}
	}

	record := core.ProcessedEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		ProcessedAt: p.now(),
		Success:     lastErr == nil,
		Error:       strings.Join(errs, "; "),
		Results:     results,
	}

	if err := p.ledger.Commit(ctx, record); err != nil {
		p.observer.ObserveOperation(ctx, startedAt, "webhook.redrive", err, fields)
		return Result{}, err
	}

	result := Result{
		Status:    StatusProcessed,
		EventID:   event.ID,
		EventType: event.Type,
		Attempts:  attempts,
		Results:   results,
		Errors:    errs,
	}

	if lastErr != nil {
		result.Status = StatusPartialFailure
	}

	p.observer.ObserveOperation(ctx, startedAt, "webhook.redrive", lastErr, fields)

	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, event Event) (Result, error) {
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	}

	handled, attempts, results, errs, lastErr := p.execute(ctx, event)

	if !handled {
		p.observer.LogWarn(ctx, "no handler registered for event type", fields)

		// The event is not consumed. Releasing the reservation keeps
		// the id claimable so the event still processes once a handler
		// for its type is registered.
		if err := p.ledger.Release(ctx, event.ID); err != nil {
			return Result{}, err
		}

		return Result{
			Status:    StatusUnhandled,
			EventID:   event.ID,
			EventType: event.Type,
		}, nil
	}

	if lastErr != nil {
		if err := p.deadLetters.Add(ctx, event, attempts, lastErr); err != nil {
			errorFields := cloneResultFields(fields)
			errorFields["error"] = err.Error()
			p.observer.LogError(ctx, "dead letter write failed", errorFields)
		}
	}

	record := core.ProcessedEvent{
		EventID:     event.ID,
		EventType:   event.Type,
		ProcessedAt: p.now(),
		Success:     lastErr == nil,
		Error:       strings.Join(errs, "; "),
		Results:     results,
	}

	if err := p.ledger.Commit(ctx, record); err != nil {
		return Result{}, err
	}

	result := Result{
		Status:    StatusProcessed,
		EventID:   event.ID,
		EventType: event.Type,
		Attempts:  attempts,
		Results:   results,
		Errors:    errs,
	}

	if lastErr != nil {
		result.Status = StatusPartialFailure
	}

	return result, nil
}

// execute runs every registered handler for the event through the
// retry engine. It reports whether any handler was registered, the
// largest attempt count spent on a single handler, the merged handler
// results, the failure messages, and the last exhaustion error.
func (p *Processor) execute(ctx context.Context, event Event) (bool, int, map[string]any, []string, error) {
	handlers := p.registry.Lookup(event.Type)
	if len(handlers) == 0 {
		return false, 0, nil, nil, nil
	}

	var (
		attempts int
		results  map[string]any
		errs     []string
		lastErr  error
	)

	for _, handler := range handlers {
		outcome := p.retry.Execute(ctx, handler, event)

		if outcome.Attempts > attempts {
			attempts = outcome.Attempts
		}

		if outcome.Exhausted {
			lastErr = outcome.LastError
			errs = append(errs, outcome.LastError.Error())
			continue
		}

		for key, value := range outcome.Result {
			if results == nil {
				results = map[string]any{}
			}
			results[key] = value
		}
	}

	return true, attempts, results, errs, lastErr
}

func cloneResultFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
