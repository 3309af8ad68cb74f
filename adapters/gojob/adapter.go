package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/webhooks"
)

const (
	JobIDDeadLetterRedrive = "payments.deadletter.redrive"
	JobIDLedgerPurge       = "payments.ledger.purge"
)

const (
	paramEventID = "event_id"
	paramBefore  = "before"
)

// DeadLetterRetrier replays an exhausted delivery through its handlers.
type DeadLetterRetrier interface {
	RetryDeadLetter(ctx context.Context, eventID string) (webhooks.Result, error)
}

// LedgerPurger removes committed delivery records older than a cutoff.
type LedgerPurger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

// RetryPolicy bounds queue retry behavior so a poisoned redrive cannot
// loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Normalize clamps nack options for the given attempt number.
func (p RetryPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NewRedriveMessage builds the queue message that replays one dead
// letter. The idempotency key pins the message to its event so a
// crashed worker cannot double-enqueue the same replay.
func NewRedriveMessage(eventID string) (*job.ExecutionMessage, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("gojob: event id is required")
	}
	return &job.ExecutionMessage{
		JobID:          JobIDDeadLetterRedrive,
		Parameters:     map[string]any{paramEventID: eventID},
		IdempotencyKey: JobIDDeadLetterRedrive + "::" + eventID,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}, nil
}

// NewPurgeMessage builds the queue message that prunes committed
// delivery records older than the cutoff.
func NewPurgeMessage(before time.Time) (*job.ExecutionMessage, error) {
	if before.IsZero() {
		return nil, fmt.Errorf("gojob: purge cutoff is required")
	}
	cutoff := before.UTC().Format(time.RFC3339)
	return &job.ExecutionMessage{
		JobID:          JobIDLedgerPurge,
		Parameters:     map[string]any{paramBefore: cutoff},
		IdempotencyKey: JobIDLedgerPurge + "::" + cutoff,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}, nil
}

// Enqueuer schedules pipeline maintenance jobs on a go-job queue.
type Enqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer}
}

func (e *Enqueuer) EnqueueRedrive(ctx context.Context, eventID string) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := NewRedriveMessage(eventID)
	if err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, msg)
}

func (e *Enqueuer) EnqueuePurge(ctx context.Context, before time.Time) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := NewPurgeMessage(before)
	if err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, msg)
}

// Worker consumes maintenance deliveries and routes them to the
// pipeline. Failures nack with policy-bounded retry options.
type Worker struct {
	retrier  DeadLetterRetrier
	purger   LedgerPurger
	policy   RetryPolicy
	observer core.Observer
}

func NewWorker(retrier DeadLetterRetrier, purger LedgerPurger, policy RetryPolicy, observer core.Observer) *Worker {
	return &Worker{
		retrier:  retrier,
		purger:   purger,
		policy:   policy,
		observer: observer,
	}
}

// HandleDelivery executes one queue delivery and acks or nacks it.
// The returned error reports the handler outcome, the delivery itself
// is always settled.
func (w *Worker) HandleDelivery(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if w == nil {
		return fmt.Errorf("gojob: worker is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}

	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, w.policy.Normalize(queue.NackOptions{
			DeadLetter: true,
			Reason:     "empty delivery",
		}, attempt))
	}

	err := w.execute(ctx, msg)
	if err == nil {
		return delivery.Ack(ctx)
	}

	nackErr := delivery.Nack(ctx, w.policy.Normalize(queue.NackOptions{
		Delay:   w.retryDelay(attempt),
		Requeue: true,
		Reason:  err.Error(),
	}, attempt))
	if nackErr != nil {
		return fmt.Errorf("gojob: nack after %q: %w", err.Error(), nackErr)
	}
	return err
}

func (w *Worker) execute(ctx context.Context, msg *job.ExecutionMessage) error {
	startedAt := time.Now()

	switch msg.JobID {
	case JobIDDeadLetterRedrive:
		if w.retrier == nil {
			return fmt.Errorf("gojob: dead letter retrier is not configured")
		}
		eventID := stringParam(msg.Parameters, paramEventID)
		if eventID == "" {
			return fmt.Errorf("gojob: redrive message is missing %s", paramEventID)
		}
		result, err := w.retrier.RetryDeadLetter(ctx, eventID)
		w.observer.ObserveOperation(ctx, startedAt, "deadletter_redrive", err, map[string]any{
			"event_id": eventID,
			"status":   result.Status,
			"attempts": result.Attempts,
		})
		return err

	case JobIDLedgerPurge:
		if w.purger == nil {
			return fmt.Errorf("gojob: ledger purger is not configured")
		}
		raw := stringParam(msg.Parameters, paramBefore)
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("gojob: purge message has invalid cutoff %q: %w", raw, err)
		}
		purged, err := w.purger.Purge(ctx, before)
		w.observer.ObserveOperation(ctx, startedAt, "ledger_purge", err, map[string]any{
			"before": raw,
			"purged": purged,
		})
		return err

	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * time.Minute
	if w.policy.MaxDelay > 0 && delay > w.policy.MaxDelay {
		delay = w.policy.MaxDelay
	}
	return delay
}

// ObserverHook reports worker lifecycle events through the shared
// observer.
type ObserverHook struct {
	observer core.Observer
}

func NewObserverHook(observer core.Observer) *ObserverHook {
	return &ObserverHook{observer: observer}
}

func (h *ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.LogInfo(ctx, "maintenance job started", eventFields(event))
}

func (h *ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.LogInfo(ctx, "maintenance job succeeded", eventFields(event))
}

func (h *ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.LogError(ctx, "maintenance job failed", eventFields(event))
}

func (h *ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.observer.LogWarn(ctx, "maintenance job retrying", eventFields(event))
}

func eventFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}

	fields := map[string]any{
		"attempt": event.Attempt,
	}
	if message != nil {
		fields["job_id"] = message.JobID
		if eventID := stringParam(message.Parameters, paramEventID); eventID != "" {
			fields["event_id"] = eventID
		}
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

func stringParam(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

var _ worker.Hook = (*ObserverHook)(nil)
