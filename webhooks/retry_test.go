package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryEngineSucceedsFirstAttempt(t *testing.T) {
	engine := &RetryEngine{MaxAttempts: 3, BaseDelay: time.Minute, Wait: noWait}

	handler := &countingHandler{succeedOn: 1}
	outcome := engine.Execute(context.Background(), handler, Event{ID: "evt_1", Type: EventInvoicePaid})

	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if outcome.Exhausted {
		t.Fatalf("expected run to succeed")
	}
	if outcome.LastError != nil {
		t.Fatalf("expected no error, got %v", outcome.LastError)
	}
}

func TestRetryEngineSucceedsMidway(t *testing.T) {
	waits := []time.Duration{}
	engine := &RetryEngine{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		Wait: func(ctx context.Context, delay time.Duration) error {
			waits = append(waits, delay)
			return nil
		},
	}

	handler := &countingHandler{succeedOn: 2}
	outcome := engine.Execute(context.Background(), handler, Event{ID: "evt_1", Type: EventInvoicePaid})

	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", outcome.Attempts)
	}
	if outcome.Exhausted {
		t.Fatalf("expected run to succeed")
	}
	if len(waits) != 1 || waits[0] != time.Minute {
		t.Fatalf("expected one wait of 1m, got %v", waits)
	}
}

func TestRetryEngineExhaustsBudget(t *testing.T) {
	waits := []time.Duration{}
	engine := &RetryEngine{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		Wait: func(ctx context.Context, delay time.Duration) error {
			waits = append(waits, delay)
			return nil
		},
	}

	handler := &countingHandler{succeedOn: 0}
	outcome := engine.Execute(context.Background(), handler, Event{ID: "evt_1", Type: EventInvoicePaid})

	if handler.calls != 3 {
		t.Fatalf("expected exactly 3 invocations, got %d", handler.calls)
	}
	if !outcome.Exhausted {
		t.Fatalf("expected run to exhaust the budget")
	}
	if outcome.LastError == nil {
		t.Fatalf("expected last error to be preserved")
	}

	expected := []time.Duration{time.Minute, 2 * time.Minute}
	if len(waits) != len(expected) {
		t.Fatalf("expected %d waits, got %d", len(expected), len(waits))
	}
	for i, delay := range expected {
		if waits[i] != delay {
			t.Fatalf("wait %d: expected %v, got %v", i, delay, waits[i])
		}
	}
}

func TestRetryEngineStopsOnCanceledWait(t *testing.T) {
	engine := &RetryEngine{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		Wait: func(ctx context.Context, delay time.Duration) error {
			return context.Canceled
		},
	}

	handler := &countingHandler{succeedOn: 0}
	outcome := engine.Execute(context.Background(), handler, Event{ID: "evt_1", Type: EventInvoicePaid})

	if handler.calls != 1 {
		t.Fatalf("expected 1 invocation before cancellation, got %d", handler.calls)
	}
	if !outcome.Exhausted {
		t.Fatalf("expected run to report exhaustion")
	}
	if outcome.LastError == nil {
		t.Fatalf("expected attempt error to be preserved")
	}
}

func TestRetryEngineDefaults(t *testing.T) {
	engine := &RetryEngine{Wait: noWait}

	handler := &countingHandler{succeedOn: 0}
	outcome := engine.Execute(context.Background(), handler, Event{ID: "evt_1", Type: EventInvoicePaid})

	if handler.calls != DefaultMaxAttempts {
		t.Fatalf("expected %d invocations, got %d", DefaultMaxAttempts, handler.calls)
	}
	if !outcome.Exhausted {
		t.Fatalf("expected run to exhaust the budget")
	}
}

type countingHandler struct {
	calls     int
	succeedOn int
}

func (h *countingHandler) Handle(ctx context.Context, event Event) (map[string]any, error) {
	h.calls++
	if h.succeedOn > 0 && h.calls >= h.succeedOn {
		return map[string]any{"attempt": h.calls}, nil
	}
	return nil, errors.New("handler failed")
}

func noWait(ctx context.Context, delay time.Duration) error { return nil }
