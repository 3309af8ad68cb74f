package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roadpay/roadpay/core"
)

func TestDeadLetterStoreRoundTrip(t *testing.T) {
	store := newTestDeadLetterStore(t, core.NewMemoryStorage())

	event := Event{
		ID:      "evt_1",
		Type:    EventInvoicePaymentFailed,
		Created: time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC),
		Data:    map[string]any{"id": "in_1", "customer": "cus_1"},
	}

	if err := store.Add(context.Background(), event, 3, errors.New("handler failed")); err != nil {
		t.Fatalf("expected add to succeed, got %v", err)
	}

	entry, err := store.Get(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("expected entry, got %v", err)
	}
	if entry.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", entry.Attempts)
	}
	if entry.LastError != "handler failed" {
		t.Fatalf("unexpected last error %q", entry.LastError)
	}
	if entry.FailedAt.IsZero() {
		t.Fatalf("expected failed at to be set")
	}

	if err := store.Remove(context.Background(), "evt_1"); err != nil {
		t.Fatalf("expected remove to succeed, got %v", err)
	}

	if _, err := store.Get(context.Background(), "evt_1"); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Fatalf("expected dead letter not found, got %v", err)
	}
}

func TestDeadLetterStoreListOrdersByFailureTime(t *testing.T) {
	store := newTestDeadLetterStore(t, core.NewMemoryStorage())

	times := []time.Time{
		time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 10, 11, 0, 0, 0, time.UTC),
	}

	for i, at := range times {
		store.Now = func() time.Time { return at }
		event := Event{ID: "evt_" + string(rune('a'+i)), Type: EventInvoicePaymentFailed}
		if err := store.Add(context.Background(), event, 3, errors.New("handler failed")); err != nil {
			t.Fatalf("expected add to succeed, got %v", err)
		}
	}

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("expected list to succeed, got %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	for i := 1; i < len(entries); i++ {
		if entries[i].FailedAt.Before(entries[i-1].FailedAt) {
			t.Fatalf("expected entries ordered oldest first, got %v then %v", entries[i-1].FailedAt, entries[i].FailedAt)
		}
	}
}

func TestDeadLetterStoreListRequiresLister(t *testing.T) {
	store := newTestDeadLetterStore(t, &plainStorage{inner: core.NewMemoryStorage()})

	if _, err := store.List(context.Background()); err == nil {
		t.Fatalf("expected list to fail without key enumeration")
	}
}

func TestDeadLetterStoreRejectsMissingID(t *testing.T) {
	store := newTestDeadLetterStore(t, core.NewMemoryStorage())

	if err := store.Add(context.Background(), Event{Type: EventInvoicePaid}, 1, errors.New("boom")); err == nil {
		t.Fatalf("expected add to reject missing event id")
	}
}

func newTestDeadLetterStore(t *testing.T, storage core.Storage) *DeadLetterStore {
	t.Helper()

	store, err := NewDeadLetterStore(storage)
	if err != nil {
		t.Fatalf("expected store, got %v", err)
	}
	store.Now = func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	}

	return store
}
