package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roadpay/roadpay/core"
)

// EventLedger is the idempotency record for deliveries. A delivery is
// committed once under its event id and later redeliveries of the same
// id are acknowledged without running handlers again.
type EventLedger struct {
	storage core.Storage
	Now     func() time.Time
}

func NewEventLedger(storage core.Storage) (*EventLedger, error) {
	if storage == nil {
		return nil, fmt.Errorf("webhooks: storage is required")
	}

	return &EventLedger{
		storage: storage,
		Now:     time.Now,
	}, nil
}

// Reserve claims eventID for the calling delivery. When the backing
// storage supports an atomic put-if-absent the reservation is exact
// and concurrent deliveries of the same id lose the claim. Plain
// storage degrades to a read check, which keeps redeliveries
// idempotent but leaves a small window for racing duplicates.
func (l *EventLedger) Reserve(ctx context.Context, eventID, eventType string) (bool, error) {
	if l == nil || l.storage == nil {
		return false, fmt.Errorf("webhooks: ledger is not configured")
	}

	key := core.EventKey(eventID)

	pending := core.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: l.now(),
	}

	value, err := pending.Marshal()
	if err != nil {
		return false, core.NewLedgerWriteError(err, "ledger reservation failed")
	}

	if atomic, ok := l.storage.(core.AtomicStorage); ok {
		claimed, err := atomic.PutIfAbsent(ctx, key, value)
		if err != nil {
			return false, core.NewLedgerWriteError(err, "ledger reservation failed")
		}
		return claimed, nil
	}

	_, found, err := l.storage.Get(ctx, key)
	if err != nil {
		return false, core.NewLedgerWriteError(err, "ledger reservation failed")
	}

	if found {
		return false, nil
	}

	if err := l.storage.Put(ctx, key, value); err != nil {
		return false, core.NewLedgerWriteError(err, "ledger reservation failed")
	}

	return true, nil
}

// Seen reports whether eventID already has a ledger record.
func (l *EventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if l == nil || l.storage == nil {
		return false, fmt.Errorf("webhooks: ledger is not configured")
	}

	_, found, err := l.storage.Get(ctx, core.EventKey(eventID))
	if err != nil {
		return false, core.NewLedgerWriteError(err, "ledger read failed")
	}

	return found, nil
}

// Commit writes the final processed-event record for a delivery. When
// the write fails a marker is left under failed:{id} so operators can
// find deliveries whose handlers ran but whose outcome was lost.
func (l *EventLedger) Commit(ctx context.Context, record core.ProcessedEvent) error {
	if l == nil || l.storage == nil {
		return fmt.Errorf("webhooks: ledger is not configured")
	}

	if err := record.Validate(); err != nil {
		return err
	}

	value, err := record.Marshal()
	if err != nil {
		return core.NewLedgerWriteError(err, "ledger commit failed")
	}

	if err := l.storage.Put(ctx, core.EventKey(record.EventID), value); err != nil {
		l.markFailed(ctx, record, err)
		return core.NewLedgerWriteError(err, "ledger commit failed")
	}

	return nil
}

// Release clears a reservation whose delivery could not be committed,
// so the provider's redelivery gets a fresh claim.
func (l *EventLedger) Release(ctx context.Context, eventID string) error {
	if l == nil || l.storage == nil {
		return fmt.Errorf("webhooks: ledger is not configured")
	}

	if err := l.storage.Delete(ctx, core.EventKey(eventID)); err != nil {
		return core.NewLedgerWriteError(err, "ledger release failed")
	}

	return nil
}

// Get loads the processed-event record for eventID.
func (l *EventLedger) Get(ctx context.Context, eventID string) (core.ProcessedEvent, error) {
	if l == nil || l.storage == nil {
		return core.ProcessedEvent{}, fmt.Errorf("webhooks: ledger is not configured")
	}

	value, found, err := l.storage.Get(ctx, core.EventKey(eventID))
	if err != nil {
		return core.ProcessedEvent{}, core.NewLedgerWriteError(err, "ledger read failed")
	}

	if !found {
		return core.ProcessedEvent{}, core.ErrEventNotFound
	}

	return core.UnmarshalProcessedEvent(value)
}

// Purge removes committed records processed before the cutoff and
// returns the number of records deleted. Failed commits stay so their
// redeliveries keep short-circuiting. Requires key listing support.
func (l *EventLedger) Purge(ctx context.Context, before time.Time) (int, error) {
	if l == nil || l.storage == nil {
		return 0, fmt.Errorf("webhooks: ledger is not configured")
	}

	lister, ok := l.storage.(core.KeyLister)
	if !ok {
		return 0, fmt.Errorf("webhooks: storage does not support key listing")
	}

	keys, err := lister.ListKeys(ctx, core.KeyPrefixEvent)
	if err != nil {
		return 0, core.NewLedgerWriteError(err, "ledger purge scan failed")
	}

	purged := 0
	for _, key := range keys {
		value, found, err := l.storage.Get(ctx, key)
		if err != nil {
			return purged, core.NewLedgerWriteError(err, "ledger purge read failed")
		}
		if !found {
			continue
		}

		record, err := core.UnmarshalProcessedEvent(value)
		if err != nil || !record.Success || !record.ProcessedAt.Before(before) {
			continue
		}

		if err := l.storage.Delete(ctx, key); err != nil {
			return purged, core.NewLedgerWriteError(err, "ledger purge delete failed")
		}
		purged++
	}

	return purged, nil
}

func (l *EventLedger) markFailed(ctx context.Context, record core.ProcessedEvent, cause error) {
	marker := map[string]any{
		"event_id":   record.EventID,
		"event_type": record.EventType,
		"error":      cause.Error(),
		"failed_at":  l.now().Format(time.RFC3339),
	}

	value, err := json.Marshal(marker)
	if err != nil {
		return
	}

	// Best effort. The same storage just failed a write, so this
	// marker may be lost too.
	_ = l.storage.Put(ctx, core.FailedKey(record.EventID), value)
}

func (l *EventLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}
