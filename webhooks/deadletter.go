package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roadpay/roadpay/core"
)

// DeadLetterStore persists deliveries whose handlers failed every
// attempt. Entries keep the full envelope payload so an operator
// retry replays the original delivery.
type DeadLetterStore struct {
	storage core.Storage
	Now     func() time.Time
}

func NewDeadLetterStore(storage core.Storage) (*DeadLetterStore, error) {
	if storage == nil {
		return nil, fmt.Errorf("webhooks: storage is required")
	}

	return &DeadLetterStore{
		storage: storage,
		Now:     time.Now,
	}, nil
}

// Add records event as dead-lettered after attempts failed runs ending
// in lastErr. Re-adding an id overwrites the previous entry.
func (s *DeadLetterStore) Add(ctx context.Context, event Event, attempts int, lastErr error) error {
	if s == nil || s.storage == nil {
		return fmt.Errorf("webhooks: dead letter store is not configured")
	}

	if event.ID == "" {
		return fmt.Errorf("webhooks: event id is required")
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("webhooks: encode dead letter payload: %w", err)
	}

	entry := core.DeadLetterEntry{
		EventID:   event.ID,
		EventType: event.Type,
		Data:      payload,
		Created:   event.Created,
		Attempts:  attempts,
		FailedAt:  s.now(),
	}

	if lastErr != nil {
		entry.LastError = lastErr.Error()
	}

	value, err := entry.Marshal()
	if err != nil {
		return fmt.Errorf("webhooks: encode dead letter entry: %w", err)
	}

	return s.storage.Put(ctx, core.DeadLetterKey(event.ID), value)
}

// Get loads the dead-letter entry for eventID.
func (s *DeadLetterStore) Get(ctx context.Context, eventID string) (core.DeadLetterEntry, error) {
	if s == nil || s.storage == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("webhooks: dead letter store is not configured")
	}

	value, found, err := s.storage.Get(ctx, core.DeadLetterKey(eventID))
	if err != nil {
		return core.DeadLetterEntry{}, err
	}

	if !found {
		return core.DeadLetterEntry{}, core.ErrDeadLetterNotFound
	}

	return core.UnmarshalDeadLetterEntry(value)
}

// Remove drops the dead-letter entry for eventID. Removing an id that
// is not present is not an error.
func (s *DeadLetterStore) Remove(ctx context.Context, eventID string) error {
	if s == nil || s.storage == nil {
		return fmt.Errorf("webhooks: dead letter store is not configured")
	}

	return s.storage.Delete(ctx, core.DeadLetterKey(eventID))
}

// List returns every dead-letter entry ordered by failure time, oldest
// first. Listing requires the backing storage to support key
// enumeration.
func (s *DeadLetterStore) List(ctx context.Context) ([]core.DeadLetterEntry, error) {
	if s == nil || s.storage == nil {
		return nil, fmt.Errorf("webhooks: dead letter store is not configured")
	}

	lister, ok := s.storage.(core.KeyLister)
	if !ok {
		return nil, fmt.Errorf("webhooks: storage does not support listing")
	}

	keys, err := lister.ListKeys(ctx, core.KeyPrefixDeadLetter)
	if err != nil {
		return nil, err
	}

	entries := make([]core.DeadLetterEntry, 0, len(keys))
	for _, key := range keys {
		value, found, err := s.storage.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		entry, err := core.UnmarshalDeadLetterEntry(value)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FailedAt.Before(entries[j].FailedAt)
	})

	return entries, nil
}

func (s *DeadLetterStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
