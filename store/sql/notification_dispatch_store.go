package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/roadpay/roadpay/core"
)

// NotificationDispatchStore is the durable dedupe ledger for outbound
// notifications.
type NotificationDispatchStore struct {
	repo repository.Repository[*notificationDispatchRecord]
}

func NewNotificationDispatchStore(db *bun.DB) (*NotificationDispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}

	repo := repository.NewRepository[*notificationDispatchRecord](db, notificationDispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification dispatch repository wiring: %w", err)
		}
	}

	return &NotificationDispatchStore{repo: repo}, nil
}

func (s *NotificationDispatchStore) Seen(ctx context.Context, idempotencyKey string) (bool, error) {
	if s == nil || s.repo == nil {
		return false, fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}

	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return false, fmt.Errorf("sqlstore: idempotency key is required")
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("idempotency_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return false, err
	}

	return len(records) > 0, nil
}

func (s *NotificationDispatchStore) Record(ctx context.Context, dispatch core.NotificationDispatch) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}

	if strings.TrimSpace(dispatch.EventID) == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	if strings.TrimSpace(dispatch.Template) == "" {
		return fmt.Errorf("sqlstore: template is required")
	}
	if strings.TrimSpace(dispatch.Recipient) == "" {
		return fmt.Errorf("sqlstore: recipient is required")
	}
	if strings.TrimSpace(dispatch.IdempotencyKey) == "" {
		return fmt.Errorf("sqlstore: idempotency key is required")
	}

	status := strings.TrimSpace(dispatch.Status)
	if status == "" {
		status = "sent"
	}

	record := &notificationDispatchRecord{
		ID:          uuid.NewString(),
		EventID:     strings.TrimSpace(dispatch.EventID),
		Template:    strings.TrimSpace(dispatch.Template),
		Recipient:   strings.TrimSpace(dispatch.Recipient),
		Idempotency: strings.TrimSpace(dispatch.IdempotencyKey),
		Status:      status,
		Error:       strings.TrimSpace(dispatch.Error),
		Metadata:    copyAnyMap(dispatch.Metadata),
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.repo.Create(ctx, record)
	if err != nil && isUniqueViolation(err) {
		return nil
	}

	return err
}

func copyAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return copied
}

var _ core.NotificationDispatchLedger = (*NotificationDispatchStore)(nil)
