package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/roadpay/roadpay/core"
)

// CustomerDirectory resolves notification recipients from the local
// customer mirror. The mirror is populated from checkout and customer
// events rather than by calling the provider on every lookup.
type CustomerDirectory struct {
	repo repository.Repository[*customerRecord]
}

func NewCustomerDirectory(db *bun.DB) (*CustomerDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}

	repo := repository.NewRepository[*customerRecord](db, customerHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid customer repository wiring: %w", err)
		}
	}

	return &CustomerDirectory{repo: repo}, nil
}

func (d *CustomerDirectory) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if d == nil || d.repo == nil {
		return "", fmt.Errorf("sqlstore: customer directory is not configured")
	}

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", fmt.Errorf("sqlstore: customer id is required")
	}

	records, _, err := d.repo.List(ctx,
		repository.SelectBy("id", "=", customerID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return "", err
	}

	if len(records) == 0 {
		return "", fmt.Errorf("sqlstore: customer %s not found", customerID)
	}

	return strings.TrimSpace(records[0].Email), nil
}

// Upsert stores or refreshes the customer's contact details.
func (d *CustomerDirectory) Upsert(ctx context.Context, customerID, email, name string) error {
	if d == nil || d.repo == nil {
		return fmt.Errorf("sqlstore: customer directory is not configured")
	}

	customerID = strings.TrimSpace(customerID)
	email = strings.TrimSpace(email)
	if customerID == "" {
		return fmt.Errorf("sqlstore: customer id is required")
	}
	if email == "" {
		return fmt.Errorf("sqlstore: customer email is required")
	}

	now := time.Now().UTC()
	record := &customerRecord{
		ID:        customerID,
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := d.repo.Create(ctx, record); err != nil {
		if !isUniqueViolation(err) {
			return err
		}
		if _, err := d.repo.Update(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

var _ core.CustomerDirectory = (*CustomerDirectory)(nil)
