package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/roadpay/roadpay/core"
)

func TestGetProcessedEventMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetProcessedEventMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}

	validation := rich.AllValidationErrors()
	if len(validation) != 1 || validation[0].Field != "event_id" {
		t.Fatalf("expected event_id field error, got %#v", validation)
	}
}

func TestGetProcessedEventQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetProcessedEventQuery
	_, err := q.Query(context.Background(), GetProcessedEventMessage{EventID: "evt_1"})
	if err == nil {
		t.Fatalf("expected query dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorInternal, rich.TextCode)
	}
}
