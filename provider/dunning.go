package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// MaxDunningAttempts is the cap on provider-side payment retries
// before collection is paused.
const MaxDunningAttempts = 4

// Dunning drives recovery actions for delinquent subscriptions on top
// of the API client.
type Dunning struct {
	client *Client
}

func NewDunning(client *Client) (*Dunning, error) {
	if client == nil {
		return nil, fmt.Errorf("provider: client is required")
	}

	return &Dunning{client: client}, nil
}

// RetryInvoicePayment re-attempts payment on an open invoice. Paid and
// voided invoices are returned as-is so the call is safe on replayed
// events.
func (d *Dunning) RetryInvoicePayment(ctx context.Context, invoiceID string) (Invoice, error) {
	if d == nil || d.client == nil {
		return Invoice{}, fmt.Errorf("provider: dunning is not configured")
	}

	invoice, err := d.client.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}

	if invoice.Status != "open" {
		return invoice, nil
	}

	if invoice.AttemptCount >= MaxDunningAttempts {
		return invoice, fmt.Errorf("provider: invoice %s exhausted %d payment attempts", invoiceID, invoice.AttemptCount)
	}

	return d.client.PayInvoice(ctx, invoiceID)
}

// ListPastDue returns the subscriptions whose latest invoice payment
// failed, the working set for a dunning sweep.
func (d *Dunning) ListPastDue(ctx context.Context, limit int) ([]Subscription, error) {
	if d == nil || d.client == nil {
		return nil, fmt.Errorf("provider: dunning is not configured")
	}

	return d.client.ListSubscriptions(ctx, "past_due", limit)
}

// UpdatePaymentMethodAndRetry makes the given payment method the
// customer's default for invoices and immediately re-attempts the
// failed invoice with it.
func (d *Dunning) UpdatePaymentMethodAndRetry(ctx context.Context, customerID, paymentMethodID, invoiceID string) (Invoice, error) {
	if d == nil || d.client == nil {
		return Invoice{}, fmt.Errorf("provider: dunning is not configured")
	}

	fields := url.Values{}
	fields.Set("invoice_settings[default_payment_method]", paymentMethodID)

	if _, err := d.client.UpdateCustomer(ctx, customerID, fields); err != nil {
		return Invoice{}, err
	}

	return d.client.PayInvoice(ctx, invoiceID)
}

// PauseCollection stops the provider from invoicing a subscription
// while the customer's payment problem is unresolved.
func (d *Dunning) PauseCollection(ctx context.Context, subscriptionID string) (Subscription, error) {
	if d == nil || d.client == nil {
		return Subscription{}, fmt.Errorf("provider: dunning is not configured")
	}

	fields := url.Values{}
	fields.Set("pause_collection[behavior]", "void")

	return d.client.UpdateSubscription(ctx, subscriptionID, fields)
}

// ResumeCollection re-enables invoicing on a paused subscription.
func (d *Dunning) ResumeCollection(ctx context.Context, subscriptionID string) (Subscription, error) {
	if d == nil || d.client == nil {
		return Subscription{}, fmt.Errorf("provider: dunning is not configured")
	}

	fields := url.Values{}
	fields.Set("pause_collection", "")

	return d.client.UpdateSubscription(ctx, subscriptionID, fields)
}

// SetCancelAtPeriodEnd schedules or unschedules cancellation at the end
// of the current billing period.
func (d *Dunning) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (Subscription, error) {
	if d == nil || d.client == nil {
		return Subscription{}, fmt.Errorf("provider: dunning is not configured")
	}

	fields := url.Values{}
	fields.Set("cancel_at_period_end", strconv.FormatBool(cancel))

	return d.client.UpdateSubscription(ctx, subscriptionID, fields)
}
