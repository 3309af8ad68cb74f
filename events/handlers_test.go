package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/notify"
	"github.com/roadpay/roadpay/webhooks"
)

func TestCheckoutCompleted(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_1",
		Type: webhooks.EventCheckoutCompleted,
		Data: map[string]any{
			"id":             "cs_1",
			"customer":       "cus_1",
			"customer_email": "jo@example.com",
			"subscription":   "sub_1",
		},
	}

	result, err := env.handlers.CheckoutCompleted(context.Background(), event)
	if err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if result["welcome_sent"] != true {
		t.Fatalf("expected welcome to be sent, got %v", result)
	}

	record := env.record(t, core.CheckoutKey("cs_1"))
	if record["status"] != "completed" || record["customer"] != "cus_1" {
		t.Fatalf("unexpected record %v", record)
	}

	if len(env.sender.sent) != 1 || env.sender.sent[0].template != notify.TemplateWelcome {
		t.Fatalf("expected one welcome email, got %+v", env.sender.sent)
	}
}

func TestCheckoutExpired(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_1",
		Type: webhooks.EventCheckoutExpired,
		Data: map[string]any{"id": "cs_1", "customer_email": "jo@example.com"},
	}

	if _, err := env.handlers.CheckoutExpired(context.Background(), event); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	record := env.record(t, core.AbandonedKey("cs_1"))
	if record["status"] != "abandoned" {
		t.Fatalf("unexpected record %v", record)
	}

	if len(env.sender.sent) != 0 {
		t.Fatalf("expected no email for abandoned checkout, got %d", len(env.sender.sent))
	}
}

func TestCheckoutExpiredSkipsSessionsWithoutEmail(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_1",
		Type: webhooks.EventCheckoutExpired,
		Data: map[string]any{"id": "cs_noemail"},
	}

	result, err := env.handlers.CheckoutExpired(context.Background(), event)
	if err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if result["abandoned"] != false {
		t.Fatalf("expected session to be skipped, got %v", result)
	}

	if _, found, _ := env.storage.Get(context.Background(), core.AbandonedKey("cs_noemail")); found {
		t.Fatalf("expected no abandoned record without a contact email")
	}
}

func TestSubscriptionUpdatedPastDueNotifies(t *testing.T) {
	env := newHandlersEnv(t)
	env.directory.emails["cus_1"] = "jo@example.com"

	event := webhooks.Event{
		ID:   "evt_2",
		Type: webhooks.EventSubscriptionUpdated,
		Data: map[string]any{
			"id":       "sub_1",
			"customer": "cus_1",
			"status":   "past_due",
		},
		PreviousAttributes: map[string]any{"status": "active"},
	}

	result, err := env.handlers.SubscriptionUpdated(context.Background(), event)
	if err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if result["change"] != "status:active->past_due" {
		t.Fatalf("unexpected change %v", result["change"])
	}
	if result["notified"] != true {
		t.Fatalf("expected notification, got %v", result)
	}

	record := env.record(t, core.SubscriptionKey("sub_1"))
	if record["status"] != "past_due" {
		t.Fatalf("unexpected record %v", record)
	}

	changes, ok := record["changes"].([]any)
	if !ok || len(changes) != 1 || changes[0] != "status:active->past_due" {
		t.Fatalf("expected change log on stored record, got %v", record["changes"])
	}

	if len(env.sender.sent) != 1 || env.sender.sent[0].template != notify.TemplatePaymentFailed {
		t.Fatalf("expected payment failed notice, got %+v", env.sender.sent)
	}
}

func TestSubscriptionUpdatedRecordsPlanChange(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_2",
		Type: webhooks.EventSubscriptionUpdated,
		Data: map[string]any{
			"id":       "sub_1",
			"customer": "cus_1",
			"status":   "active",
		},
		PreviousAttributes: map[string]any{
			"items":  map[string]any{"data": []any{}},
			"status": "trialing",
		},
	}

	if _, err := env.handlers.SubscriptionUpdated(context.Background(), event); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	record := env.record(t, core.SubscriptionKey("sub_1"))
	changes, ok := record["changes"].([]any)
	if !ok || len(changes) != 2 {
		t.Fatalf("expected plan and status changes, got %v", record["changes"])
	}
	if changes[0] != "plan_changed" || changes[1] != "status:trialing->active" {
		t.Fatalf("unexpected change log %v", changes)
	}
}

func TestSubscriptionUpdatedOnlyActiveToPastDueNotifies(t *testing.T) {
	env := newHandlersEnv(t)
	env.directory.emails["cus_1"] = "jo@example.com"

	event := webhooks.Event{
		ID:   "evt_2",
		Type: webhooks.EventSubscriptionUpdated,
		Data: map[string]any{
			"id":       "sub_1",
			"customer": "cus_1",
			"status":   "past_due",
		},
		PreviousAttributes: map[string]any{"status": "trialing"},
	}

	if _, err := env.handlers.SubscriptionUpdated(context.Background(), event); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if len(env.sender.sent) != 0 {
		t.Fatalf("expected no notice for trialing to past_due, got %+v", env.sender.sent)
	}
}

func TestSubscriptionUpdatedQuietTransition(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_2",
		Type: webhooks.EventSubscriptionUpdated,
		Data: map[string]any{
			"id":       "sub_1",
			"customer": "cus_1",
			"status":   "active",
		},
		PreviousAttributes: map[string]any{"status": "trialing"},
	}

	result, err := env.handlers.SubscriptionUpdated(context.Background(), event)
	if err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if result["change"] != "status:trialing->active" {
		t.Fatalf("unexpected change %v", result["change"])
	}

	if len(env.sender.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(env.sender.sent))
	}
}

func TestSubscriptionDeleted(t *testing.T) {
	env := newHandlersEnv(t)
	env.directory.emails["cus_1"] = "jo@example.com"

	event := webhooks.Event{
		ID:   "evt_3",
		Type: webhooks.EventSubscriptionDeleted,
		Data: map[string]any{"id": "sub_1", "customer": "cus_1"},
	}

	if _, err := env.handlers.SubscriptionDeleted(context.Background(), event); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	record := env.record(t, core.SubscriptionKey("sub_1"))
	if record["status"] != "canceled" {
		t.Fatalf("unexpected record %v", record)
	}

	if len(env.sender.sent) != 1 || env.sender.sent[0].template != notify.TemplateCancellation {
		t.Fatalf("expected cancellation email, got %+v", env.sender.sent)
	}
}

func TestInvoicePaidSendsReceipt(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_1",
		Type: webhooks.EventInvoicePaid,
		Data: map[string]any{
			"id":             "in_1",
			"customer":       "cus_1",
			"customer_email": "jo@example.com",
			"amount_paid":    float64(2500),
			"currency":       "usd",
		},
	}

	result, err := env.handlers.InvoicePaid(context.Background(), event)
	if err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if result["status"] != "paid" {
		t.Fatalf("unexpected result %v", result)
	}

	record := env.record(t, core.PaymentKey("in_1"))
	if record["amount_paid"] != float64(2500) || record["currency"] != "usd" {
		t.Fatalf("unexpected record %v", record)
	}

	if len(env.sender.sent) != 1 || env.sender.sent[0].template != notify.TemplateReceipt {
		t.Fatalf("expected receipt, got %+v", env.sender.sent)
	}
}

func TestInvoicePaymentFailed(t *testing.T) {
	env := newHandlersEnv(t)
	env.directory.emails["cus_1"] = "jo@example.com"

	event := webhooks.Event{
		ID:   "evt_2",
		Type: webhooks.EventInvoicePaymentFailed,
		Data: map[string]any{
			"id":            "in_2",
			"customer":      "cus_1",
			"amount_due":    float64(2500),
			"attempt_count": float64(2),
		},
	}

	result, err := env.handlers.InvoicePaymentFailed(context.Background(), event)
	if err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	if result["attempt_count"] != 2 {
		t.Fatalf("unexpected attempt count %v", result["attempt_count"])
	}

	record := env.record(t, core.PaymentFailedKey("in_2"))
	if record["status"] != "payment_failed" {
		t.Fatalf("unexpected record %v", record)
	}

	if len(env.sender.sent) != 1 || env.sender.sent[0].template != notify.TemplatePaymentFailed {
		t.Fatalf("expected payment failed notice, got %+v", env.sender.sent)
	}
}

func TestInvoiceUncollectibleAlertsAdmin(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_4",
		Type: webhooks.EventInvoiceUncollectible,
		Data: map[string]any{"id": "in_3", "customer": "cus_1", "amount_due": float64(2500)},
	}

	if _, err := env.handlers.InvoiceUncollectible(context.Background(), event); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	record := env.record(t, core.UncollectibleKey("in_3"))
	if record["status"] != "uncollectible" {
		t.Fatalf("unexpected record %v", record)
	}

	if len(env.sender.sent) != 1 || env.sender.sent[0].to != "ops@example.com" {
		t.Fatalf("expected admin alert, got %+v", env.sender.sent)
	}
}

func TestDisputeCreatedPersistsBeforeAlert(t *testing.T) {
	env := newHandlersEnv(t)
	env.sender.fail = true

	event := webhooks.Event{
		ID:   "evt_5",
		Type: webhooks.EventDisputeCreated,
		Data: map[string]any{
			"id":     "dp_1",
			"charge": "ch_1",
			"reason": "fraudulent",
			"amount": float64(9900),
			"status": "needs_response",
		},
	}

	result, err := env.handlers.DisputeCreated(context.Background(), event)
	if err != nil {
		t.Fatalf("expected failed alert to be non-blocking, got %v", err)
	}

	if result["dispute"] != "dp_1" {
		t.Fatalf("unexpected result %v", result)
	}

	record := env.record(t, core.DisputeKey("dp_1"))
	if record["reason"] != "fraudulent" {
		t.Fatalf("expected dispute to be persisted, got %v", record)
	}
}

func TestDisputeClosedUpdatesStatus(t *testing.T) {
	env := newHandlersEnv(t)

	event := webhooks.Event{
		ID:   "evt_6",
		Type: webhooks.EventDisputeClosed,
		Data: map[string]any{"id": "dp_1", "charge": "ch_1", "status": "won"},
	}

	if _, err := env.handlers.DisputeClosed(context.Background(), event); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}

	record := env.record(t, core.DisputeKey("dp_1"))
	if record["status"] != "won" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestHandlersRejectMissingIDs(t *testing.T) {
	env := newHandlersEnv(t)

	calls := []func(context.Context, webhooks.Event) (map[string]any, error){
		env.handlers.CheckoutCompleted,
		env.handlers.SubscriptionUpdated,
		env.handlers.InvoicePaid,
		env.handlers.DisputeCreated,
	}

	for i, call := range calls {
		if _, err := call(context.Background(), webhooks.Event{ID: "evt_x", Data: map[string]any{}}); err == nil {
			t.Fatalf("handler %d: expected missing resource id to be rejected", i)
		}
	}
}

func TestRegisterAllCoversLifecycle(t *testing.T) {
	env := newHandlersEnv(t)

	registry := webhooks.NewRegistry()
	if err := env.handlers.RegisterAll(registry); err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	for _, eventType := range []string{
		webhooks.EventCheckoutCompleted,
		webhooks.EventSubscriptionUpdated,
		webhooks.EventInvoicePaid,
		webhooks.EventInvoicePaymentFailed,
		webhooks.EventDisputeCreated,
	} {
		if handlers := registry.Lookup(eventType); len(handlers) != 1 {
			t.Fatalf("expected handler for %s", eventType)
		}
	}
}

type handlersEnv struct {
	storage   *core.MemoryStorage
	sender    *capturingSender
	directory *stubDirectory
	handlers  *Handlers
}

func newHandlersEnv(t *testing.T) *handlersEnv {
	t.Helper()

	storage := core.NewMemoryStorage()
	sender := &capturingSender{}
	directory := &stubDirectory{emails: map[string]string{}}

	notifier, err := notify.NewService(sender, notify.NewMemoryDispatchLedger(), notify.WithAdminEmail("ops@example.com"))
	if err != nil {
		t.Fatalf("expected notifier, got %v", err)
	}

	handlers, err := NewHandlers(storage,
		WithNotifier(notifier),
		WithCustomerDirectory(directory),
	)
	if err != nil {
		t.Fatalf("expected handlers, got %v", err)
	}
	handlers.Now = func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	}

	return &handlersEnv{
		storage:   storage,
		sender:    sender,
		directory: directory,
		handlers:  handlers,
	}
}

func (e *handlersEnv) record(t *testing.T, key string) map[string]any {
	t.Helper()

	value, found, err := e.storage.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("expected record read to succeed, got %v", err)
	}
	if !found {
		t.Fatalf("expected record under %s", key)
	}

	record := map[string]any{}
	if err := json.Unmarshal(value, &record); err != nil {
		t.Fatalf("expected record to decode, got %v", err)
	}

	return record
}

type sentMail struct {
	to       string
	subject  string
	template string
}

type capturingSender struct {
	sent []sentMail
	fail bool
}

func (s *capturingSender) Send(ctx context.Context, to, subject, template string, data map[string]any) error {
	if s.fail {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, sentMail{to: to, subject: subject, template: template})
	return nil
}

type stubDirectory struct {
	emails map[string]string
}

func (d *stubDirectory) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	email, found := d.emails[customerID]
	if !found {
		return "", errors.New("customer not found")
	}
	return email, nil
}
