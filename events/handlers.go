// Package events holds the domain reactions to provider webhook
// events: checkout lifecycle, subscription lifecycle, invoice payment
// outcomes, and disputes. Each handler persists its domain record and
// drives the customer notifications that moment calls for.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/notify"
	"github.com/roadpay/roadpay/provider"
	"github.com/roadpay/roadpay/webhooks"
)

// Handlers bundles the dependencies shared by every event reaction.
// Notifier and Customers may be nil, in which case notifications are
// skipped with a warning. Dunning is optional and only consulted on
// failed invoice payments.
type Handlers struct {
	storage   core.Storage
	notifier  *notify.Service
	customers core.CustomerDirectory
	dunning   *provider.Dunning
	observer  core.Observer
	Now       func() time.Time
}

// HandlersOption mutates handler construction.
type HandlersOption func(*Handlers)

// WithNotifier wires outbound notifications.
func WithNotifier(notifier *notify.Service) HandlersOption {
	return func(h *Handlers) {
		h.notifier = notifier
	}
}

// WithCustomerDirectory wires customer email lookup for events whose
// payloads only carry a customer id.
func WithCustomerDirectory(customers core.CustomerDirectory) HandlersOption {
	return func(h *Handlers) {
		h.customers = customers
	}
}

// WithDunning wires provider-side payment recovery for failed
// invoices.
func WithDunning(dunning *provider.Dunning) HandlersOption {
	return func(h *Handlers) {
		h.dunning = dunning
	}
}

// WithObserver attaches logging and metrics.
func WithObserver(observer core.Observer) HandlersOption {
	return func(h *Handlers) {
		h.observer = observer
	}
}

func NewHandlers(storage core.Storage, options ...HandlersOption) (*Handlers, error) {
	if storage == nil {
		return nil, fmt.Errorf("events: storage is required")
	}

	handlers := &Handlers{
		storage: storage,
		Now:     time.Now,
	}

	for _, option := range options {
		if option != nil {
			option(handlers)
		}
	}

	return handlers, nil
}

// RegisterAll subscribes every domain handler on the registry.
func (h *Handlers) RegisterAll(registry *webhooks.Registry) error {
	if h == nil {
		return fmt.Errorf("events: handlers are not configured")
	}

	if registry == nil {
		return fmt.Errorf("events: registry is required")
	}

	subscriptions := map[string]webhooks.HandlerFunc{
		webhooks.EventCheckoutCompleted:    h.CheckoutCompleted,
		webhooks.EventCheckoutExpired:      h.CheckoutExpired,
		webhooks.EventSubscriptionCreated:  h.SubscriptionCreated,
		webhooks.EventSubscriptionUpdated:  h.SubscriptionUpdated,
		webhooks.EventSubscriptionDeleted:  h.SubscriptionDeleted,
		webhooks.EventSubscriptionTrialEnd: h.TrialWillEnd,
		webhooks.EventInvoicePaid:          h.InvoicePaid,
		webhooks.EventInvoicePaymentFailed: h.InvoicePaymentFailed,
		webhooks.EventInvoiceUpcoming:      h.InvoiceUpcoming,
		webhooks.EventInvoiceUncollectible: h.InvoiceUncollectible,
		webhooks.EventDisputeCreated:       h.DisputeCreated,
		webhooks.EventDisputeClosed:        h.DisputeClosed,
	}

	for eventType, handler := range subscriptions {
		if err := registry.Register(eventType, handler); err != nil {
			return err
		}
	}

	return nil
}

// CheckoutCompleted persists the completed session and welcomes the
// customer.
func (h *Handlers) CheckoutCompleted(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	sessionID := event.Object("id")
	if sessionID == "" {
		return nil, fmt.Errorf("events: checkout session id is missing")
	}

	record := map[string]any{
		"session_id":   sessionID,
		"customer":     event.Object("customer"),
		"subscription": event.Object("subscription"),
		"status":       "completed",
		"completed_at": h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.CheckoutKey(sessionID), record); err != nil {
		return nil, err
	}

	welcomed := false
	email := h.recipientFor(ctx, event)
	if email != "" && h.notifier != nil {
		if err := h.notifier.SendWelcome(ctx, event.ID, email, map[string]any{
			"session_id": sessionID,
		}); err != nil {
			return nil, err
		}
		welcomed = true
	}

	return map[string]any{"session": sessionID, "welcome_sent": welcomed}, nil
}

// CheckoutExpired records the abandoned session for recovery
// campaigns. Sessions without a contact email are not worth tracking,
// there is nobody to win back.
func (h *Handlers) CheckoutExpired(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	sessionID := event.Object("id")
	if sessionID == "" {
		return nil, fmt.Errorf("events: checkout session id is missing")
	}

	email := strings.TrimSpace(event.Object("customer_email"))
	if email == "" {
		return map[string]any{"session": sessionID, "abandoned": false}, nil
	}

	record := map[string]any{
		"session_id": sessionID,
		"customer":   event.Object("customer"),
		"email":      email,
		"status":     "abandoned",
		"expired_at": h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.AbandonedKey(sessionID), record); err != nil {
		return nil, err
	}

	return map[string]any{"session": sessionID, "abandoned": true}, nil
}

// SubscriptionCreated persists the new subscription.
func (h *Handlers) SubscriptionCreated(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	subscriptionID := event.Object("id")
	if subscriptionID == "" {
		return nil, fmt.Errorf("events: subscription id is missing")
	}

	record := map[string]any{
		"subscription_id": subscriptionID,
		"customer":        event.Object("customer"),
		"status":          event.Object("status"),
		"updated_at":      h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.SubscriptionKey(subscriptionID), record); err != nil {
		return nil, err
	}

	return map[string]any{"subscription": subscriptionID, "status": event.Object("status")}, nil
}

// SubscriptionUpdated persists the new state with the change log and
// reacts to status transitions. The active to past_due transition
// triggers the dunning notice.
func (h *Handlers) SubscriptionUpdated(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	subscriptionID := event.Object("id")
	if subscriptionID == "" {
		return nil, fmt.Errorf("events: subscription id is missing")
	}

	status := event.Object("status")
	previous := event.PreviousAttribute("status")

	changes := []string{}
	if event.HasPreviousAttribute("items") {
		changes = append(changes, "plan_changed")
	}
	if event.HasPreviousAttribute("status") {
		changes = append(changes, fmt.Sprintf("status:%s->%s", previous, status))
	}

	record := map[string]any{
		"subscription_id": subscriptionID,
		"customer":        event.Object("customer"),
		"status":          status,
		"changes":         changes,
		"updated_at":      h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.SubscriptionKey(subscriptionID), record); err != nil {
		return nil, err
	}

	result := map[string]any{"subscription": subscriptionID, "status": status, "changes": changes}

	if previous != "" && previous != status {
		result["change"] = fmt.Sprintf("status:%s->%s", previous, status)
	}

	if previous == "active" && status == "past_due" {
		email := h.recipientFor(ctx, event)
		if email != "" && h.notifier != nil {
			if err := h.notifier.SendPaymentFailed(ctx, event.ID, email, map[string]any{
				"subscription_id": subscriptionID,
			}); err != nil {
				return nil, err
			}
			result["notified"] = true
		}
	}

	return result, nil
}

// SubscriptionDeleted marks the subscription canceled and confirms the
// cancellation to the customer.
func (h *Handlers) SubscriptionDeleted(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	subscriptionID := event.Object("id")
	if subscriptionID == "" {
		return nil, fmt.Errorf("events: subscription id is missing")
	}

	record := map[string]any{
		"subscription_id": subscriptionID,
		"customer":        event.Object("customer"),
		"status":          "canceled",
		"canceled_at":     h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.SubscriptionKey(subscriptionID), record); err != nil {
		return nil, err
	}

	email := h.recipientFor(ctx, event)
	if email != "" && h.notifier != nil {
		if err := h.notifier.SendCancellation(ctx, event.ID, email, map[string]any{
			"subscription_id": subscriptionID,
		}); err != nil {
			return nil, err
		}
	}

	return map[string]any{"subscription": subscriptionID, "status": "canceled"}, nil
}

// TrialWillEnd warns the customer their trial converts soon.
func (h *Handlers) TrialWillEnd(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	subscriptionID := event.Object("id")
	if subscriptionID == "" {
		return nil, fmt.Errorf("events: subscription id is missing")
	}

	email := h.recipientFor(ctx, event)
	if email == "" || h.notifier == nil {
		h.observer.LogWarn(ctx, "trial ending notice skipped, no recipient", map[string]any{
			"event_id":     event.ID,
			"subscription": subscriptionID,
		})
		return map[string]any{"subscription": subscriptionID, "notified": false}, nil
	}

	if err := h.notifier.SendTrialEnding(ctx, event.ID, email, map[string]any{
		"subscription_id": subscriptionID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{"subscription": subscriptionID, "notified": true}, nil
}

// InvoicePaid records the successful payment and sends the receipt.
func (h *Handlers) InvoicePaid(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	invoiceID := event.Object("id")
	if invoiceID == "" {
		return nil, fmt.Errorf("events: invoice id is missing")
	}

	record := map[string]any{
		"invoice_id":   invoiceID,
		"customer":     event.Object("customer"),
		"subscription": event.Object("subscription"),
		"amount_paid":  event.Data["amount_paid"],
		"currency":     event.Object("currency"),
		"status":       "paid",
		"paid_at":      h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.PaymentKey(invoiceID), record); err != nil {
		return nil, err
	}

	email := h.recipientFor(ctx, event)
	if email != "" && h.notifier != nil {
		if err := h.notifier.SendReceipt(ctx, event.ID, email, map[string]any{
			"invoice_id":  invoiceID,
			"amount_paid": event.Data["amount_paid"],
		}); err != nil {
			return nil, err
		}
	}

	return map[string]any{"invoice": invoiceID, "status": "paid"}, nil
}

// InvoicePaymentFailed records the failure, notifies the customer, and
// pauses provider collection once the attempt budget is spent.
func (h *Handlers) InvoicePaymentFailed(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	invoiceID := event.Object("id")
	if invoiceID == "" {
		return nil, fmt.Errorf("events: invoice id is missing")
	}

	attempts := intField(event.Data, "attempt_count")

	record := map[string]any{
		"invoice_id":    invoiceID,
		"customer":      event.Object("customer"),
		"subscription":  event.Object("subscription"),
		"amount_due":    event.Data["amount_due"],
		"attempt_count": attempts,
		"status":        "payment_failed",
		"failed_at":     h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.PaymentFailedKey(invoiceID), record); err != nil {
		return nil, err
	}

	result := map[string]any{"invoice": invoiceID, "attempt_count": attempts}

	email := h.recipientFor(ctx, event)
	if email != "" && h.notifier != nil {
		if err := h.notifier.SendPaymentFailed(ctx, event.ID, email, map[string]any{
			"invoice_id": invoiceID,
			"amount_due": event.Data["amount_due"],
		}); err != nil {
			return nil, err
		}
		result["notified"] = true
	}

	if h.dunning != nil && attempts >= provider.MaxDunningAttempts {
		subscriptionID := event.Object("subscription")
		if subscriptionID != "" {
			if _, err := h.dunning.PauseCollection(ctx, subscriptionID); err != nil {
				return nil, err
			}
			result["collection_paused"] = true
		}
	}

	return result, nil
}

// InvoiceUpcoming previews the renewal to the customer. Nothing is
// persisted, the invoice does not exist yet.
func (h *Handlers) InvoiceUpcoming(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	email := h.recipientFor(ctx, event)
	if email == "" || h.notifier == nil {
		return map[string]any{"notified": false}, nil
	}

	if err := h.notifier.SendUpcomingInvoice(ctx, event.ID, email, map[string]any{
		"amount_due":   event.Data["amount_due"],
		"subscription": event.Object("subscription"),
	}); err != nil {
		return nil, err
	}

	return map[string]any{"notified": true}, nil
}

// InvoiceUncollectible records the write-off and alerts the operator.
func (h *Handlers) InvoiceUncollectible(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	invoiceID := event.Object("id")
	if invoiceID == "" {
		return nil, fmt.Errorf("events: invoice id is missing")
	}

	record := map[string]any{
		"invoice_id": invoiceID,
		"customer":   event.Object("customer"),
		"amount_due": event.Data["amount_due"],
		"status":     "uncollectible",
		"marked_at":  h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.UncollectibleKey(invoiceID), record); err != nil {
		return nil, err
	}

	h.alertAdmin(ctx, event.ID, "invoice marked uncollectible", map[string]any{
		"invoice_id": invoiceID,
		"customer":   event.Object("customer"),
	})

	return map[string]any{"invoice": invoiceID, "status": "uncollectible"}, nil
}

// DisputeCreated persists the dispute before anything else, then
// alerts the operator. An undeliverable alert never fails the event.
func (h *Handlers) DisputeCreated(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	disputeID := event.Object("id")
	if disputeID == "" {
		return nil, fmt.Errorf("events: dispute id is missing")
	}

	record := map[string]any{
		"dispute_id": disputeID,
		"charge":     event.Object("charge"),
		"reason":     event.Object("reason"),
		"amount":     event.Data["amount"],
		"status":     event.Object("status"),
		"created_at": h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.DisputeKey(disputeID), record); err != nil {
		return nil, err
	}

	h.alertAdmin(ctx, event.ID, "dispute opened", map[string]any{
		"dispute_id": disputeID,
		"charge":     event.Object("charge"),
		"reason":     event.Object("reason"),
	})

	return map[string]any{"dispute": disputeID, "status": event.Object("status")}, nil
}

// DisputeClosed updates the stored dispute with its final status.
func (h *Handlers) DisputeClosed(ctx context.Context, event webhooks.Event) (map[string]any, error) {
	disputeID := event.Object("id")
	if disputeID == "" {
		return nil, fmt.Errorf("events: dispute id is missing")
	}

	record := map[string]any{
		"dispute_id": disputeID,
		"charge":     event.Object("charge"),
		"reason":     event.Object("reason"),
		"amount":     event.Data["amount"],
		"status":     event.Object("status"),
		"closed_at":  h.now().Format(time.RFC3339),
	}

	if err := h.putRecord(ctx, core.DisputeKey(disputeID), record); err != nil {
		return nil, err
	}

	return map[string]any{"dispute": disputeID, "status": event.Object("status")}, nil
}

func (h *Handlers) putRecord(ctx context.Context, key string, record map[string]any) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("events: encode record: %w", err)
	}

	if err := h.storage.Put(ctx, key, value); err != nil {
		return fmt.Errorf("events: persist %s: %w", key, err)
	}

	return nil
}

// recipientFor resolves the notification recipient for an event. The
// payload's own email wins, then the customer directory.
func (h *Handlers) recipientFor(ctx context.Context, event webhooks.Event) string {
	if email := strings.TrimSpace(event.Object("customer_email")); email != "" {
		return email
	}

	customerID := strings.TrimSpace(event.Object("customer"))
	if customerID == "" || h.customers == nil {
		return ""
	}

	email, err := h.customers.CustomerEmail(ctx, customerID)
	if err != nil {
		h.observer.LogWarn(ctx, "customer email lookup failed", map[string]any{
			"event_id": event.ID,
			"customer": customerID,
			"error":    err.Error(),
		})
		return ""
	}

	return strings.TrimSpace(email)
}

func (h *Handlers) alertAdmin(ctx context.Context, eventID, subject string, data map[string]any) {
	if h.notifier == nil {
		return
	}

	if err := h.notifier.SendAdminAlert(ctx, eventID, subject, data); err != nil {
		fields := map[string]any{"event_id": eventID, "subject": subject, "error": err.Error()}
		h.observer.LogWarn(ctx, "admin alert failed", fields)
	}
}

func (h *Handlers) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func intField(data map[string]any, field string) int {
	switch value := data[field].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return int(parsed)
	default:
		return 0
	}
}
