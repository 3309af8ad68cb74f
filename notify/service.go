// Package notify sends customer and operator email for billing
// lifecycle moments. Every dispatch is recorded in a ledger keyed by
// event id, template, and recipient so a replayed event never mails the
// same person twice.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roadpay/roadpay/core"
)

// Built-in template names. The sender resolves these to rendered mail
// bodies.
const (
	TemplateWelcome         = "welcome"
	TemplateReceipt         = "receipt"
	TemplatePaymentFailed   = "payment_failed"
	TemplateTrialEnding     = "trial_ending"
	TemplateCancellation    = "cancellation"
	TemplateUpcomingInvoice = "upcoming_invoice"
	TemplateAdminAlert      = "admin_alert"
)

// Dispatch statuses recorded on the ledger.
const (
	DispatchStatusSent    = "sent"
	DispatchStatusSkipped = "skipped"
	DispatchStatusFailed  = "failed"
)

// Service sends templated notifications through an EmailSender with
// per-event dedupe.
type Service struct {
	sender     core.EmailSender
	ledger     core.NotificationDispatchLedger
	adminEmail string
	observer   core.Observer
	Now        func() time.Time
}

// ServiceOption mutates service construction.
type ServiceOption func(*Service)

// WithObserver attaches logging and metrics to dispatches.
func WithObserver(observer core.Observer) ServiceOption {
	return func(s *Service) {
		s.observer = observer
	}
}

// WithAdminEmail sets the recipient for operator alerts.
func WithAdminEmail(address string) ServiceOption {
	return func(s *Service) {
		s.adminEmail = strings.TrimSpace(address)
	}
}

func NewService(sender core.EmailSender, ledger core.NotificationDispatchLedger, options ...ServiceOption) (*Service, error) {
	if sender == nil {
		return nil, fmt.Errorf("notify: email sender is required")
	}

	if ledger == nil {
		return nil, fmt.Errorf("notify: dispatch ledger is required")
	}

	service := &Service{
		sender: sender,
		ledger: ledger,
		Now:    time.Now,
	}

	for _, option := range options {
		if option != nil {
			option(service)
		}
	}

	return service, nil
}

// SendWelcome mails a new customer after their first completed
// checkout.
func (s *Service) SendWelcome(ctx context.Context, eventID, to string, data map[string]any) error {
	return s.dispatch(ctx, eventID, TemplateWelcome, to, "Welcome aboard", data)
}

// SendReceipt mails a payment confirmation for a paid invoice.
func (s *Service) SendReceipt(ctx context.Context, eventID, to string, data map[string]any) error {
	return s.dispatch(ctx, eventID, TemplateReceipt, to, "Payment received", data)
}

// SendPaymentFailed mails a dunning notice after a failed invoice
// payment.
func (s *Service) SendPaymentFailed(ctx context.Context, eventID, to string, data map[string]any) error {
	return s.dispatch(ctx, eventID, TemplatePaymentFailed, to, "Payment failed", data)
}

// SendTrialEnding warns a customer their trial is about to convert.
func (s *Service) SendTrialEnding(ctx context.Context, eventID, to string, data map[string]any) error {
	return s.dispatch(ctx, eventID, TemplateTrialEnding, to, "Your trial is ending soon", data)
}

// SendCancellation confirms a subscription cancellation.
func (s *Service) SendCancellation(ctx context.Context, eventID, to string, data map[string]any) error {
	return s.dispatch(ctx, eventID, TemplateCancellation, to, "Subscription canceled", data)
}

// SendUpcomingInvoice previews the next renewal charge.
func (s *Service) SendUpcomingInvoice(ctx context.Context, eventID, to string, data map[string]any) error {
	return s.dispatch(ctx, eventID, TemplateUpcomingInvoice, to, "Upcoming renewal", data)
}

// SendAdminAlert mails the operator inbox. Callers treat failures as
// non-blocking, an undeliverable alert never fails the event that
// raised it.
func (s *Service) SendAdminAlert(ctx context.Context, eventID, subject string, data map[string]any) error {
	if s == nil {
		return fmt.Errorf("notify: service is not configured")
	}

	if strings.TrimSpace(s.adminEmail) == "" {
		s.observer.LogWarn(ctx, "admin alert dropped, no admin email configured", map[string]any{
			"event_id": eventID,
			"subject":  subject,
		})
		return nil
	}

	return s.dispatch(ctx, eventID, TemplateAdminAlert, s.adminEmail, subject, data)
}

func (s *Service) dispatch(ctx context.Context, eventID, template, to, subject string, data map[string]any) error {
	if s == nil || s.sender == nil {
		return fmt.Errorf("notify: service is not configured")
	}

	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("notify: recipient is required")
	}

	key := DispatchKey(eventID, template, to)

	seen, err := s.ledger.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("notify: dispatch ledger read: %w", err)
	}

	fields := map[string]any{
		"event_id":  eventID,
		"template":  template,
		"recipient": to,
	}

	if seen {
		s.observer.LogInfo(ctx, "notification already dispatched", fields)
		return nil
	}

	dispatch := core.NotificationDispatch{
		EventID:        eventID,
		Template:       template,
		Recipient:      to,
		IdempotencyKey: key,
		Status:         DispatchStatusSent,
		Metadata:       data,
	}

	if err := s.sender.Send(ctx, to, subject, template, data); err != nil {
		dispatch.Status = DispatchStatusFailed
		dispatch.Error = err.Error()
		// Record the failure but surface the send error. A failed send
		// is not dedupe-worthy, so the key stays unclaimed.
		s.observer.LogError(ctx, "notification send failed", fields)
		return fmt.Errorf("notify: send %s to %s: %w", template, to, err)
	}

	if err := s.ledger.Record(ctx, dispatch); err != nil {
		return fmt.Errorf("notify: dispatch ledger write: %w", err)
	}

	s.observer.LogInfo(ctx, "notification dispatched", fields)

	return nil
}

// DispatchKey is the idempotency key for one notification.
func DispatchKey(eventID, template, recipient string) string {
	return strings.Join([]string{
		strings.TrimSpace(eventID),
		strings.TrimSpace(template),
		strings.ToLower(strings.TrimSpace(recipient)),
	}, ":")
}

// MemoryDispatchLedger is an in-process dispatch ledger for tests and
// single-node deployments.
type MemoryDispatchLedger struct {
	mu      sync.RWMutex
	records map[string]core.NotificationDispatch
}

func NewMemoryDispatchLedger() *MemoryDispatchLedger {
	return &MemoryDispatchLedger{records: map[string]core.NotificationDispatch{}}
}

func (l *MemoryDispatchLedger) Seen(ctx context.Context, idempotencyKey string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, found := l.records[idempotencyKey]

	return found, nil
}

func (l *MemoryDispatchLedger) Record(ctx context.Context, dispatch core.NotificationDispatch) error {
	if strings.TrimSpace(dispatch.IdempotencyKey) == "" {
		return fmt.Errorf("notify: idempotency key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[dispatch.IdempotencyKey] = dispatch

	return nil
}

var _ core.NotificationDispatchLedger = (*MemoryDispatchLedger)(nil)
