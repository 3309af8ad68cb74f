package roadpay

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/roadpay/roadpay/adapters/gocommand"
	"github.com/roadpay/roadpay/command"
	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/query"
	"github.com/roadpay/roadpay/webhooks"
)

// Composes the service, the facade, and the dispatcher the way an
// embedding application would: deliveries arrive through Process,
// operator actions run as dispatched commands and queries.
func TestDownstreamComposition(t *testing.T) {
	fail := true
	registry := webhooks.NewRegistry()
	err := registry.Register(webhooks.EventInvoicePaymentFailed, webhooks.HandlerFunc(
		func(ctx context.Context, event webhooks.Event) (map[string]any, error) {
			if fail {
				return nil, context.DeadlineExceeded
			}
			return map[string]any{"recovered": true}, nil
		},
	))
	if err != nil {
		t.Fatalf("register handler: %v", err)
	}

	service := newTestService(t, WithRegistry(registry))

	adapter := gocommand.NewRegistryAdapter(gocmd.NewRegistry())
	subscriptions, err := gocommand.RegisterPaymentOperations(adapter, gocommand.PaymentOperations{
		Retrier:  service,
		Purger:   service,
		Ledger:   service,
		DeadLets: service,
		Stats:    service,
	})
	if err != nil {
		t.Fatalf("register payment operations: %v", err)
	}
	defer func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}()

	payload := signedPayload(t, "evt_compose_1", webhooks.EventInvoicePaymentFailed)
	header := webhooks.Sign(testWebhookSecret, time.Now(), payload)

	result, err := service.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("process delivery: %v", err)
	}
	if result.Status != webhooks.StatusPartialFailure {
		t.Fatalf("unexpected status %q", result.Status)
	}

	entries, err := gocommand.Query[query.ListDeadLettersMessage, []core.DeadLetterEntry](
		context.Background(),
		query.ListDeadLettersMessage{},
	)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(entries) != 1 || entries[0].EventID != "evt_compose_1" {
		t.Fatalf("unexpected dead letters %v", entries)
	}

	fail = false
	collector := gocmd.NewResult[webhooks.Result]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err = gocommand.Dispatch(ctx, command.RetryDeadLetterMessage{EventID: "evt_compose_1"})
	if err != nil {
		t.Fatalf("dispatch retry: %v", err)
	}
	if retried, ok := collector.Load(); !ok || retried.Status != webhooks.StatusProcessed {
		t.Fatalf("unexpected retry outcome %+v (%v)", retried, ok)
	}

	record, err := gocommand.Query[query.GetProcessedEventMessage, core.ProcessedEvent](
		context.Background(),
		query.GetProcessedEventMessage{EventID: "evt_compose_1"},
	)
	if err != nil {
		t.Fatalf("get processed event: %v", err)
	}
	if !record.Success {
		t.Fatalf("expected committed record, got %+v", record)
	}

	stats, err := gocommand.Query[query.CollectStatsMessage, webhooks.Stats](
		context.Background(),
		query.CollectStatsMessage{},
	)
	if err != nil {
		t.Fatalf("collect stats: %v", err)
	}
	if stats.DeadLetters != 0 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
