// Package httpapi exposes the webhook pipeline over HTTP: the provider
// delivery endpoint plus a small operator surface for inspecting the
// ledger, the dead letter queue, and pipeline counters.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/webhooks"
)

const defaultMaxPayloadBytes int64 = 1 << 20 // provider payloads are small

// DeliveryProcessor runs one provider delivery through the pipeline.
type DeliveryProcessor interface {
	Process(ctx context.Context, payload []byte, signatureHeader string) (webhooks.Result, error)
	RetryDeadLetter(ctx context.Context, eventID string) (webhooks.Result, error)
}

// LedgerReader exposes committed delivery records.
type LedgerReader interface {
	Get(ctx context.Context, eventID string) (core.ProcessedEvent, error)
}

// DeadLetterReader exposes the exhausted-delivery queue.
type DeadLetterReader interface {
	List(ctx context.Context) ([]core.DeadLetterEntry, error)
}

// StatsCollector derives pipeline counters from stored records.
type StatsCollector interface {
	CollectStats(ctx context.Context) (webhooks.Stats, error)
}

// API is the HTTP surface over the webhook pipeline.
type API struct {
	processor   DeliveryProcessor
	ledger      LedgerReader
	deadLetters DeadLetterReader
	stats       StatsCollector
	observer    core.Observer

	MaxPayloadBytes int64
}

type Option func(*API)

func WithObserver(observer core.Observer) Option {
	return func(a *API) {
		a.observer = observer
	}
}

func WithMaxPayloadBytes(limit int64) Option {
	return func(a *API) {
		if limit > 0 {
			a.MaxPayloadBytes = limit
		}
	}
}

func New(
	processor DeliveryProcessor,
	ledger LedgerReader,
	deadLetters DeadLetterReader,
	stats StatsCollector,
	options ...Option,
) (*API, error) {
	if processor == nil {
		return nil, core.NewBadInputError("httpapi: delivery processor is required")
	}

	api := &API{
		processor:       processor,
		ledger:          ledger,
		deadLetters:     deadLetters,
		stats:           stats,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
	for _, opt := range options {
		if opt != nil {
			opt(api)
		}
	}
	return api, nil
}

// Router mounts every route the API serves.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", a.handleHealth)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payments", a.handleDelivery)
		r.Get("/events/{eventID}", a.handleGetEvent)
		r.Get("/dead-letters", a.handleListDeadLetters)
		r.Post("/dead-letters/{eventID}/retry", a.handleRetryDeadLetter)
		r.Get("/stats", a.handleStats)
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleDelivery(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()

	payload, err := io.ReadAll(io.LimitReader(r.Body, a.maxPayloadBytes()+1))
	if err != nil {
		writeError(w, core.NewBadInputError("httpapi: read request body failed"))
		return
	}
	if int64(len(payload)) > a.maxPayloadBytes() {
		writeError(w, core.NewBadInputError("httpapi: request body exceeds payload limit"))
		return
	}

	result, err := a.processor.Process(r.Context(), payload, r.Header.Get(webhooks.SignatureHeader))
	a.observer.ObserveOperation(r.Context(), startedAt, "webhook_delivery", err, map[string]any{
		"event_id":   result.EventID,
		"event_type": result.EventType,
		"status":     result.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if a.ledger == nil {
		writeError(w, core.NewBadInputError("httpapi: ledger lookups are not enabled"))
		return
	}

	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	record, err := a.ledger.Get(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if a.deadLetters == nil {
		writeError(w, core.NewBadInputError("httpapi: dead letter listing is not enabled"))
		return
	}

	entries, err := a.deadLetters.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dead_letters": entries,
		"count":        len(entries),
	})
}

func (a *API) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()

	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	result, err := a.processor.RetryDeadLetter(r.Context(), eventID)
	a.observer.ObserveOperation(r.Context(), startedAt, "deadletter_retry", err, map[string]any{
		"event_id": eventID,
		"status":   result.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeError(w, core.NewBadInputError("httpapi: stats are not enabled"))
		return
	}

	stats, err := a.stats.CollectStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) maxPayloadBytes() int64 {
	if a != nil && a.MaxPayloadBytes > 0 {
		return a.MaxPayloadBytes
	}
	return defaultMaxPayloadBytes
}
