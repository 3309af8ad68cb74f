package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Storage is the key-value collaborator that owns all durable state:
// the idempotency ledger, dead letters, and the records domain handlers
// write. Keys are namespaced strings such as "event:evt_123".
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AtomicStorage is implemented by Storage backends that can reserve a
// key atomically. The event ledger uses it, when available, to close
// the read-then-write race between concurrent deliveries of the same
// event id.
type AtomicStorage interface {
	Storage
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// KeyLister is implemented by Storage backends that can enumerate keys
// under a namespace prefix. Operator listings (dead letters) use it.
type KeyLister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// EmailSender is the outbound notification collaborator. Dispatch is
// awaited so failures stay visible to the caller, but handlers treat it
// as fire-and-forget: a send failure never rolls back storage writes.
type EmailSender interface {
	Send(ctx context.Context, to string, subject string, template string, data map[string]any) error
}

// CustomerDirectory resolves a provider customer id to the contact
// details notifications need. Backed by the provider client, optionally
// behind a cache.
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}
