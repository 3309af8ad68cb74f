package query

import (
	"context"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/webhooks"
)

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

type GetProcessedEventQuery struct {
	reader LedgerReader
}

func NewGetProcessedEventQuery(reader LedgerReader) *GetProcessedEventQuery {
	return &GetProcessedEventQuery{reader: reader}
}

func (q *GetProcessedEventQuery) Query(ctx context.Context, msg GetProcessedEventMessage) (core.ProcessedEvent, error) {
	if q == nil || q.reader == nil {
		return core.ProcessedEvent{}, queryDependencyError("query: ledger reader is required")
	}
	return q.reader.Get(ctx, msg.EventID)
}

type ListDeadLettersQuery struct {
	reader DeadLetterReader
}

func NewListDeadLettersQuery(reader DeadLetterReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) ([]core.DeadLetterEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	return q.reader.List(ctx)
}

type CollectStatsQuery struct {
	collector StatsCollector
}

func NewCollectStatsQuery(collector StatsCollector) *CollectStatsQuery {
	return &CollectStatsQuery{collector: collector}
}

func (q *CollectStatsQuery) Query(ctx context.Context, msg CollectStatsMessage) (webhooks.Stats, error) {
	if q == nil || q.collector == nil {
		return webhooks.Stats{}, queryDependencyError("query: stats collector is required")
	}
	return q.collector.CollectStats(ctx)
}

// StorageStatsCollector adapts a key-value store to the StatsCollector
// contract.
type StorageStatsCollector struct {
	storage core.Storage
}

func NewStorageStatsCollector(storage core.Storage) (*StorageStatsCollector, error) {
	if storage == nil {
		return nil, queryDependencyError("query: storage is required")
	}
	return &StorageStatsCollector{storage: storage}, nil
}

func (c *StorageStatsCollector) CollectStats(ctx context.Context) (webhooks.Stats, error) {
	if c == nil || c.storage == nil {
		return webhooks.Stats{}, queryDependencyError("query: stats storage is required")
	}
	return webhooks.CollectStats(ctx, c.storage)
}
