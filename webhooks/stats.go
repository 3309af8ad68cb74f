package webhooks

import (
	"context"
	"fmt"

	"github.com/roadpay/roadpay/core"
)

// Stats summarizes the durable state of the pipeline plus the handler
// coverage of the registry collecting them.
type Stats struct {
	Processed          int            `json:"processed"`
	Succeeded          int            `json:"succeeded"`
	Failed             int            `json:"failed"`
	ByType             map[string]int `json:"by_type"`
	DeadLetters        int            `json:"dead_letters"`
	LedgerWriteFails   int            `json:"ledger_write_failures"`
	HandlersRegistered int            `json:"handlers_registered"`
}

// CollectStats scans the storage namespaces and counts ledger records,
// dead letters, and lost-commit markers. It requires a storage that
// supports key enumeration.
func CollectStats(ctx context.Context, storage core.Storage) (Stats, error) {
	if storage == nil {
		return Stats{}, fmt.Errorf("webhooks: storage is required")
	}

	lister, ok := storage.(core.KeyLister)
	if !ok {
		return Stats{}, fmt.Errorf("webhooks: storage does not support listing")
	}

	stats := Stats{ByType: map[string]int{}}

	eventKeys, err := lister.ListKeys(ctx, core.KeyPrefixEvent)
	if err != nil {
		return Stats{}, err
	}

	for _, key := range eventKeys {
		value, found, err := storage.Get(ctx, key)
		if err != nil {
			return Stats{}, err
		}
		if !found {
			continue
		}

		record, err := core.UnmarshalProcessedEvent(value)
		if err != nil {
			continue
		}

		stats.Processed++
		if record.EventType != "" {
			stats.ByType[record.EventType]++
		}
		if record.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}

	deadLetterKeys, err := lister.ListKeys(ctx, core.KeyPrefixDeadLetter)
	if err != nil {
		return Stats{}, err
	}
	stats.DeadLetters = len(deadLetterKeys)

	failedKeys, err := lister.ListKeys(ctx, core.KeyPrefixFailed)
	if err != nil {
		return Stats{}, err
	}
	stats.LedgerWriteFails = len(failedKeys)

	return stats, nil
}
