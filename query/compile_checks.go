package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/webhooks"
)

var (
	_ gocmd.Querier[GetProcessedEventMessage, core.ProcessedEvent]  = (*GetProcessedEventQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.DeadLetterEntry] = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[CollectStatsMessage, webhooks.Stats]            = (*CollectStatsQuery)(nil)
	_ StatsCollector                                                = (*StorageStatsCollector)(nil)
)
