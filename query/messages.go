package query

import "strings"

const (
	TypeGetProcessedEvent = "payments.query.event.get"
	TypeListDeadLetters   = "payments.query.deadletter.list"
	TypeCollectStats      = "payments.query.stats.collect"
)

type GetProcessedEventMessage struct {
	EventID string
}

func (GetProcessedEventMessage) Type() string { return TypeGetProcessedEvent }

func (m GetProcessedEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return queryValidationError("event_id", "event id is required")
	}
	return nil
}

type ListDeadLettersMessage struct{}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (ListDeadLettersMessage) Validate() error { return nil }

type CollectStatsMessage struct{}

func (CollectStatsMessage) Type() string { return TypeCollectStats }

func (CollectStatsMessage) Validate() error { return nil }
