package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RetryDeadLetterMessage] = (*RetryDeadLetterCommand)(nil)
	_ gocmd.Commander[PurgeProcessedMessage]  = (*PurgeProcessedCommand)(nil)
	_ gocmd.Commander[UpsertCustomerMessage]  = (*UpsertCustomerCommand)(nil)
)
