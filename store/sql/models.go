package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type kvRecord struct {
	bun.BaseModel `bun:"table:payment_kv_entries,alias:pkv"`

	Key       string    `bun:"key,pk"`
	Value     []byte    `bun:"value,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type notificationDispatchRecord struct {
	bun.BaseModel `bun:"table:payment_notification_dispatches,alias:pnd"`

	ID          string         `bun:"id,pk"`
	EventID     string         `bun:"event_id,notnull"`
	Template    string         `bun:"template,notnull"`
	Recipient   string         `bun:"recipient,notnull"`
	Idempotency string         `bun:"idempotency_key,notnull,unique"`
	Status      string         `bun:"status,notnull"`
	Error       string         `bun:"error"`
	Metadata    map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type customerRecord struct {
	bun.BaseModel `bun:"table:payment_customers,alias:pc"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	Name      string    `bun:"name"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
