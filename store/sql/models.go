package sqlstore

import (
	"time"

	"github.com/goliatone/go-billing-sync/core"
	"github.com/uptrace/bun"
)

type kvEntryRecord struct {
	bun.BaseModel `bun:"table:billing_kv_entries,alias:bkv"`

	ID        string    `bun:"id,pk"`
	Key       string    `bun:"entry_key,notnull"`
	Value     []byte    `bun:"value,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:billing_dead_letters,alias:bdl"`

	ID          string    `bun:"id,pk"`
	RetryID     string    `bun:"retry_id,notnull"`
	EventID     string    `bun:"event_id,notnull"`
	EventType   string    `bun:"event_type,notnull"`
	DedupKey    string    `bun:"dedup_key,notnull"`
	Payload     []byte    `bun:"payload,notnull"`
	Attempts    int       `bun:"attempts,notnull"`
	MaxAttempts int       `bun:"max_attempts,notnull"`
	LastError   string    `bun:"last_error,notnull"`
	Cause       string    `bun:"cause,notnull"`
	ScheduledAt time.Time `bun:"scheduled_at,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// DeadLetter is a retry item that ran out of attempts, as persisted.
type DeadLetter struct {
	ID        string
	Item      core.RetryItem
	Cause     string
	CreatedAt time.Time
}

func newDeadLetterRecord(item core.RetryItem, cause string, now time.Time) *deadLetterRecord {
	payload := append([]byte(nil), item.Payload...)
	if payload == nil {
		payload = []byte{}
	}
	return &deadLetterRecord{
		RetryID:     item.ID,
		EventID:     item.EventID,
		EventType:   item.EventType,
		DedupKey:    item.DedupKey,
		Payload:     payload,
		Attempts:    item.Attempts,
		MaxAttempts: item.MaxAttempts,
		LastError:   item.LastError,
		Cause:       cause,
		ScheduledAt: item.ScheduledAt.UTC(),
		CreatedAt:   now,
	}
}

func (r *deadLetterRecord) toDomain() DeadLetter {
	if r == nil {
		return DeadLetter{}
	}
	return DeadLetter{
		ID: r.ID,
		Item: core.RetryItem{
			ID:          r.RetryID,
			EventID:     r.EventID,
			EventType:   r.EventType,
			DedupKey:    r.DedupKey,
			Payload:     append([]byte(nil), r.Payload...),
			Attempts:    r.Attempts,
			MaxAttempts: r.MaxAttempts,
			LastError:   r.LastError,
			ScheduledAt: r.ScheduledAt.UTC(),
		},
		Cause:     r.Cause,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
