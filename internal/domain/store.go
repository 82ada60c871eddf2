package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Kind   GameKind
	Since  *time.Time
	Until  *time.Time
}

// ResultStore persists settled results. Record is called exactly once per
// period; a second call fails with ErrAlreadyExists and never overwrites.
type ResultStore interface {
	Record(ctx context.Context, r Result) error
	Get(ctx context.Context, ref PeriodRef) (Result, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Result, error)
	ListBefore(ctx context.Context, before time.Time) ([]Result, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	PeriodKey string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, event, periodKey string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
