package domain

import (
	"context"
	"time"
)

// LiabilityUpdate is one bet's contribution to a period, applied atomically:
// the predicate's liability grows, the user joins the participant set and the
// exclusion mask (if any) is OR-ed into the candidate exclusion bitmap.
type LiabilityUpdate struct {
	// BetID makes the update idempotent when set: a second update with the
	// same id is refused with ErrAlreadyExists and changes nothing.
	BetID        string
	UserID       string
	PredicateKey string
	Liability    int64
	// Exclusion is a big-endian bitmap (bit i = outcome i) of outcomes this
	// predicate pays on. Nil when the game kind has no candidate set.
	Exclusion []byte
}

// PeriodStore is the shared key-value store holding every piece of ephemeral
// per-period state. All keys expire after the retention window.
type PeriodStore interface {
	// Open creates the period in the open state. It reports false when the
	// period already existed.
	Open(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Meta(ctx context.Context, key string) (PeriodMeta, error)
	// Transition moves the period from one state to the next, failing with
	// ErrInvalidTransition if the current state is not from.
	Transition(ctx context.Context, key string, from, to PeriodState) error
	// Record applies u atomically. It fails with ErrAlreadyExists if u.BetID
	// was recorded before, and otherwise with ErrPeriodClosed unless the
	// period is open.
	Record(ctx context.Context, key string, u LiabilityUpdate) error
	Exposure(ctx context.Context, key string) (map[string]int64, error)
	UniqueUsers(ctx context.Context, key string) (int64, error)
	// Exclusions returns the candidate exclusion bitmap; an empty slice means
	// nothing has been excluded.
	Exclusions(ctx context.Context, key string) ([]byte, error)
	DropExclusions(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Signal bus channels and streams.
const (
	ChannelResult = "ch:result"
	ChannelPeriod = "ch:period"
	StreamResults = "stream:results"
)

// PeriodEvent is published on ChannelPeriod at every lifecycle transition.
type PeriodEvent struct {
	Period PeriodRef   `json:"period"`
	State  PeriodState `json:"state"`
	At     int64       `json:"at"` // unix millis
}
