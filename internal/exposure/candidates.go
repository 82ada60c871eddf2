package exposure

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

// CandidateTracker maintains, for large outcome spaces, the set of outcomes
// that no recorded predicate pays out on. The shared store holds the
// complement (an exclusion bitmap), so a fresh period starts with the full
// universe and removal is an atomic OR.
type CandidateTracker struct {
	store  domain.PeriodStore
	spaces *outcome.Registry
}

// NewCandidateTracker creates a CandidateTracker.
func NewCandidateTracker(store domain.PeriodStore, spaces *outcome.Registry) *CandidateTracker {
	return &CandidateTracker{store: store, spaces: spaces}
}

// Tracks reports whether kind keeps a candidate set.
func (c *CandidateTracker) Tracks(kind domain.GameKind) bool {
	return kind == domain.GameCombinatorial5
}

// ExclusionMask returns the bitmap of outcomes p wins on, or nil when kind has
// no candidate set.
func (c *CandidateTracker) ExclusionMask(kind domain.GameKind, p outcome.Predicate) ([]byte, error) {
	if !c.Tracks(kind) {
		return nil, nil
	}
	space, err := c.spaces.Space(kind)
	if err != nil {
		return nil, err
	}
	win, err := space.WinningSet(p)
	if err != nil {
		return nil, err
	}
	return outcome.MaskBytes(win, space.Size()), nil
}

// Remaining returns the current candidate set in canonical index order. For
// kinds without a candidate set it returns nil.
func (c *CandidateTracker) Remaining(ctx context.Context, ref domain.PeriodRef) (*bitset.BitSet, error) {
	if !c.Tracks(ref.Kind) {
		return nil, nil
	}
	space, err := c.spaces.Space(ref.Kind)
	if err != nil {
		return nil, err
	}
	mask, err := c.store.Exclusions(ctx, ref.Key())
	if err != nil {
		return nil, fmt.Errorf("candidates: read exclusions %s: %w", ref, err)
	}
	excluded := outcome.FromMask(mask, space.Size())
	return excluded.Complement(), nil
}

// Stats returns the candidate set cardinality for monitoring.
func (c *CandidateTracker) Stats(ctx context.Context, ref domain.PeriodRef) (domain.CandidateStats, error) {
	stats := domain.CandidateStats{Period: ref, Tracked: c.Tracks(ref.Kind)}
	space, err := c.spaces.Space(ref.Kind)
	if err != nil {
		return stats, err
	}
	stats.Universe = space.Size()
	if !stats.Tracked {
		return stats, nil
	}

	remaining, err := c.Remaining(ctx, ref)
	if err != nil {
		return stats, err
	}
	stats.Remaining = int(remaining.Count())
	stats.Excluded = stats.Universe - stats.Remaining
	return stats, nil
}

// Members lists up to limit remaining outcomes in canonical order. A limit of
// zero or less lists them all.
func (c *CandidateTracker) Members(ctx context.Context, ref domain.PeriodRef, limit int) ([]domain.Outcome, error) {
	remaining, err := c.Remaining(ctx, ref)
	if err != nil || remaining == nil {
		return nil, err
	}
	space, err := c.spaces.Space(ref.Kind)
	if err != nil {
		return nil, err
	}

	var out []domain.Outcome
	for i, ok := remaining.NextSet(0); ok; i, ok = remaining.NextSet(i + 1) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, space.At(int(i)))
	}
	return out, nil
}

// Discard drops the period's candidate set after settlement.
func (c *CandidateTracker) Discard(ctx context.Context, ref domain.PeriodRef) error {
	if !c.Tracks(ref.Kind) {
		return nil
	}
	if err := c.store.DropExclusions(ctx, ref.Key()); err != nil {
		return fmt.Errorf("candidates: discard %s: %w", ref, err)
	}
	return nil
}
