package exposure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

// Ledger aggregates liability per predicate for each period. Every update is a
// single atomic store call that also applies the candidate exclusion and the
// participant, so the ledger and the candidate set never diverge.
type Ledger struct {
	store      domain.PeriodStore
	spaces     *outcome.Registry
	candidates *CandidateTracker
	logger     *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(store domain.PeriodStore, spaces *outcome.Registry, candidates *CandidateTracker, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:      store,
		spaces:     spaces,
		candidates: candidates,
		logger:     logger.With(slog.String("component", "ledger")),
	}
}

// Record validates bet against ref's outcome space and adds its liability. It
// returns the liability that was added. A bet whose ID is already recorded for
// the period fails with ErrAlreadyExists and still reports its liability.
func (l *Ledger) Record(ctx context.Context, ref domain.PeriodRef, bet Bet) (int64, error) {
	if err := bet.Validate(); err != nil {
		return 0, err
	}
	space, err := l.spaces.Space(ref.Kind)
	if err != nil {
		return 0, err
	}
	if err := space.Validate(bet.Predicate); err != nil {
		return 0, err
	}
	liability, err := Liability(bet.Stake, bet.Multiplier)
	if err != nil {
		return 0, err
	}
	mask, err := l.candidates.ExclusionMask(ref.Kind, bet.Predicate)
	if err != nil {
		return 0, err
	}

	err = l.store.Record(ctx, ref.Key(), domain.LiabilityUpdate{
		BetID:        bet.ID,
		UserID:       bet.UserID,
		PredicateKey: bet.Predicate.Key(),
		Liability:    liability,
		Exclusion:    mask,
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return liability, fmt.Errorf("ledger: record %s: %w", ref, err)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: record %s %s: %w", ref, bet.Predicate.Key(), err)
	}

	l.logger.DebugContext(ctx, "bet recorded",
		slog.String("period", ref.Key()),
		slog.String("bet_id", bet.ID),
		slog.String("predicate", bet.Predicate.Key()),
		slog.Int64("liability", liability),
	)
	return liability, nil
}

// Exposure returns the raw predicate → liability map.
func (l *Ledger) Exposure(ctx context.Context, ref domain.PeriodRef) (map[string]int64, error) {
	exp, err := l.store.Exposure(ctx, ref.Key())
	if err != nil {
		return nil, fmt.Errorf("ledger: read exposure %s: %w", ref, err)
	}
	return exp, nil
}

// TotalLiabilityIfOutcome sums the liability of every predicate that pays out
// on o. It is cheap for small spaces; large spaces should rely on the
// candidate set instead of calling it per outcome.
func (l *Ledger) TotalLiabilityIfOutcome(ctx context.Context, ref domain.PeriodRef, o domain.Outcome) (int64, error) {
	if err := domain.CheckOutcome(ref.Kind, o); err != nil {
		return 0, err
	}
	exp, err := l.Exposure(ctx, ref)
	if err != nil {
		return 0, err
	}
	return LiabilityFor(exp, o)
}

// LiabilityFor sums the entries of exp whose predicate wins on o.
func LiabilityFor(exp map[string]int64, o domain.Outcome) (int64, error) {
	var total int64
	for key, amount := range exp {
		p, err := outcome.ParseKey(key)
		if err != nil {
			return 0, fmt.Errorf("%w: ledger holds %v", domain.ErrInvariantViolation, err)
		}
		if p.Wins(o) {
			total += amount
		}
	}
	return total, nil
}

// Snapshot returns the monitoring view of the period's ledger.
func (l *Ledger) Snapshot(ctx context.Context, ref domain.PeriodRef) (domain.ExposureSnapshot, error) {
	snap := domain.ExposureSnapshot{Period: ref}

	meta, err := l.store.Meta(ctx, ref.Key())
	if err != nil {
		return snap, fmt.Errorf("ledger: read meta %s: %w", ref, err)
	}
	exp, err := l.Exposure(ctx, ref)
	if err != nil {
		return snap, err
	}
	users, err := l.store.UniqueUsers(ctx, ref.Key())
	if err != nil {
		return snap, fmt.Errorf("ledger: read users %s: %w", ref, err)
	}

	snap.State = meta.State
	snap.Bets = meta.Bets
	snap.UniqueUsers = users
	snap.Entries = make([]domain.ExposureEntry, 0, len(exp))
	for key, amount := range exp {
		snap.Entries = append(snap.Entries, domain.ExposureEntry{Predicate: key, Liability: amount})
		snap.Total += amount
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].Liability != snap.Entries[j].Liability {
			return snap.Entries[i].Liability > snap.Entries[j].Liability
		}
		return snap.Entries[i].Predicate < snap.Entries[j].Predicate
	})
	return snap, nil
}
