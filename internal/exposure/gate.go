package exposure

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Gate decides whether protection mode applies to a period from the number of
// distinct wagering users.
type Gate struct {
	store     domain.PeriodStore
	threshold int64
}

// NewGate creates a Gate. Protection applies while the unique user count is
// below threshold.
func NewGate(store domain.PeriodStore, threshold int) *Gate {
	return &Gate{store: store, threshold: int64(threshold)}
}

// Threshold returns the configured user threshold.
func (g *Gate) Threshold() int64 { return g.threshold }

// UniqueUsers counts distinct users across all recorded bets.
func (g *Gate) UniqueUsers(ctx context.Context, ref domain.PeriodRef) (int64, error) {
	n, err := g.store.UniqueUsers(ctx, ref.Key())
	if err != nil {
		return 0, fmt.Errorf("gate: unique users %s: %w", ref, err)
	}
	return n, nil
}

// Verdict returns the unique user count and whether protection is active.
func (g *Gate) Verdict(ctx context.Context, ref domain.PeriodRef) (users int64, protect bool, err error) {
	users, err = g.UniqueUsers(ctx, ref)
	if err != nil {
		return 0, false, err
	}
	return users, users < g.threshold, nil
}

// ProtectionActive reports whether fewer than threshold users have wagered.
func (g *Gate) ProtectionActive(ctx context.Context, ref domain.PeriodRef) (bool, error) {
	_, protect, err := g.Verdict(ctx, ref)
	return protect, err
}
