// Package selection chooses the winning outcome of a frozen period.
package selection

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

// DefaultProtectedSharePct is the share of protected periods that take the
// protected branch; the rest draw at random.
const DefaultProtectedSharePct = 60

// Snapshot is the complete, stable view of a frozen period. The engine does
// no I/O, so everything it needs must be read up front.
type Snapshot struct {
	Period           domain.PeriodRef
	Exposure         map[string]int64
	Candidates       *bitset.BitSet // nil for kinds without a candidate set
	UniqueUsers      int64
	ProtectionActive bool
}

// Engine selects outcomes.
type Engine struct {
	spaces      *outcome.Registry
	source      Source
	protectedPc int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource replaces the random source used by the unprotected paths.
func WithSource(s Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithProtectedShare sets the percentage of protected periods that take the
// protected branch.
func WithProtectedShare(pct int) Option {
	return func(e *Engine) { e.protectedPc = int64(pct) }
}

// NewEngine creates an Engine.
func NewEngine(spaces *outcome.Registry, opts ...Option) *Engine {
	e := &Engine{
		spaces:      spaces,
		source:      CryptoSource{},
		protectedPc: DefaultProtectedSharePct,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select returns the winning outcome and the decision record. Given the same
// snapshot, the protected branch always returns the same outcome.
func (e *Engine) Select(s Snapshot) (domain.Outcome, domain.Decision, error) {
	space, err := e.spaces.Space(s.Period.Kind)
	if err != nil {
		return domain.Outcome{}, domain.Decision{}, err
	}
	preds, err := parseExposure(s.Exposure)
	if err != nil {
		return domain.Outcome{}, domain.Decision{}, err
	}

	d := domain.Decision{
		Seed:             Seed(s.Period),
		ProtectionActive: s.ProtectionActive,
		UniqueUsers:      s.UniqueUsers,
	}
	if s.Candidates != nil {
		d.CandidatesRemaining = int(s.Candidates.Count())
	}

	var o domain.Outcome
	switch {
	case !s.ProtectionActive:
		d.Branch = domain.BranchNormal
		o, err = e.draw(space)
	case d.Seed%100 >= e.protectedPc:
		d.Branch = domain.BranchRandom
		o, err = e.draw(space)
	default:
		o, d.Branch, err = e.protected(space, s, preds, d.Seed)
	}
	if err != nil {
		return domain.Outcome{}, domain.Decision{}, fmt.Errorf("selection: %s: %w", s.Period, err)
	}

	d.Liability = liabilityOf(preds, o)
	if d.Branch == domain.BranchProtected && s.Candidates != nil && d.Liability != 0 {
		return domain.Outcome{}, domain.Decision{}, fmt.Errorf("%w: candidate %s of %s owes %d", domain.ErrInvariantViolation, o, s.Period, d.Liability)
	}
	return o, d, nil
}

func (e *Engine) draw(space outcome.Space) (domain.Outcome, error) {
	i, err := e.source.Intn(space.Size())
	if err != nil {
		return domain.Outcome{}, err
	}
	return space.At(i), nil
}

func (e *Engine) protected(space outcome.Space, s Snapshot, preds []weighted, seed int64) (domain.Outcome, string, error) {
	if s.Period.Kind != domain.GameCombinatorial5 {
		o, err := minimumLiability(space, preds, seed)
		return o, domain.BranchProtected, err
	}

	if s.Candidates == nil {
		return domain.Outcome{}, "", fmt.Errorf("%w: candidate set was not read", domain.ErrStateUnavailable)
	}
	if n := s.Candidates.Count(); n > 0 {
		idx, ok := nth(s.Candidates, uint(seed%int64(n)))
		if !ok {
			return domain.Outcome{}, "", domain.ErrImpossibleSelection
		}
		return space.At(int(idx)), domain.BranchProtected, nil
	}

	// Every outcome owes something.
	if len(preds) == 0 {
		o, err := e.draw(space)
		return o, domain.BranchRandom, err
	}
	o, err := minimumLiability(space, preds, seed)
	return o, domain.BranchProtectedFallback, err
}

// minimumLiability accumulates every outcome's liability from the winning
// sets of the recorded predicates and picks among the cheapest outcomes by
// seed.
func minimumLiability(space outcome.Space, preds []weighted, seed int64) (domain.Outcome, error) {
	n := space.Size()
	if n == 0 {
		return domain.Outcome{}, domain.ErrImpossibleSelection
	}
	totals := make([]int64, n)
	for _, w := range preds {
		set, err := space.WinningSet(w.pred)
		if err != nil {
			return domain.Outcome{}, err
		}
		for i, ok := set.NextSet(0); ok && int(i) < n; i, ok = set.NextSet(i + 1) {
			totals[i] += w.amount
		}
	}

	best := totals[0]
	var ties []int
	for i, v := range totals {
		switch {
		case v < best:
			best = v
			ties = append(ties[:0], i)
		case v == best:
			ties = append(ties, i)
		}
	}
	return space.At(ties[seed%int64(len(ties))]), nil
}

// nth returns the index of the k-th set bit, counting from zero.
func nth(b *bitset.BitSet, k uint) (uint, bool) {
	var seen uint
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		if seen == k {
			return i, true
		}
		seen++
	}
	return 0, false
}

type weighted struct {
	pred   outcome.Predicate
	amount int64
}

func parseExposure(exp map[string]int64) ([]weighted, error) {
	out := make([]weighted, 0, len(exp))
	for key, amount := range exp {
		if amount == 0 {
			continue
		}
		p, err := outcome.ParseKey(key)
		if err != nil {
			return nil, fmt.Errorf("%w: ledger entry %q: %v", domain.ErrInvariantViolation, key, err)
		}
		out = append(out, weighted{pred: p, amount: amount})
	}
	return out, nil
}

func liabilityOf(preds []weighted, o domain.Outcome) int64 {
	var total int64
	for _, w := range preds {
		if w.pred.Wins(o) {
			total += w.amount
		}
	}
	return total
}
