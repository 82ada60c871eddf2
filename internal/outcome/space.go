package outcome

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Space is the outcome universe of one game kind in canonical order.
type Space interface {
	Kind() domain.GameKind
	Size() int
	At(i int) domain.Outcome
	Index(o domain.Outcome) (int, error)
	Validate(p Predicate) error
	// WinningSet returns the canonical indexes p pays out on. The set may be
	// shared and must not be modified.
	WinningSet(p Predicate) (*bitset.BitSet, error)
}

// Winning lists the outcomes p wins on, in canonical order.
func Winning(s Space, p Predicate) ([]domain.Outcome, error) {
	bs, err := s.WinningSet(p)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Outcome, 0, bs.Count())
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		out = append(out, s.At(int(i)))
	}
	return out, nil
}

// enumerated is a small universe held as a slice; winning sets are computed
// by evaluating the predicate on every outcome.
type enumerated struct {
	kind     domain.GameKind
	outcomes []domain.Outcome
	index    map[domain.Outcome]int
}

func newEnumerated(kind domain.GameKind, outcomes []domain.Outcome) *enumerated {
	idx := make(map[domain.Outcome]int, len(outcomes))
	for i, o := range outcomes {
		idx[o] = i
	}
	return &enumerated{kind: kind, outcomes: outcomes, index: idx}
}

// NewSmallDiscrete returns the 0-9 space.
func NewSmallDiscrete() Space {
	outcomes := make([]domain.Outcome, 10)
	for i := range outcomes {
		outcomes[i] = domain.NewOutcome(i)
	}
	return newEnumerated(domain.GameSmallDiscrete, outcomes)
}

// NewTripleDice returns the 216 ordered 3-dice tuples.
func NewTripleDice() Space {
	outcomes := make([]domain.Outcome, 0, 216)
	for a := 1; a <= 6; a++ {
		for b := 1; b <= 6; b++ {
			for c := 1; c <= 6; c++ {
				outcomes = append(outcomes, domain.NewOutcome(a, b, c))
			}
		}
	}
	return newEnumerated(domain.GameTripleDice, outcomes)
}

func (s *enumerated) Kind() domain.GameKind      { return s.kind }
func (s *enumerated) Size() int                  { return len(s.outcomes) }
func (s *enumerated) At(i int) domain.Outcome    { return s.outcomes[i] }
func (s *enumerated) Validate(p Predicate) error { return validate(s.kind, p) }

func (s *enumerated) Index(o domain.Outcome) (int, error) {
	i, ok := s.index[o]
	if !ok {
		return 0, fmt.Errorf("%w: outcome %s not in %s", domain.ErrValidation, o, s.kind)
	}
	return i, nil
}

func (s *enumerated) WinningSet(p Predicate) (*bitset.BitSet, error) {
	if err := s.Validate(p); err != nil {
		return nil, err
	}
	bs := bitset.New(uint(len(s.outcomes)))
	for i, o := range s.outcomes {
		if p.Wins(o) {
			bs.Set(uint(i))
		}
	}
	return bs, nil
}

// combinatorial is backed by the combinations table indexes.
type combinatorial struct {
	table *Table
}

// NewCombinatorial5 returns the 100,000-outcome space over t.
func NewCombinatorial5(t *Table) Space { return &combinatorial{table: t} }

func (s *combinatorial) Kind() domain.GameKind   { return domain.GameCombinatorial5 }
func (s *combinatorial) Size() int               { return s.table.Len() }
func (s *combinatorial) At(i int) domain.Outcome { return s.table.Row(i).Outcome() }

func (s *combinatorial) Validate(p Predicate) error {
	return validate(domain.GameCombinatorial5, p)
}

func (s *combinatorial) Index(o domain.Outcome) (int, error) {
	if err := domain.CheckOutcome(domain.GameCombinatorial5, o); err != nil {
		return 0, err
	}
	i := 0
	for p := 0; p < o.Len(); p++ {
		i = i*10 + o.Digit(p)
	}
	return i, nil
}

func (s *combinatorial) WinningSet(p Predicate) (*bitset.BitSet, error) {
	if err := s.Validate(p); err != nil {
		return nil, err
	}
	return s.table.WinningSet(p), nil
}

// Registry resolves the space for a game kind.
type Registry struct {
	spaces map[domain.GameKind]Space
}

// NewRegistry builds the spaces. With a nil table the Combinatorial5 space is
// unavailable and lookups for it fail with ErrStateUnavailable.
func NewRegistry(table *Table) *Registry {
	r := &Registry{spaces: map[domain.GameKind]Space{
		domain.GameSmallDiscrete: NewSmallDiscrete(),
		domain.GameTripleDice:    NewTripleDice(),
	}}
	if table != nil {
		r.spaces[domain.GameCombinatorial5] = NewCombinatorial5(table)
	}
	return r
}

// Space returns the space for kind.
func (r *Registry) Space(kind domain.GameKind) (Space, error) {
	if s, ok := r.spaces[kind]; ok {
		return s, nil
	}
	if kind == domain.GameCombinatorial5 {
		return nil, fmt.Errorf("%w: combinations table not loaded", domain.ErrStateUnavailable)
	}
	return nil, fmt.Errorf("%w: unknown game kind %q", domain.ErrValidation, kind)
}
