// Package exposure tracks per-period liability: the exposure ledger, the
// candidate set of zero-liability outcomes and the participation gate.
package exposure

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

// Bet is an ingested wager. It is immutable once recorded.
type Bet struct {
	ID         string
	UserID     string
	Predicate  outcome.Predicate
	Stake      int64 // minor units
	Multiplier decimal.Decimal
}

// Validate checks the fields that do not depend on the game kind.
func (b Bet) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if b.Predicate == nil {
		return fmt.Errorf("%w: predicate is required", domain.ErrValidation)
	}
	if b.Stake <= 0 {
		return fmt.Errorf("%w: stake must be positive, got %d", domain.ErrValidation, b.Stake)
	}
	if b.Multiplier.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: payout multiplier must be >= 1, got %s", domain.ErrValidation, b.Multiplier)
	}
	return nil
}

// Liability returns stake × multiplier rounded half-up to the minor unit.
func Liability(stake int64, multiplier decimal.Decimal) (int64, error) {
	v := decimal.NewFromInt(stake).Mul(multiplier).Round(0)
	if !v.IsInteger() || v.Cmp(decimal.NewFromInt(maxLiability)) > 0 {
		return 0, fmt.Errorf("%w: liability %s overflows", domain.ErrValidation, v)
	}
	return v.IntPart(), nil
}

// maxLiability keeps sums of many entries well inside int64.
const maxLiability = int64(1) << 50
