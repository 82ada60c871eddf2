package domain

import (
	"fmt"
	"time"
)

// Selection branches recorded in a Decision.
const (
	BranchNormal            = "normal"
	BranchProtected         = "protected"
	BranchProtectedFallback = "protected_fallback"
	BranchRandom            = "random"
)

// Decision is the audit record of how a Result was chosen.
type Decision struct {
	Branch              string `json:"branch"`
	Seed                int64  `json:"seed"`
	ProtectionActive    bool   `json:"protection_active"`
	UniqueUsers         int64  `json:"unique_users"`
	Liability           int64  `json:"liability"`
	CandidatesRemaining int    `json:"candidates_remaining"`
}

// Result is the immutable winning outcome of a settled period.
type Result struct {
	Period     PeriodRef  `json:"period"`
	Outcome    Outcome    `json:"outcome"`
	Attributes Attributes `json:"attributes"`
	Decision   Decision   `json:"decision"`
	SettledAt  time.Time  `json:"settled_at"`
}

// NewResult derives the attributes from the outcome.
func NewResult(ref PeriodRef, o Outcome, d Decision, at time.Time) Result {
	return Result{
		Period:     ref,
		Outcome:    o,
		Attributes: AttributesOf(o),
		Decision:   d,
		SettledAt:  at.UTC(),
	}
}

// Verify recomputes the attributes and fails with ErrInvariantViolation on any
// disagreement. It never corrects the Result.
func (r Result) Verify() error {
	if err := CheckOutcome(r.Period.Kind, r.Outcome); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if want := AttributesOf(r.Outcome); !want.Equal(r.Attributes) {
		return fmt.Errorf("%w: result %s attributes %+v do not match digits %s", ErrInvariantViolation, r.Period, r.Attributes, r.Outcome)
	}
	return nil
}

// ExposureEntry is the cumulative liability of one predicate.
type ExposureEntry struct {
	Predicate string `json:"predicate"`
	Liability int64  `json:"liability"`
}

// ExposureSnapshot is the read-only monitoring view of a period's ledger.
type ExposureSnapshot struct {
	Period      PeriodRef       `json:"period"`
	State       PeriodState     `json:"state"`
	Entries     []ExposureEntry `json:"entries"`
	Total       int64           `json:"total"`
	Bets        int64           `json:"bets"`
	UniqueUsers int64           `json:"unique_users"`
}

// CandidateStats is the monitoring view of a period's candidate set.
type CandidateStats struct {
	Period    PeriodRef `json:"period"`
	Tracked   bool      `json:"tracked"`
	Universe  int       `json:"universe"`
	Remaining int       `json:"remaining"`
	Excluded  int       `json:"excluded"`
}
