package domain

import "errors"

var (
	// ErrValidation marks a malformed bet: bad predicate, non-positive stake,
	// unknown game kind. Nothing is recorded.
	ErrValidation = errors.New("validation failed")
	// ErrStateUnavailable marks a shared store or combinations table that
	// could not be reached. The operation is aborted without partial updates.
	ErrStateUnavailable = errors.New("state unavailable")
	// ErrInvariantViolation marks a programming error such as a Result whose
	// attributes disagree with its digits.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrImpossibleSelection is returned when no outcome could be chosen.
	ErrImpossibleSelection = errors.New("impossible selection")

	ErrPeriodClosed      = errors.New("period not accepting bets")
	ErrInvalidTransition = errors.New("invalid period state transition")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrLockHeld          = errors.New("lock already held")
)
