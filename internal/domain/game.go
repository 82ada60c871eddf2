package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// GameKind selects the outcome space and candidate tracking strategy.
type GameKind string

const (
	GameSmallDiscrete  GameKind = "small_discrete"
	GameTripleDice     GameKind = "triple_dice"
	GameCombinatorial5 GameKind = "combinatorial5"
)

// ParseGameKind validates a wire value.
func ParseGameKind(s string) (GameKind, error) {
	switch k := GameKind(strings.ToLower(strings.TrimSpace(s))); k {
	case GameSmallDiscrete, GameTripleDice, GameCombinatorial5:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown game kind %q", ErrValidation, s)
	}
}

// Digits returns the number of digits in one elementary outcome.
func (k GameKind) Digits() int {
	switch k {
	case GameSmallDiscrete:
		return 1
	case GameTripleDice:
		return 3
	case GameCombinatorial5:
		return 5
	default:
		return 0
	}
}

// PeriodState is the lifecycle state of a betting round.
type PeriodState string

const (
	PeriodOpen    PeriodState = "open"
	PeriodFrozen  PeriodState = "frozen"
	PeriodSettled PeriodState = "settled"
)

// PeriodRef identifies one betting round. All per-period state is scoped to
// its Key.
type PeriodRef struct {
	Kind        GameKind `json:"game_kind"`
	DurationSec int      `json:"duration_sec"`
	Timeline    string   `json:"timeline"`
	PeriodID    string   `json:"period_id"`
}

// Key is the canonical store key for the period. It is also the input of the
// selection seed, so its format must never change.
func (r PeriodRef) Key() string {
	return string(r.Kind) + ":" + strconv.Itoa(r.DurationSec) + ":" + r.Timeline + ":" + r.PeriodID
}

func (r PeriodRef) String() string { return r.Key() }

// Validate checks the identifying fields.
func (r PeriodRef) Validate() error {
	if _, err := ParseGameKind(string(r.Kind)); err != nil {
		return err
	}
	if r.DurationSec <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	if !validLabel(r.Timeline) {
		return fmt.Errorf("%w: bad timeline %q", ErrValidation, r.Timeline)
	}
	if !validLabel(r.PeriodID) {
		return fmt.Errorf("%w: bad period id %q", ErrValidation, r.PeriodID)
	}
	return nil
}

func validLabel(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// PeriodMeta is the lifecycle record kept in the shared store.
type PeriodMeta struct {
	State    PeriodState
	Bets     int64
	OpenedAt int64 // unix millis
}
