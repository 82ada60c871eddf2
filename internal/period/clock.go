// Package period runs the lifecycle of betting rounds: the slot clock, the
// open/freeze/settle state machine and the scheduler that drives it.
package period

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

const secondsPerDay = 24 * 60 * 60

// Slot is one scheduled period with its lifecycle instants.
type Slot struct {
	Ref      domain.PeriodRef
	Index    int // 1-based slot of the UTC day
	Start    time.Time
	End      time.Time
	FreezeAt time.Time
	SettleAt time.Time
}

// Next returns the slot that starts when s ends.
func (s Slot) Next(freezeBefore time.Duration) Slot {
	next, _ := SlotAt(s.End, s.Ref.Kind, s.Ref.DurationSec, s.Ref.Timeline, freezeBefore)
	return next
}

// CheckDuration reports whether periods of durationSec tile a UTC day and
// leave room to freeze before the end.
func CheckDuration(durationSec int, freezeBefore time.Duration) error {
	if durationSec <= 0 || secondsPerDay%durationSec != 0 {
		return fmt.Errorf("%w: duration %ds must divide a day", domain.ErrValidation, durationSec)
	}
	if freezeBefore < 0 || freezeBefore >= time.Duration(durationSec)*time.Second {
		return fmt.Errorf("%w: freeze_before %s must be within the %ds period", domain.ErrValidation, freezeBefore, durationSec)
	}
	return nil
}

// SlotAt returns the slot containing now. The period id is the UTC date
// followed by the zero-padded slot index, e.g. 202601150042.
func SlotAt(now time.Time, kind domain.GameKind, durationSec int, timeline string, freezeBefore time.Duration) (Slot, error) {
	if err := CheckDuration(durationSec, freezeBefore); err != nil {
		return Slot{}, err
	}
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dur := time.Duration(durationSec) * time.Second
	idx := int(now.Sub(day) / dur)

	start := day.Add(time.Duration(idx) * dur)
	end := start.Add(dur)
	return Slot{
		Ref: domain.PeriodRef{
			Kind:        kind,
			DurationSec: durationSec,
			Timeline:    timeline,
			PeriodID:    periodID(day, idx+1, durationSec),
		},
		Index:    idx + 1,
		Start:    start,
		End:      end,
		FreezeAt: end.Add(-freezeBefore),
		SettleAt: end,
	}, nil
}

// SlotOf reverses SlotAt for an existing period reference.
func SlotOf(ref domain.PeriodRef, freezeBefore time.Duration) (Slot, error) {
	if err := CheckDuration(ref.DurationSec, freezeBefore); err != nil {
		return Slot{}, err
	}
	width := indexWidth(ref.DurationSec)
	if len(ref.PeriodID) != 8+width {
		return Slot{}, fmt.Errorf("%w: period id %q does not match duration %ds", domain.ErrValidation, ref.PeriodID, ref.DurationSec)
	}
	day, err := time.ParseInLocation("20060102", ref.PeriodID[:8], time.UTC)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: period id %q: %v", domain.ErrValidation, ref.PeriodID, err)
	}
	idx, err := strconv.Atoi(ref.PeriodID[8:])
	if err != nil || idx < 1 || idx > secondsPerDay/ref.DurationSec {
		return Slot{}, fmt.Errorf("%w: period id %q has bad slot index", domain.ErrValidation, ref.PeriodID)
	}

	dur := time.Duration(ref.DurationSec) * time.Second
	start := day.Add(time.Duration(idx-1) * dur)
	return SlotAt(start, ref.Kind, ref.DurationSec, ref.Timeline, freezeBefore)
}

func periodID(day time.Time, idx, durationSec int) string {
	return day.Format("20060102") + fmt.Sprintf("%0*d", indexWidth(durationSec), idx)
}

func indexWidth(durationSec int) int {
	return len(strconv.Itoa(secondsPerDay / durationSec))
}
