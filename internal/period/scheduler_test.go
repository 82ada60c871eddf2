package period

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

type recordingEscalator struct {
	mu       sync.Mutex
	attempts []int
}

func (r *recordingEscalator) SettleFailed(_ context.Context, _ domain.PeriodRef, attempts int, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempts)
	return nil
}

func TestScheduler_DrivesLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	lane := Lane{Kind: domain.GameSmallDiscrete, DurationSec: 60, Timeline: "main", FreezeBefore: 5 * time.Second}
	s, err := NewScheduler(h.manager, []Lane{lane}, SchedulerConfig{Tick: time.Second}, nil, quietLogger())
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 15, 10, 30, 10, 0, time.UTC)
	slot, err := SlotAt(t0, lane.Kind, lane.DurationSec, lane.Timeline, lane.FreezeBefore)
	require.NoError(t, err)

	s.Step(ctx, t0)
	state, err := h.manager.State(ctx, slot.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodOpen, state)

	s.Step(ctx, slot.FreezeAt)
	state, err = h.manager.State(ctx, slot.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodFrozen, state)

	s.Step(ctx, slot.SettleAt)
	state, err = h.manager.State(ctx, slot.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodSettled, state)

	next := slot.Next(lane.FreezeBefore)
	state, err = h.manager.State(ctx, next.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodOpen, state, "next slot opens on the same tick")
	assert.Equal(t, 1, s.Pending())
}

func TestScheduler_RetriesAndEscalates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.manager.Results = &flakyResults{ResultStore: h.results, fails: 3}
	esc := &recordingEscalator{}
	lane := Lane{Kind: domain.GameTripleDice, DurationSec: 60, Timeline: "main"}
	s, err := NewScheduler(h.manager, []Lane{lane}, SchedulerConfig{EscalateEvery: 2}, esc, quietLogger())
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 15, 10, 30, 10, 0, time.UTC)
	slot, err := SlotAt(t0, lane.Kind, lane.DurationSec, lane.Timeline, 0)
	require.NoError(t, err)
	s.Step(ctx, t0)

	// The settle instant falls in the next slot; keep ticking inside it.
	at := slot.SettleAt
	for i := 0; i < 4; i++ {
		s.Step(ctx, at)
		at = at.Add(time.Second)
	}

	_, err = h.manager.Result(ctx, slot.Ref)
	require.NoError(t, err, "settled on the fourth attempt")
	assert.Equal(t, []int{1, 2}, esc.attempts)
}

func TestScheduler_SettlesPeriodsLeftByPreviousProcess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	lane := Lane{Kind: domain.GameSmallDiscrete, DurationSec: 60, Timeline: "main", FreezeBefore: 5 * time.Second}

	t0 := time.Date(2026, 1, 15, 10, 30, 10, 0, time.UTC)
	slot, err := SlotAt(t0, lane.Kind, lane.DurationSec, lane.Timeline, lane.FreezeBefore)
	require.NoError(t, err)
	older, err := SlotAt(t0.Add(-2*time.Minute), lane.Kind, lane.DurationSec, lane.Timeline, lane.FreezeBefore)
	require.NoError(t, err)

	first, err := NewScheduler(h.manager, []Lane{lane}, SchedulerConfig{}, nil, quietLogger())
	require.NoError(t, err)
	first.Step(ctx, t0)
	_, err = h.manager.PlaceBet(ctx, slot.Ref, wager("u1", outcome.Color{Color: domain.ColorRed}, 100))
	require.NoError(t, err)

	// A period that was frozen when its process died.
	_, err = h.manager.Open(ctx, older.Ref)
	require.NoError(t, err)
	require.NoError(t, h.manager.Freeze(ctx, older.Ref))

	// The first scheduler is gone; a new one starts well after both slots ended.
	second, err := NewScheduler(h.manager, []Lane{lane}, SchedulerConfig{}, nil, quietLogger())
	require.NoError(t, err)
	second.Step(ctx, slot.SettleAt.Add(2*time.Minute))

	for _, ref := range []domain.PeriodRef{older.Ref, slot.Ref} {
		state, err := h.manager.State(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, domain.PeriodSettled, state, ref.Key())
		_, err = h.manager.Result(ctx, ref)
		assert.NoError(t, err, ref.Key())
	}

	_, err = h.manager.PlaceBet(ctx, slot.Ref, wager("late", outcome.ExactNumber{Value: 1}, 100))
	assert.ErrorIs(t, err, domain.ErrPeriodClosed)
	assert.Equal(t, 1, second.Pending(), "only the current slot is left")
}

func TestScheduler_AdoptsPreviousSlotOpenedElsewhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	lane := Lane{Kind: domain.GameTripleDice, DurationSec: 60, Timeline: "main"}
	s, err := NewScheduler(h.manager, []Lane{lane}, SchedulerConfig{}, nil, quietLogger())
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 15, 10, 30, 10, 0, time.UTC)
	s.Step(ctx, t0)

	skipped, err := SlotAt(t0.Add(time.Minute), lane.Kind, lane.DurationSec, lane.Timeline, 0)
	require.NoError(t, err)
	_, err = h.manager.Open(ctx, skipped.Ref)
	require.NoError(t, err)

	// No tick lands inside the skipped slot.
	s.Step(ctx, t0.Add(2*time.Minute))

	_, err = h.manager.Result(ctx, skipped.Ref)
	require.NoError(t, err)
	state, err := h.manager.State(ctx, skipped.Ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodSettled, state)
}

func TestScheduler_RejectsBadLane(t *testing.T) {
	h := newHarness(t, 10)
	_, err := NewScheduler(h.manager, []Lane{{Kind: domain.GameSmallDiscrete, DurationSec: 7, Timeline: "main"}}, SchedulerConfig{}, nil, quietLogger())
	assert.ErrorIs(t, err, domain.ErrValidation)
}
