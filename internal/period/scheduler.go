package period

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Lane is one independently scheduled stream of periods.
type Lane struct {
	Kind         domain.GameKind
	DurationSec  int
	Timeline     string
	FreezeBefore time.Duration
}

func (l Lane) String() string {
	return fmt.Sprintf("%s:%d:%s", l.Kind, l.DurationSec, l.Timeline)
}

// Escalator is told about settlements that keep failing.
type Escalator interface {
	SettleFailed(ctx context.Context, ref domain.PeriodRef, attempts int, cause error) error
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Tick time.Duration
	// EscalateEvery is the number of failed settle attempts between alerts.
	EscalateEvery int
}

type tracked struct {
	slot     Slot
	frozen   bool
	attempts int
}

type laneState struct {
	mu      sync.Mutex
	lane    Lane
	pending []*tracked
	// recovered is set once the retention window has been scanned for
	// periods left unsettled by an earlier process.
	recovered bool
	// prevChecked is the last previous-slot period found settled or gone.
	prevChecked domain.PeriodRef
}

// Scheduler opens, freezes and settles the periods of every lane on a ticker.
// A failed settlement stays pending and is retried on the next tick. On its
// first tick a lane picks up every unsettled period still in the store, so
// periods opened by a previous process are frozen and settled too.
type Scheduler struct {
	manager   *Manager
	lanes     []*laneState
	cfg       SchedulerConfig
	escalator Escalator
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler. escalator may be nil.
func NewScheduler(manager *Manager, lanes []Lane, cfg SchedulerConfig, escalator Escalator, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.EscalateEvery <= 0 {
		cfg.EscalateEvery = 5
	}
	s := &Scheduler{
		manager:   manager,
		cfg:       cfg,
		escalator: escalator,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
	for _, l := range lanes {
		if err := CheckDuration(l.DurationSec, l.FreezeBefore); err != nil {
			return nil, fmt.Errorf("scheduler: lane %s: %w", l, err)
		}
		s.lanes = append(s.lanes, &laneState{lane: l})
	}
	return s, nil
}

// Run drives every lane until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Int("lanes", len(s.lanes)),
		slog.Duration("tick", s.cfg.Tick),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, ls := range s.lanes {
		g.Go(func() error {
			ticker := time.NewTicker(s.cfg.Tick)
			defer ticker.Stop()

			s.step(ctx, ls, time.Now())
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					s.step(ctx, ls, now)
				}
			}
		})
	}
	err := g.Wait()
	s.logger.InfoContext(ctx, "scheduler stopped")
	return err
}

// Step advances every lane to now. Run calls it on each tick.
func (s *Scheduler) Step(ctx context.Context, now time.Time) {
	for _, ls := range s.lanes {
		s.step(ctx, ls, now)
	}
}

// Pending returns the number of periods not yet settled across lanes.
func (s *Scheduler) Pending() int {
	n := 0
	for _, ls := range s.lanes {
		ls.mu.Lock()
		n += len(ls.pending)
		ls.mu.Unlock()
	}
	return n
}

// Lanes returns the scheduled lanes.
func (s *Scheduler) Lanes() []Lane {
	out := make([]Lane, len(s.lanes))
	for i, ls := range s.lanes {
		out[i] = ls.lane
	}
	return out
}

func (s *Scheduler) step(ctx context.Context, ls *laneState, now time.Time) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	cur, err := SlotAt(now, ls.lane.Kind, ls.lane.DurationSec, ls.lane.Timeline, ls.lane.FreezeBefore)
	if err != nil {
		s.logger.ErrorContext(ctx, "slot clock failed", slog.String("lane", ls.lane.String()), slog.String("error", err.Error()))
		return
	}
	if !ls.recovered {
		ls.recovered = s.recoverLane(ctx, ls, cur)
	} else {
		s.checkPrevious(ctx, ls, cur)
	}
	s.track(ctx, ls, cur)

	kept := ls.pending[:0]
	for _, t := range ls.pending {
		if !s.advance(ctx, t, now) {
			kept = append(kept, t)
		}
	}
	ls.pending = kept
}

// recoverLane walks back over the slots before cur that can still be in the
// store and re-tracks those not yet settled. It reports false when the store
// could not be read, so the scan runs again on the next tick.
func (s *Scheduler) recoverLane(ctx context.Context, ls *laneState, cur Slot) bool {
	dur := time.Duration(ls.lane.DurationSec) * time.Second
	back := int(s.manager.cfg.Retention / dur)
	found := 0
	for k := back; k >= 1; k-- {
		prev, err := SlotAt(cur.Start.Add(-time.Duration(k)*dur), ls.lane.Kind, ls.lane.DurationSec, ls.lane.Timeline, ls.lane.FreezeBefore)
		if err != nil {
			return false
		}
		ok, err := s.adopt(ctx, ls, prev)
		if err != nil {
			s.logger.ErrorContext(ctx, "recover lane failed",
				slog.String("lane", ls.lane.String()),
				slog.String("error", err.Error()),
			)
			return false
		}
		if ok {
			found++
		}
	}
	if found > 0 {
		s.logger.WarnContext(ctx, "recovered unsettled periods",
			slog.String("lane", ls.lane.String()),
			slog.Int("periods", found),
		)
	}
	return true
}

// checkPrevious re-tracks the slot just before cur if it is still unsettled
// and nobody is tracking it, e.g. when a tick was missed across a boundary.
func (s *Scheduler) checkPrevious(ctx context.Context, ls *laneState, cur Slot) {
	dur := time.Duration(ls.lane.DurationSec) * time.Second
	prev, err := SlotAt(cur.Start.Add(-dur), ls.lane.Kind, ls.lane.DurationSec, ls.lane.Timeline, ls.lane.FreezeBefore)
	if err != nil || prev.Ref == ls.prevChecked || ls.tracking(prev.Ref) {
		return
	}
	ok, err := s.adopt(ctx, ls, prev)
	if err != nil {
		s.logger.WarnContext(ctx, "check previous period failed",
			slog.String("period", prev.Ref.Key()),
			slog.String("error", err.Error()),
		)
		return
	}
	if ok {
		s.logger.WarnContext(ctx, "adopted untracked period", slog.String("period", prev.Ref.Key()))
		return
	}
	ls.prevChecked = prev.Ref
}

// adopt tracks slot if its period exists and is not settled, keeping the
// stored frozen state. It reports whether the slot was added.
func (s *Scheduler) adopt(ctx context.Context, ls *laneState, slot Slot) (bool, error) {
	if ls.tracking(slot.Ref) {
		return false, nil
	}
	meta, err := s.manager.Store.Meta(ctx, slot.Ref.Key())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if meta.State == domain.PeriodSettled {
		return false, nil
	}
	ls.pending = append(ls.pending, &tracked{slot: slot, frozen: meta.State == domain.PeriodFrozen})
	return true, nil
}

func (ls *laneState) tracking(ref domain.PeriodRef) bool {
	for _, t := range ls.pending {
		if t.slot.Ref == ref {
			return true
		}
	}
	return false
}

// track opens cur once and adds it to the pending list.
func (s *Scheduler) track(ctx context.Context, ls *laneState, cur Slot) {
	if ls.tracking(cur.Ref) {
		return
	}
	if _, err := s.manager.Open(ctx, cur.Ref); err != nil {
		s.logger.ErrorContext(ctx, "open period failed",
			slog.String("period", cur.Ref.Key()),
			slog.String("error", err.Error()),
		)
		return
	}
	ls.pending = append(ls.pending, &tracked{slot: cur})
}

// advance moves one period forward and reports whether it is done.
func (s *Scheduler) advance(ctx context.Context, t *tracked, now time.Time) bool {
	ref := t.slot.Ref
	if !t.frozen {
		if now.Before(t.slot.FreezeAt) {
			return false
		}
		err := s.manager.Freeze(ctx, ref)
		switch {
		case err == nil, errors.Is(err, domain.ErrInvalidTransition):
			// Another instance may have frozen it first.
			t.frozen = true
		case errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "period expired before freeze", slog.String("period", ref.Key()))
			return true
		default:
			s.logger.ErrorContext(ctx, "freeze failed", slog.String("period", ref.Key()), slog.String("error", err.Error()))
			return false
		}
	}

	if now.Before(t.slot.SettleAt) {
		return false
	}
	if _, err := s.manager.Settle(ctx, ref); err != nil {
		t.attempts++
		if m := s.manager.Metrics; m != nil {
			m.SettleFailures.WithLabelValues(string(ref.Kind)).Inc()
		}
		s.logger.ErrorContext(ctx, "settle failed",
			slog.String("period", ref.Key()),
			slog.Int("attempts", t.attempts),
			slog.String("error", err.Error()),
		)
		if s.escalator != nil && (t.attempts == 1 || t.attempts%s.cfg.EscalateEvery == 0) {
			if nerr := s.escalator.SettleFailed(ctx, ref, t.attempts, err); nerr != nil {
				s.logger.WarnContext(ctx, "escalation failed", slog.String("error", nerr.Error()))
			}
		}
		return false
	}
	return true
}
