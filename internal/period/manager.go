package period

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
	"github.com/alanyoungcy/drawcore/internal/metrics"
	"github.com/alanyoungcy/drawcore/internal/selection"
)

// Audit events written by the manager.
const (
	AuditOpened  = "period_opened"
	AuditFrozen  = "period_frozen"
	AuditSettled = "period_settled"
)

// Deps are the collaborators of a Manager. Bus and Metrics are optional.
type Deps struct {
	Store      domain.PeriodStore
	Ledger     *exposure.Ledger
	Candidates *exposure.CandidateTracker
	Gate       *exposure.Gate
	Engine     *selection.Engine
	Results    domain.ResultStore
	Audit      domain.AuditStore
	Locks      domain.LockManager
	Bus        domain.SignalBus
	Metrics    *metrics.Metrics
}

// Config holds the manager's tunables.
type Config struct {
	// Retention is the TTL of every per-period key in the shared store.
	Retention time.Duration
	// SettleLockTTL bounds how long a crashed settler can block the period.
	SettleLockTTL time.Duration
}

// Manager owns the Open → Frozen → Settled state machine of every period.
type Manager struct {
	Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Deps, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SettleLockTTL <= 0 {
		cfg.SettleLockTTL = 30 * time.Second
	}
	return &Manager{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "period_manager")),
		now:    time.Now,
	}
}

// Open creates the period in the open state. Opening an existing period is a
// no-op that reports false.
func (m *Manager) Open(ctx context.Context, ref domain.PeriodRef) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	created, err := m.Store.Open(ctx, ref.Key(), m.cfg.Retention)
	if err != nil {
		return false, fmt.Errorf("period: open %s: %w", ref, err)
	}
	if !created {
		return false, nil
	}

	m.logger.InfoContext(ctx, "period opened", slog.String("period", ref.Key()))
	if m.Metrics != nil {
		m.Metrics.PeriodsOpened.WithLabelValues(string(ref.Kind)).Inc()
	}
	m.audit(ctx, AuditOpened, ref, nil)
	m.publishState(ctx, ref, domain.PeriodOpen)
	return true, nil
}

// PlaceBet records an already-debited bet. It fails with ErrPeriodClosed once
// the period has been frozen; the check and the ledger update are one atomic
// store operation. Replaying a bet ID that is already recorded succeeds
// without adding liability again, so the wallet side may retry.
func (m *Manager) PlaceBet(ctx context.Context, ref domain.PeriodRef, bet exposure.Bet) (int64, error) {
	if err := ref.Validate(); err != nil {
		m.rejected(ref, err)
		return 0, err
	}
	liability, err := m.Ledger.Record(ctx, ref, bet)
	if errors.Is(err, domain.ErrAlreadyExists) {
		m.logger.InfoContext(ctx, "duplicate bet ignored",
			slog.String("period", ref.Key()),
			slog.String("bet_id", bet.ID),
		)
		return liability, nil
	}
	if err != nil {
		m.rejected(ref, err)
		return 0, err
	}
	if m.Metrics != nil {
		m.Metrics.BetsRecorded.WithLabelValues(string(ref.Kind)).Inc()
		m.Metrics.LiabilityAdd.WithLabelValues(string(ref.Kind)).Add(float64(liability))
	}
	return liability, nil
}

// Freeze stops bet ingestion for the period.
func (m *Manager) Freeze(ctx context.Context, ref domain.PeriodRef) error {
	if err := m.Store.Transition(ctx, ref.Key(), domain.PeriodOpen, domain.PeriodFrozen); err != nil {
		return fmt.Errorf("period: freeze %s: %w", ref, err)
	}
	m.logger.InfoContext(ctx, "period frozen", slog.String("period", ref.Key()))
	if m.Metrics != nil {
		m.Metrics.PeriodsFrozen.WithLabelValues(string(ref.Kind)).Inc()
	}
	m.audit(ctx, AuditFrozen, ref, nil)
	m.publishState(ctx, ref, domain.PeriodFrozen)
	return nil
}

// Settle selects and records the result of a frozen period. It runs at most
// once per period: concurrent callers are excluded by a lock, and a period
// that already has a result returns the stored one.
func (m *Manager) Settle(ctx context.Context, ref domain.PeriodRef) (domain.Result, error) {
	if r, err := m.stored(ctx, ref); err == nil || !errors.Is(err, domain.ErrNotFound) {
		return r, err
	}

	unlock, err := m.Locks.Acquire(ctx, "settle:"+ref.Key(), m.cfg.SettleLockTTL)
	if err != nil {
		return domain.Result{}, fmt.Errorf("period: settle %s: %w", ref, err)
	}
	defer unlock()

	// Another settler may have finished between the check and the lock.
	if r, err := m.stored(ctx, ref); err == nil || !errors.Is(err, domain.ErrNotFound) {
		return r, err
	}

	meta, err := m.Store.Meta(ctx, ref.Key())
	if err != nil {
		return domain.Result{}, fmt.Errorf("period: settle %s: %w", ref, err)
	}
	switch meta.State {
	case domain.PeriodFrozen:
	case domain.PeriodSettled:
		return domain.Result{}, fmt.Errorf("%w: %s is settled but has no result", domain.ErrInvariantViolation, ref)
	default:
		return domain.Result{}, fmt.Errorf("period: settle %s in state %s: %w", ref, meta.State, domain.ErrInvalidTransition)
	}

	snap, err := m.snapshot(ctx, ref)
	if err != nil {
		return domain.Result{}, err
	}

	start := time.Now()
	o, decision, err := m.Engine.Select(snap)
	if m.Metrics != nil {
		m.Metrics.SelectionLatency.WithLabelValues(string(ref.Kind)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return domain.Result{}, fmt.Errorf("period: select %s: %w", ref, err)
	}

	result := domain.NewResult(ref, o, decision, m.now())
	if err := result.Verify(); err != nil {
		return domain.Result{}, err
	}
	if err := m.Results.Record(ctx, result); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return m.stored(ctx, ref)
		}
		return domain.Result{}, fmt.Errorf("period: record result %s: %w", ref, err)
	}

	m.audit(ctx, AuditSettled, ref, map[string]any{
		"outcome":              o.String(),
		"branch":               decision.Branch,
		"seed":                 decision.Seed,
		"protection_active":    decision.ProtectionActive,
		"unique_users":         decision.UniqueUsers,
		"liability":            decision.Liability,
		"candidates_remaining": decision.CandidatesRemaining,
	})
	m.logger.InfoContext(ctx, "period settled",
		slog.String("period", ref.Key()),
		slog.String("outcome", o.String()),
		slog.String("branch", decision.Branch),
		slog.Bool("protected", decision.ProtectionActive),
		slog.Int64("liability", decision.Liability),
	)
	if m.Metrics != nil {
		m.Metrics.Settlements.WithLabelValues(string(ref.Kind), decision.Branch).Inc()
		if snap.Candidates != nil {
			m.Metrics.CandidatesAtClose.WithLabelValues(string(ref.Kind)).Set(float64(decision.CandidatesRemaining))
		}
	}

	m.finish(ctx, ref)
	m.publishResult(ctx, result)
	return result, nil
}

// Result returns the stored result of a settled period.
func (m *Manager) Result(ctx context.Context, ref domain.PeriodRef) (domain.Result, error) {
	r, err := m.Results.Get(ctx, ref)
	if err != nil {
		return domain.Result{}, fmt.Errorf("period: result %s: %w", ref, err)
	}
	return r, nil
}

// State returns the lifecycle state of the period.
func (m *Manager) State(ctx context.Context, ref domain.PeriodRef) (domain.PeriodState, error) {
	meta, err := m.Store.Meta(ctx, ref.Key())
	if err != nil {
		return "", fmt.Errorf("period: state %s: %w", ref, err)
	}
	return meta.State, nil
}

// stored returns an existing result and completes the transition if a previous
// settler crashed after recording it.
func (m *Manager) stored(ctx context.Context, ref domain.PeriodRef) (domain.Result, error) {
	r, err := m.Results.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Result{}, err
		}
		return domain.Result{}, fmt.Errorf("period: read result %s: %w", ref, err)
	}
	if meta, err := m.Store.Meta(ctx, ref.Key()); err == nil && meta.State == domain.PeriodFrozen {
		m.finish(ctx, ref)
	}
	return r, nil
}

// snapshot reads the complete state the engine needs. Any read failure aborts
// the settlement.
func (m *Manager) snapshot(ctx context.Context, ref domain.PeriodRef) (selection.Snapshot, error) {
	exp, err := m.Ledger.Exposure(ctx, ref)
	if err != nil {
		return selection.Snapshot{}, err
	}
	users, protect, err := m.Gate.Verdict(ctx, ref)
	if err != nil {
		return selection.Snapshot{}, err
	}
	cands, err := m.Candidates.Remaining(ctx, ref)
	if err != nil {
		return selection.Snapshot{}, err
	}
	return selection.Snapshot{
		Period:           ref,
		Exposure:         exp,
		Candidates:       cands,
		UniqueUsers:      users,
		ProtectionActive: protect,
	}, nil
}

// finish moves the period to settled and drops its candidate set. Both steps
// are retried by the next Settle call if they fail here.
func (m *Manager) finish(ctx context.Context, ref domain.PeriodRef) {
	if err := m.Store.Transition(ctx, ref.Key(), domain.PeriodFrozen, domain.PeriodSettled); err != nil {
		m.logger.WarnContext(ctx, "mark settled failed",
			slog.String("period", ref.Key()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := m.Candidates.Discard(ctx, ref); err != nil {
		m.logger.WarnContext(ctx, "discard candidates failed",
			slog.String("period", ref.Key()),
			slog.String("error", err.Error()),
		)
	}
	m.publishState(ctx, ref, domain.PeriodSettled)
}

func (m *Manager) rejected(ref domain.PeriodRef, err error) {
	if m.Metrics == nil {
		return
	}
	reason := "error"
	switch {
	case errors.Is(err, domain.ErrValidation):
		reason = "validation"
	case errors.Is(err, domain.ErrPeriodClosed):
		reason = "closed"
	case errors.Is(err, domain.ErrNotFound):
		reason = "unknown_period"
	case errors.Is(err, domain.ErrStateUnavailable):
		reason = "unavailable"
	}
	m.Metrics.BetsRejected.WithLabelValues(string(ref.Kind), reason).Inc()
}

func (m *Manager) audit(ctx context.Context, event string, ref domain.PeriodRef, detail map[string]any) {
	if m.Audit == nil {
		return
	}
	if err := m.Audit.Log(ctx, event, ref.Key(), detail); err != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("period", ref.Key()),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) publishState(ctx context.Context, ref domain.PeriodRef, state domain.PeriodState) {
	if m.Bus == nil {
		return
	}
	payload, err := json.Marshal(domain.PeriodEvent{Period: ref, State: state, At: m.now().UnixMilli()})
	if err != nil {
		return
	}
	if err := m.Bus.Publish(ctx, domain.ChannelPeriod, payload); err != nil {
		m.logger.DebugContext(ctx, "publish period event failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) publishResult(ctx context.Context, r domain.Result) {
	if m.Bus == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		m.logger.WarnContext(ctx, "marshal result failed", slog.String("error", err.Error()))
		return
	}
	if err := m.Bus.Publish(ctx, domain.ChannelResult, payload); err != nil {
		m.logger.WarnContext(ctx, "publish result failed", slog.String("error", err.Error()))
	}
	if err := m.Bus.StreamAppend(ctx, domain.StreamResults, payload); err != nil {
		m.logger.WarnContext(ctx, "append result stream failed", slog.String("error", err.Error()))
	}
}
