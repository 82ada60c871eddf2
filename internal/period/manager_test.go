package period

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/drawcore/internal/cache/memory"
	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
	"github.com/alanyoungcy/drawcore/internal/metrics"
	"github.com/alanyoungcy/drawcore/internal/outcome"
	"github.com/alanyoungcy/drawcore/internal/selection"
	storemem "github.com/alanyoungcy/drawcore/internal/store/memory"
)

var (
	tableOnce sync.Once
	table     *outcome.Table
)

type harness struct {
	manager *Manager
	store   *cachemem.PeriodStore
	results *storemem.ResultStore
	audit   *storemem.AuditStore
	bus     *cachemem.SignalBus
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, threshold int) *harness {
	t.Helper()
	tableOnce.Do(func() { table = outcome.GenerateTable() })
	reg := outcome.NewRegistry(table)

	store := cachemem.NewPeriodStore()
	cands := exposure.NewCandidateTracker(store, reg)
	h := &harness{
		store:   store,
		results: storemem.NewResultStore(),
		audit:   storemem.NewAuditStore(),
		bus:     cachemem.NewSignalBus(),
	}
	h.manager = NewManager(Deps{
		Store:      store,
		Ledger:     exposure.NewLedger(store, reg, cands, quietLogger()),
		Candidates: cands,
		Gate:       exposure.NewGate(store, threshold),
		Engine:     selection.NewEngine(reg, selection.WithSource(selection.NewSeededSource(1))),
		Results:    h.results,
		Audit:      h.audit,
		Locks:      cachemem.NewLockManager(),
		Bus:        h.bus,
		Metrics:    metrics.New(),
	}, Config{Retention: time.Hour}, quietLogger())
	return h
}

func smallRef() domain.PeriodRef {
	return domain.PeriodRef{Kind: domain.GameSmallDiscrete, DurationSec: 60, Timeline: "main", PeriodID: "202601150631"}
}

func wager(user string, p outcome.Predicate, stake int64) exposure.Bet {
	return exposure.Bet{ID: user, UserID: user, Predicate: p, Stake: stake, Multiplier: decimal.NewFromInt(2)}
}

func TestManager_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	ref := smallRef()

	results, err := h.bus.Subscribe(ctx, domain.ChannelResult)
	require.NoError(t, err)

	created, err := h.manager.Open(ctx, ref)
	require.NoError(t, err)
	assert.True(t, created)

	liab, err := h.manager.PlaceBet(ctx, ref, wager("u1", outcome.Color{Color: domain.ColorRed}, 100))
	require.NoError(t, err)
	assert.EqualValues(t, 200, liab)

	_, err = h.manager.Settle(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "open periods cannot settle")

	require.NoError(t, h.manager.Freeze(ctx, ref))
	_, err = h.manager.PlaceBet(ctx, ref, wager("u2", outcome.ExactNumber{Value: 1}, 100))
	assert.ErrorIs(t, err, domain.ErrPeriodClosed)

	res, err := h.manager.Settle(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, res.Verify())
	assert.True(t, res.Decision.ProtectionActive)
	assert.EqualValues(t, 1, res.Decision.UniqueUsers)
	if res.Decision.Branch == domain.BranchProtected {
		assert.Contains(t, []int{1, 3, 5, 7, 9}, res.Outcome.Digit(0))
	}

	state, err := h.manager.State(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodSettled, state)

	again, err := h.manager.Settle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, res, again, "re-settling returns the stored result")

	stored, err := h.manager.Result(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, res.Outcome, stored.Outcome)

	select {
	case payload := <-results:
		var got domain.Result
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, res.Outcome, got.Outcome)
	case <-time.After(time.Second):
		t.Fatal("result was not published")
	}

	entries, err := h.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, AuditSettled, entries[0].Event)
	assert.Equal(t, res.Decision.Branch, entries[0].Detail["branch"])
}

func TestManager_SettleIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	ref := smallRef()
	_, err := h.manager.Open(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, h.manager.Freeze(ctx, ref))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		outs []domain.Result
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.manager.Settle(ctx, ref)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrLockHeld)
				return
			}
			mu.Lock()
			outs = append(outs, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.NotEmpty(t, outs)
	for _, r := range outs {
		assert.Equal(t, outs[0], r)
	}
	recent, err := h.results.ListRecent(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestManager_CombinatorialDiscardsCandidates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	ref := domain.PeriodRef{Kind: domain.GameCombinatorial5, DurationSec: 60, Timeline: "main", PeriodID: "202601150631"}

	_, err := h.manager.Open(ctx, ref)
	require.NoError(t, err)
	_, err = h.manager.PlaceBet(ctx, ref, wager("u", outcome.Position{Pos: 0, Digit: 5}, 10))
	require.NoError(t, err)

	excl, err := h.store.Exclusions(ctx, ref.Key())
	require.NoError(t, err)
	assert.NotEmpty(t, excl)

	require.NoError(t, h.manager.Freeze(ctx, ref))
	res, err := h.manager.Settle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 90000, res.Decision.CandidatesRemaining)
	if res.Decision.Branch == domain.BranchProtected {
		assert.NotEqual(t, 5, res.Outcome.Digit(0))
	}

	excl, err = h.store.Exclusions(ctx, ref.Key())
	require.NoError(t, err)
	assert.Empty(t, excl)
}

func TestManager_RejectsInvalidRef(t *testing.T) {
	h := newHarness(t, 10)
	ref := smallRef()
	ref.Kind = "roulette"

	_, err := h.manager.Open(context.Background(), ref)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.manager.PlaceBet(context.Background(), ref, wager("u", outcome.ExactNumber{Value: 1}, 1))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type flakyResults struct {
	*storemem.ResultStore
	mu    sync.Mutex
	fails int
}

func (f *flakyResults) Record(ctx context.Context, r domain.Result) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("postgres: connection refused")
	}
	f.mu.Unlock()
	return f.ResultStore.Record(ctx, r)
}

func TestManager_FailedRecordLeavesPeriodFrozen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.manager.Results = &flakyResults{ResultStore: h.results, fails: 1}
	ref := smallRef()

	_, err := h.manager.Open(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, h.manager.Freeze(ctx, ref))

	_, err = h.manager.Settle(ctx, ref)
	require.Error(t, err)
	state, err := h.manager.State(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodFrozen, state)

	_, err = h.manager.Settle(ctx, ref)
	require.NoError(t, err)
}

func TestManager_ReplayedBetIsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	ref := smallRef()
	_, err := h.manager.Open(ctx, ref)
	require.NoError(t, err)

	bet := wager("u1", outcome.Color{Color: domain.ColorGreen}, 100)
	first, err := h.manager.PlaceBet(ctx, ref, bet)
	require.NoError(t, err)
	again, err := h.manager.PlaceBet(ctx, ref, bet)
	require.NoError(t, err, "a retried bet is acknowledged")
	assert.Equal(t, first, again)

	exp, err := h.manager.Ledger.Exposure(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{bet.Predicate.Key(): first}, exp)

	require.NoError(t, h.manager.Freeze(ctx, ref))
	_, err = h.manager.PlaceBet(ctx, ref, bet)
	assert.NoError(t, err, "a retry that arrives after freeze is still acknowledged")

	other := bet
	other.ID = "u1-second"
	_, err = h.manager.PlaceBet(ctx, ref, other)
	assert.ErrorIs(t, err, domain.ErrPeriodClosed)
}
