package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/drawcore/internal/cache/memory"
	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
	"github.com/alanyoungcy/drawcore/internal/outcome"
	storemem "github.com/alanyoungcy/drawcore/internal/store/memory"
)

var (
	tableOnce sync.Once
	table     *outcome.Table
)

type fixture struct {
	store   *cachemem.PeriodStore
	results *storemem.ResultStore
	ledger  *exposure.Ledger
	bets    *BetService
	monitor *MonitorService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tableOnce.Do(func() { table = outcome.GenerateTable() })
	reg := outcome.NewRegistry(table)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := cachemem.NewPeriodStore()
	cands := exposure.NewCandidateTracker(store, reg)
	ledger := exposure.NewLedger(store, reg, cands, logger)
	results := storemem.NewResultStore()
	return &fixture{
		store:   store,
		results: results,
		ledger:  ledger,
		bets:    NewBetService(ledger, logger),
		monitor: NewMonitorService(ledger, cands, exposure.NewGate(store, 3), results),
	}
}

func comboRequest(user, betType, betValue string) PlaceBetRequest {
	return PlaceBetRequest{
		GameKind:    "combinatorial5",
		DurationSec: 60,
		Timeline:    "main",
		PeriodID:    "202601150631",
		UserID:      user,
		BetType:     betType,
		BetValue:    betValue,
		Stake:       100,
		Multiplier:  "9.5",
	}
}

func comboRef() domain.PeriodRef {
	return domain.PeriodRef{Kind: domain.GameCombinatorial5, DurationSec: 60, Timeline: "main", PeriodID: "202601150631"}
}

func TestPlaceBet_RecordsAndMonitors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := comboRef()
	_, err := f.store.Open(ctx, ref.Key(), time.Hour)
	require.NoError(t, err)

	resp, err := f.bets.PlaceBet(ctx, comboRequest("u1", "position", "A5"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.BetID)
	assert.Equal(t, "position:A5", resp.Predicate)
	assert.Equal(t, int64(950), resp.Liability)

	req := comboRequest("u2", "sum_parity", "odd")
	req.BetID = "bet-42"
	resp, err = f.bets.PlaceBet(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "bet-42", resp.BetID)

	snap, err := f.monitor.Exposure(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1900), snap.Total)
	assert.Equal(t, int64(2), snap.Bets)

	status, err := f.monitor.Status(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodOpen, status.State)
	assert.Equal(t, int64(2), status.UniqueUsers)
	assert.True(t, status.ProtectionActive)

	view, err := f.monitor.Candidates(ctx, ref, 5)
	require.NoError(t, err)
	assert.True(t, view.Tracked)
	assert.Equal(t, 100000, view.Universe)
	// A5 removes 10,000 outcomes, odd sums remove half of the rest.
	assert.Equal(t, 45000, view.Remaining)
	require.Len(t, view.Members, 5)
	for _, o := range view.Members {
		assert.NotEqual(t, 5, o.Digit(0))
		assert.Zero(t, domain.SumOf(o)%2)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Open(ctx, comboRef().Key(), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name string
		mut  func(*PlaceBetRequest)
	}{
		{"unknown kind", func(r *PlaceBetRequest) { r.GameKind = "roulette" }},
		{"bad timeline", func(r *PlaceBetRequest) { r.Timeline = "a b" }},
		{"bad predicate", func(r *PlaceBetRequest) { r.BetType = "color" }},
		{"bad multiplier", func(r *PlaceBetRequest) { r.Multiplier = "x2" }},
		{"multiplier below one", func(r *PlaceBetRequest) { r.Multiplier = "0.5" }},
		{"zero stake", func(r *PlaceBetRequest) { r.Stake = 0 }},
		{"missing user", func(r *PlaceBetRequest) { r.UserID = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := comboRequest("u1", "position", "A5")
			tt.mut(&req)
			_, err := f.bets.PlaceBet(ctx, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestPlaceBet_ClosedPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := comboRef()
	_, err := f.store.Open(ctx, ref.Key(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.store.Transition(ctx, ref.Key(), domain.PeriodOpen, domain.PeriodFrozen))

	_, err = f.bets.PlaceBet(ctx, comboRequest("u1", "position", "A5"))
	assert.ErrorIs(t, err, domain.ErrPeriodClosed)
}

func TestMonitor_UntrackedCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := domain.PeriodRef{Kind: domain.GameTripleDice, DurationSec: 60, Timeline: "main", PeriodID: "202601150631"}
	_, err := f.store.Open(ctx, ref.Key(), time.Hour)
	require.NoError(t, err)

	view, err := f.monitor.Candidates(ctx, ref, 10)
	require.NoError(t, err)
	assert.False(t, view.Tracked)
	assert.Equal(t, 216, view.Universe)
	assert.Empty(t, view.Members)
}

func TestMonitor_Results(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := comboRef()

	_, err := f.monitor.Result(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	r := domain.NewResult(ref, domain.NewOutcome(1, 2, 3, 4, 6), domain.Decision{Branch: domain.BranchNormal}, time.Now())
	require.NoError(t, f.results.Record(ctx, r))

	got, err := f.monitor.Result(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "12346", got.Outcome.String())

	recent, err := f.monitor.RecentResults(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	empty, err := f.monitor.RecentResults(ctx, domain.ListOpts{Limit: 10, Kind: domain.GameTripleDice})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
