package exposure

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawcore/internal/cache/memory"
	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

var (
	tableOnce sync.Once
	table     *outcome.Table
)

func testRegistry() *outcome.Registry {
	tableOnce.Do(func() { table = outcome.GenerateTable() })
	return outcome.NewRegistry(table)
}

type fixture struct {
	store      *memory.PeriodStore
	ledger     *Ledger
	candidates *CandidateTracker
	gate       *Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewPeriodStore()
	reg := testRegistry()
	cands := NewCandidateTracker(store, reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:      store,
		ledger:     NewLedger(store, reg, cands, logger),
		candidates: cands,
		gate:       NewGate(store, 3),
	}
}

func openPeriod(t *testing.T, f *fixture, kind domain.GameKind) domain.PeriodRef {
	t.Helper()
	ref := domain.PeriodRef{Kind: kind, DurationSec: 60, Timeline: "main", PeriodID: "202601010001"}
	_, err := f.store.Open(context.Background(), ref.Key(), 0)
	require.NoError(t, err)
	return ref
}

func bet(user string, p outcome.Predicate, stake int64, mult string) Bet {
	return Bet{ID: user + "-" + p.Key(), UserID: user, Predicate: p, Stake: stake, Multiplier: decimal.RequireFromString(mult)}
}

func TestLiabilityRounding(t *testing.T) {
	tests := []struct {
		stake int64
		mult  string
		want  int64
	}{
		{100, "9", 900},
		{100, "1.985", 199},
		{3, "1.5", 5},
		{1, "1.49", 1},
		{7, "2", 14},
	}
	for _, tt := range tests {
		got, err := Liability(tt.stake, decimal.RequireFromString(tt.mult))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%d x %s", tt.stake, tt.mult)
	}
}

func TestBetValidate(t *testing.T) {
	good := bet("u", outcome.ExactNumber{Value: 3}, 10, "9")
	require.NoError(t, good.Validate())

	cases := map[string]Bet{
		"no user":       bet("", outcome.ExactNumber{Value: 3}, 10, "9"),
		"zero stake":    bet("u", outcome.ExactNumber{Value: 3}, 0, "9"),
		"low mult":      bet("u", outcome.ExactNumber{Value: 3}, 10, "0.5"),
		"nil predicate": {UserID: "u", Stake: 10, Multiplier: decimal.NewFromInt(2)},
	}
	for name, b := range cases {
		assert.ErrorIs(t, b.Validate(), domain.ErrValidation, name)
	}
}

func TestLedger_RecordAccumulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameSmallDiscrete)

	liab, err := f.ledger.Record(ctx, ref, bet("u1", outcome.ExactNumber{Value: 3}, 100, "9"))
	require.NoError(t, err)
	assert.EqualValues(t, 900, liab)

	_, err = f.ledger.Record(ctx, ref, bet("u2", outcome.ExactNumber{Value: 3}, 50, "9"))
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, ref, bet("u2", outcome.Color{Color: domain.ColorRed}, 100, "2"))
	require.NoError(t, err)

	exp, err := f.ledger.Exposure(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"number:3": 1350, "color:red": 200}, exp)

	total, err := f.ledger.TotalLiabilityIfOutcome(ctx, ref, domain.NewOutcome(3))
	require.NoError(t, err)
	assert.EqualValues(t, 1350, total)

	total, err = f.ledger.TotalLiabilityIfOutcome(ctx, ref, domain.NewOutcome(4))
	require.NoError(t, err)
	assert.EqualValues(t, 200, total)

	snap, err := f.ledger.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodOpen, snap.State)
	assert.EqualValues(t, 3, snap.Bets)
	assert.EqualValues(t, 1550, snap.Total)
	assert.EqualValues(t, 2, snap.UniqueUsers)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "number:3", snap.Entries[0].Predicate)
}

func TestLedger_RejectsInvalidPredicateForKind(t *testing.T) {
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameTripleDice)

	_, err := f.ledger.Record(context.Background(), ref, bet("u", outcome.ExactNumber{Value: 9}, 10, "2"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	exp, err := f.ledger.Exposure(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, exp)
}

func TestLedger_RejectsAfterFreeze(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameSmallDiscrete)
	require.NoError(t, f.store.Transition(ctx, ref.Key(), domain.PeriodOpen, domain.PeriodFrozen))

	_, err := f.ledger.Record(ctx, ref, bet("u", outcome.ExactNumber{Value: 1}, 10, "9"))
	assert.ErrorIs(t, err, domain.ErrPeriodClosed)
}

func TestLedger_ZeroStakeLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameSmallDiscrete)

	_, err := f.ledger.Record(ctx, ref, bet("u", outcome.ExactNumber{Value: 1}, 0, "9"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	users, err := f.gate.UniqueUsers(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, users)
}

func TestCandidates_PositionBetRemovesTenThousand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameCombinatorial5)

	stats, err := f.candidates.Stats(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 100000, stats.Remaining)

	_, err = f.ledger.Record(ctx, ref, bet("u", outcome.Position{Pos: 0, Digit: 5}, 10, "9"))
	require.NoError(t, err)

	stats, err = f.candidates.Stats(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 90000, stats.Remaining)
	assert.Equal(t, 10000, stats.Excluded)

	// Same predicate again is idempotent on the candidate set.
	_, err = f.ledger.Record(ctx, ref, bet("u2", outcome.Position{Pos: 0, Digit: 5}, 10, "9"))
	require.NoError(t, err)
	stats, err = f.candidates.Stats(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 90000, stats.Remaining)

	members, err := f.candidates.Members(ctx, ref, 3)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for _, m := range members {
		assert.NotEqual(t, 5, m.Digit(0))
	}
}

func TestCandidates_SumSizeCoverEmptiesSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameCombinatorial5)

	_, err := f.ledger.Record(ctx, ref, bet("a", outcome.SumSize{Size: domain.SizeBig}, 10, "2"))
	require.NoError(t, err)
	_, err = f.ledger.Record(ctx, ref, bet("b", outcome.SumSize{Size: domain.SizeSmall}, 10, "2"))
	require.NoError(t, err)

	stats, err := f.candidates.Stats(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, stats.Remaining)

	require.NoError(t, f.candidates.Discard(ctx, ref))
	stats, err = f.candidates.Stats(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 100000, stats.Remaining)
}

func TestCandidates_UntrackedKind(t *testing.T) {
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameSmallDiscrete)

	stats, err := f.candidates.Stats(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, stats.Tracked)
	assert.Equal(t, 10, stats.Universe)
}

func TestGate_Threshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := openPeriod(t, f, domain.GameSmallDiscrete)

	for _, u := range []string{"a", "b", "a"} {
		_, err := f.ledger.Record(ctx, ref, bet(u, outcome.ExactNumber{Value: 1}, 10, "9"))
		require.NoError(t, err)
	}
	users, protect, err := f.gate.Verdict(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 2, users)
	assert.True(t, protect)

	_, err = f.ledger.Record(ctx, ref, bet("c", outcome.ExactNumber{Value: 1}, 10, "9"))
	require.NoError(t, err)
	protect, err = f.gate.ProtectionActive(ctx, ref)
	require.NoError(t, err)
	assert.False(t, protect, "threshold reached")
}
