package selection

import (
	"fmt"
	mrand "math/rand"
	"sync"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/outcome"
)

var (
	tableOnce sync.Once
	table     *outcome.Table
)

func registry() *outcome.Registry {
	tableOnce.Do(func() { table = outcome.GenerateTable() })
	return outcome.NewRegistry(table)
}

// periodWhere returns a period of kind whose seed satisfies keep.
func periodWhere(t *testing.T, kind domain.GameKind, keep func(seed int64) bool) domain.PeriodRef {
	t.Helper()
	for i := 0; i < 10000; i++ {
		ref := domain.PeriodRef{Kind: kind, DurationSec: 60, Timeline: "main", PeriodID: fmt.Sprintf("20260101%04d", i)}
		if keep(Seed(ref)) {
			return ref
		}
	}
	t.Fatal("no period id matched")
	return domain.PeriodRef{}
}

func protectedPeriod(t *testing.T, kind domain.GameKind) domain.PeriodRef {
	return periodWhere(t, kind, func(s int64) bool { return s%100 < DefaultProtectedSharePct })
}

func randomPeriod(t *testing.T, kind domain.GameKind) domain.PeriodRef {
	return periodWhere(t, kind, func(s int64) bool { return s%100 >= DefaultProtectedSharePct })
}

func exposureOf(entries map[outcome.Predicate]int64) map[string]int64 {
	out := make(map[string]int64, len(entries))
	for p, v := range entries {
		out[p.Key()] += v
	}
	return out
}

// candidatesAfter mirrors the candidate tracker: the complement of every
// predicate's winning set.
func candidatesAfter(t *testing.T, preds ...outcome.Predicate) *bitset.BitSet {
	t.Helper()
	space, err := registry().Space(domain.GameCombinatorial5)
	require.NoError(t, err)
	excluded := bitset.New(uint(space.Size()))
	for _, p := range preds {
		win, err := space.WinningSet(p)
		require.NoError(t, err)
		excluded.InPlaceUnion(outcome.FromMask(outcome.MaskBytes(win, space.Size()), space.Size()))
	}
	return excluded.Complement()
}

func TestSeedIsStableAndNonNegative(t *testing.T) {
	ref := domain.PeriodRef{Kind: domain.GameSmallDiscrete, DurationSec: 60, Timeline: "main", PeriodID: "202601010001"}
	assert.Equal(t, Seed(ref), Seed(ref))
	assert.GreaterOrEqual(t, Seed(ref), int64(0))

	other := ref
	other.PeriodID = "202601010002"
	assert.NotEqual(t, Seed(ref), Seed(other))
}

func TestProtectedZeroBets(t *testing.T) {
	e := NewEngine(registry())
	for _, kind := range []domain.GameKind{domain.GameSmallDiscrete, domain.GameTripleDice, domain.GameCombinatorial5} {
		ref := protectedPeriod(t, kind)
		snap := Snapshot{Period: ref, Exposure: map[string]int64{}, ProtectionActive: true}
		if kind == domain.GameCombinatorial5 {
			snap.Candidates = candidatesAfter(t)
			assert.EqualValues(t, 100000, snap.Candidates.Count())
		}

		o, d, err := e.Select(snap)
		require.NoError(t, err, kind)
		assert.Equal(t, domain.BranchProtected, d.Branch)
		assert.Zero(t, d.Liability)
		assert.NoError(t, domain.CheckOutcome(kind, o))
	}
}

func TestProtectedSmallAvoidsRed(t *testing.T) {
	e := NewEngine(registry())
	ref := protectedPeriod(t, domain.GameSmallDiscrete)
	snap := Snapshot{
		Period:           ref,
		Exposure:         exposureOf(map[outcome.Predicate]int64{outcome.Color{Color: domain.ColorRed}: 200}),
		UniqueUsers:      1,
		ProtectionActive: true,
	}

	o, d, err := e.Select(snap)
	require.NoError(t, err)
	assert.Contains(t, []int{1, 3, 5, 7, 9}, o.Digit(0))
	assert.Zero(t, d.Liability)
}

func TestProtectedSmallPicksOnlyUncovered(t *testing.T) {
	e := NewEngine(registry())
	ref := protectedPeriod(t, domain.GameSmallDiscrete)
	entries := map[outcome.Predicate]int64{}
	for n := 0; n < 10; n++ {
		if n != 4 {
			entries[outcome.ExactNumber{Value: n}] = int64(100 + n)
		}
	}

	o, d, err := e.Select(Snapshot{Period: ref, Exposure: exposureOf(entries), ProtectionActive: true})
	require.NoError(t, err)
	assert.Equal(t, "4", o.String())
	assert.Zero(t, d.Liability)
}

func TestProtectedDiceIsGlobalMinimum(t *testing.T) {
	e := NewEngine(registry())
	space, err := registry().Space(domain.GameTripleDice)
	require.NoError(t, err)
	rng := mrand.New(mrand.NewSource(7))

	for trial := 0; trial < 20; trial++ {
		ref := protectedPeriod(t, domain.GameTripleDice)
		entries := map[outcome.Predicate]int64{}
		entries[outcome.SumSize{Size: domain.SizeBig}] = int64(rng.Intn(1000) + 1)
		entries[outcome.SumSize{Size: domain.SizeSmall}] = int64(rng.Intn(1000) + 1)
		entries[outcome.SumParity{Parity: domain.ParityOdd}] = int64(rng.Intn(1000) + 1)
		entries[outcome.Pair{Value: rng.Intn(6) + 1}] = int64(rng.Intn(1000) + 1)
		entries[outcome.Sum{Value: rng.Intn(16) + 3}] = int64(rng.Intn(1000) + 1)
		exp := exposureOf(entries)

		o, d, err := e.Select(Snapshot{Period: ref, Exposure: exp, ProtectionActive: true})
		require.NoError(t, err)

		lowest := int64(-1)
		for i := 0; i < space.Size(); i++ {
			v := brute(exp, space.At(i))
			if lowest < 0 || v < lowest {
				lowest = v
			}
		}
		assert.Equal(t, lowest, d.Liability)
		assert.Equal(t, brute(exp, o), d.Liability)
	}
}

func brute(exp map[string]int64, o domain.Outcome) int64 {
	var total int64
	for key, v := range exp {
		p, err := outcome.ParseKey(key)
		if err != nil {
			panic(err)
		}
		if p.Wins(o) {
			total += v
		}
	}
	return total
}

func TestProtectedCombinatorialAvoidsPosition(t *testing.T) {
	e := NewEngine(registry())
	bet := outcome.Position{Pos: 0, Digit: 5}
	cands := candidatesAfter(t, bet)
	require.EqualValues(t, 90000, cands.Count())

	for i := 0; i < 5; i++ {
		ref := protectedPeriod(t, domain.GameCombinatorial5)
		ref.Timeline = fmt.Sprintf("t%d", i)
		if Seed(ref)%100 >= DefaultProtectedSharePct {
			continue
		}
		o, d, err := e.Select(Snapshot{
			Period:           ref,
			Exposure:         exposureOf(map[outcome.Predicate]int64{bet: 900}),
			Candidates:       cands,
			UniqueUsers:      1,
			ProtectionActive: true,
		})
		require.NoError(t, err)
		assert.NotEqual(t, 5, o.Digit(0))
		assert.Equal(t, domain.BranchProtected, d.Branch)
		assert.Equal(t, 90000, d.CandidatesRemaining)
	}
}

func TestProtectedCombinatorialFallbackWhenCovered(t *testing.T) {
	e := NewEngine(registry())
	even := outcome.SumParity{Parity: domain.ParityEven}
	odd := outcome.SumParity{Parity: domain.ParityOdd}
	small := outcome.SumSize{Size: domain.SizeSmall}
	big := outcome.SumSize{Size: domain.SizeBig}
	cands := candidatesAfter(t, even, small, odd, big)
	require.Zero(t, cands.Count())

	ref := protectedPeriod(t, domain.GameCombinatorial5)
	snap := Snapshot{
		Period:           ref,
		Exposure:         exposureOf(map[outcome.Predicate]int64{even: 500, small: 300, odd: 400, big: 200}),
		Candidates:       cands,
		UniqueUsers:      4,
		ProtectionActive: true,
	}

	o, d, err := e.Select(snap)
	require.NoError(t, err)
	assert.Equal(t, domain.BranchProtectedFallback, d.Branch)

	attrs := domain.AttributesOf(o)
	assert.Equal(t, domain.SizeBig, attrs.SumSize, "cheapest predicate must be matched")
	assert.Equal(t, domain.ParityOdd, attrs.SumParity)
	assert.EqualValues(t, 600, d.Liability)

	again, d2, err := e.Select(snap)
	require.NoError(t, err)
	assert.Equal(t, o, again)
	assert.Equal(t, d, d2)
}

func TestProtectedCombinatorialRequiresCandidates(t *testing.T) {
	e := NewEngine(registry())
	ref := protectedPeriod(t, domain.GameCombinatorial5)

	_, _, err := e.Select(Snapshot{Period: ref, Exposure: map[string]int64{}, ProtectionActive: true})
	assert.ErrorIs(t, err, domain.ErrStateUnavailable)
}

func TestRandomBranchForMinorityOfSeeds(t *testing.T) {
	e := NewEngine(registry(), WithSource(NewSeededSource(1)))
	ref := randomPeriod(t, domain.GameSmallDiscrete)

	_, d, err := e.Select(Snapshot{Period: ref, Exposure: map[string]int64{}, ProtectionActive: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BranchRandom, d.Branch)
}

func TestProtectedShareOption(t *testing.T) {
	e := NewEngine(registry(), WithProtectedShare(0), WithSource(NewSeededSource(1)))
	ref := protectedPeriod(t, domain.GameSmallDiscrete)

	_, d, err := e.Select(Snapshot{Period: ref, Exposure: map[string]int64{}, ProtectionActive: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BranchRandom, d.Branch)
}

func TestNormalPathIsUnbiased(t *testing.T) {
	e := NewEngine(registry(), WithSource(NewSeededSource(42)))
	ref := protectedPeriod(t, domain.GameSmallDiscrete)
	entries := map[outcome.Predicate]int64{}
	for n := 0; n < 10; n++ {
		if n != 4 {
			entries[outcome.ExactNumber{Value: n}] = 1000
		}
	}
	snap := Snapshot{Period: ref, Exposure: exposureOf(entries), UniqueUsers: 50}

	const draws = 20000
	counts := make([]int, 10)
	for i := 0; i < draws; i++ {
		o, d, err := e.Select(snap)
		require.NoError(t, err)
		require.Equal(t, domain.BranchNormal, d.Branch)
		counts[o.Digit(0)]++
	}
	// Expected 2000 per outcome; 5 sigma is roughly 210.
	for n, c := range counts {
		assert.InDelta(t, draws/10, c, 250, "outcome %d", n)
	}
}

func TestUnknownLedgerKeyIsInvariantViolation(t *testing.T) {
	e := NewEngine(registry())
	ref := protectedPeriod(t, domain.GameSmallDiscrete)

	_, _, err := e.Select(Snapshot{Period: ref, Exposure: map[string]int64{"bogus": 1}, ProtectionActive: true})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}
