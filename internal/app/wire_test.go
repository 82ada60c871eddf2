package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawcore/internal/config"
	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
	"github.com/alanyoungcy/drawcore/internal/outcome"
	"github.com/alanyoungcy/drawcore/internal/period"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLanes(t *testing.T) {
	cfg := config.Defaults()
	lanes, err := Lanes(cfg.Games)
	require.NoError(t, err)
	// 4 small_discrete + 2 triple_dice + 3 combinatorial5 durations, one timeline each.
	assert.Len(t, lanes, 9)
	assert.Equal(t, domain.GameSmallDiscrete, lanes[0].Kind)
	assert.Equal(t, 5*time.Second, lanes[0].FreezeBefore)

	cfg.Games[0].Kind = "poker"
	_, err = Lanes(cfg.Games)
	assert.Error(t, err)
}

func TestWire_MemoryBackendSettlesAPeriod(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(ctx, &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.BlobWriter, "object storage is off by default")
	assert.Empty(t, deps.Checks)

	ref := domain.PeriodRef{Kind: domain.GameTripleDice, DurationSec: 60, Timeline: "main", PeriodID: "202601150001"}
	opened, err := deps.Manager.Open(ctx, ref)
	require.NoError(t, err)
	assert.True(t, opened)

	pred, err := outcome.ParsePredicate(ref.Kind, "sum_size", "big")
	require.NoError(t, err)
	_, err = deps.Manager.PlaceBet(ctx, ref, exposure.Bet{ID: "b1", UserID: "u1", Predicate: pred, Stake: 100, Multiplier: decimal.NewFromInt(2)})
	require.NoError(t, err)

	require.NoError(t, deps.Manager.Freeze(ctx, ref))
	res, err := deps.Manager.Settle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, res.Period)

	stored, err := deps.ResultStore.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, res.Outcome, stored.Outcome)
}

func TestWire_UnknownTableSource(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	cfg.Table.Source = "file:/does/not/exist.csv"

	_, _, err := Wire(context.Background(), &cfg, discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateUnavailable)
}

func TestSchedulerInfo(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	lanes := []period.Lane{{Kind: domain.GameSmallDiscrete, DurationSec: 60, Timeline: "main", FreezeBefore: 5 * time.Second}}
	sched, err := period.NewScheduler(deps.Manager, lanes, period.SchedulerConfig{Tick: time.Second}, nil, discard())
	require.NoError(t, err)

	info := schedulerInfo{sched}
	require.Len(t, info.LaneInfo(), 1)
	assert.Equal(t, "small_discrete", info.LaneInfo()[0].GameKind)
	assert.Equal(t, "5s", info.LaneInfo()[0].FreezeBefore)
	assert.Equal(t, 0, info.Pending())
}
