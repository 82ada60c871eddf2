package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/drawcore/internal/blob/s3"
	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/notify"
	"github.com/alanyoungcy/drawcore/internal/period"
	"github.com/alanyoungcy/drawcore/internal/server"
	"github.com/alanyoungcy/drawcore/internal/server/handler"
	"github.com/alanyoungcy/drawcore/internal/server/ws"
	"github.com/alanyoungcy/drawcore/internal/service"
)

// EngineMode drives the period lifecycle of every configured lane and archives
// settled results. It serves no HTTP.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startScheduler(ctx, g, deps); err != nil {
		return fmt.Errorf("engine mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// ServerMode ingests bets and serves the monitoring API and result feed.
// Periods are opened and settled by a separate engine process sharing the
// same backend.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the engine and the server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	sched, err := a.startScheduler(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)
	if err := a.startHTTPServer(ctx, g, deps, sched); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*period.Scheduler, error) {
	lanes, err := Lanes(a.cfg.Games)
	if err != nil {
		return nil, err
	}
	sched, err := period.NewScheduler(deps.Manager, lanes, period.SchedulerConfig{
		Tick:          a.cfg.Scheduler.Tick.Duration,
		EscalateEvery: a.cfg.Scheduler.EscalateEvery,
	}, deps.Notifier, a.base)
	if err != nil {
		return nil, err
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return sched, nil
}

// startArchiver uploads settled results to object storage on an interval. It
// is a no-op unless storage is enabled and the interval is positive.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Scheduler.ArchiveInterval.Duration
	if !a.cfg.S3.Enabled || deps.BlobWriter == nil || interval <= 0 {
		a.logger.InfoContext(ctx, "result archiving disabled")
		return
	}
	var archiver domain.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.ResultStore, deps.AuditStore, deps.Metrics, a.base)
	after := a.cfg.Scheduler.ArchiveAfter.Duration

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				n, err := archiver.ArchiveResults(ctx, now.Add(-after))
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
					_ = deps.Notifier.Notify(ctx, notify.EventArchiveFailed, "Result archive failed", err.Error())
					continue
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "archive run complete", slog.Int64("results", n))
				}
			}
		}
	})
}

// startHTTPServer registers the API handlers and runs the server until ctx is
// cancelled. sched is nil when this process does not schedule periods.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *period.Scheduler) error {
	betSvc := service.NewBetService(deps.Manager, a.base)
	monitorSvc := service.NewMonitorService(deps.Ledger, deps.Candidates, deps.Gate, deps.ResultStore)

	bets, err := handler.NewBetHandler(betSvc, a.base)
	if err != nil {
		return err
	}

	// A nil *Scheduler must not become a non-nil interface.
	var info handler.SchedulerInfo
	if sched != nil {
		info = schedulerInfo{sched}
	}

	hub := ws.NewHub(deps.SignalBus, a.base, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		BetRateLimit: a.cfg.Server.BetRateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.base),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Store.Backend, info),
		Bets:    bets,
		Periods: handler.NewPeriodHandler(monitorSvc, a.base),
		Metrics: deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.base)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

// schedulerInfo exposes a Scheduler to the status handler.
type schedulerInfo struct {
	s *period.Scheduler
}

func (i schedulerInfo) LaneInfo() []handler.LaneInfo {
	lanes := i.s.Lanes()
	out := make([]handler.LaneInfo, len(lanes))
	for j, l := range lanes {
		out[j] = handler.LaneInfo{
			GameKind:     string(l.Kind),
			DurationSec:  l.DurationSec,
			Timeline:     l.Timeline,
			FreezeBefore: l.FreezeBefore.String(),
		}
	}
	return out
}

func (i schedulerInfo) Pending() int { return i.s.Pending() }
