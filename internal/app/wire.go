package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/drawcore/internal/blob/s3"
	cachemem "github.com/alanyoungcy/drawcore/internal/cache/memory"
	"github.com/alanyoungcy/drawcore/internal/cache/redis"
	"github.com/alanyoungcy/drawcore/internal/config"
	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/exposure"
	"github.com/alanyoungcy/drawcore/internal/metrics"
	"github.com/alanyoungcy/drawcore/internal/notify"
	"github.com/alanyoungcy/drawcore/internal/outcome"
	"github.com/alanyoungcy/drawcore/internal/period"
	"github.com/alanyoungcy/drawcore/internal/selection"
	"github.com/alanyoungcy/drawcore/internal/server/handler"
	storemem "github.com/alanyoungcy/drawcore/internal/store/memory"
	"github.com/alanyoungcy/drawcore/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Shared period state
	PeriodStore domain.PeriodStore
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Durable stores
	ResultStore domain.ResultStore
	AuditStore  domain.AuditStore

	// Blob storage; nil unless object storage is configured.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Outcome determination
	Registry   *outcome.Registry
	Candidates *exposure.CandidateTracker
	Ledger     *exposure.Ledger
	Gate       *exposure.Gate
	Engine     *selection.Engine
	Manager    *period.Manager

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// Checks are the backend probes reported by /api/health.
	Checks map[string]handler.Check
}

// needsS3 reports whether object storage must be connected: for the result
// archive or for an s3 table source.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled || strings.HasPrefix(cfg.Table.Source, "s3:")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	switch cfg.Store.Backend {
	case "memory":
		logger.WarnContext(ctx, "memory backend selected; state is lost on restart and not shared between processes")
		deps.PeriodStore = cachemem.NewPeriodStore()
		deps.LockManager = cachemem.NewLockManager()
		deps.RateLimiter = cachemem.NewRateLimiter()
		deps.SignalBus = cachemem.NewSignalBus()
		deps.ResultStore = storemem.NewResultStore()
		deps.AuditStore = storemem.NewAuditStore()

	case "redis":
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.ResultStore = postgres.NewResultStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			PoolSize:       cfg.Redis.PoolSize,
			MaxRetries:     cfg.Redis.MaxRetries,
			TLSEnabled:     cfg.Redis.TLSEnabled,
			CommandTimeout: cfg.Redis.CommandTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PeriodStore = redis.NewPeriodStore(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Outcome determination ---
	// A table that cannot be loaded is fatal: no period may settle without it.
	table, err := outcome.LoadTable(ctx, cfg.Table.Source, deps.BlobReader, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	_ = deps.Notifier.Notify(ctx, notify.EventTableLoaded, "Combinations table loaded",
		fmt.Sprintf("source: %s\nmode: %s", cfg.Table.Source, cfg.Mode))

	deps.Registry = outcome.NewRegistry(table)
	deps.Candidates = exposure.NewCandidateTracker(deps.PeriodStore, deps.Registry)
	deps.Ledger = exposure.NewLedger(deps.PeriodStore, deps.Registry, deps.Candidates, logger)
	deps.Gate = exposure.NewGate(deps.PeriodStore, cfg.Engine.EnhancedUserThreshold)
	deps.Engine = selection.NewEngine(deps.Registry, selection.WithProtectedShare(cfg.Engine.ProtectedSharePct))
	deps.Manager = period.NewManager(period.Deps{
		Store:      deps.PeriodStore,
		Ledger:     deps.Ledger,
		Candidates: deps.Candidates,
		Gate:       deps.Gate,
		Engine:     deps.Engine,
		Results:    deps.ResultStore,
		Audit:      deps.AuditStore,
		Locks:      deps.LockManager,
		Bus:        deps.SignalBus,
		Metrics:    deps.Metrics,
	}, period.Config{
		Retention:     cfg.Store.Retention.Duration,
		SettleLockTTL: cfg.Engine.SettleLockTTL.Duration,
	}, logger)

	return deps, cleanup, nil
}

// Lanes expands the configured games into scheduler lanes.
func Lanes(games []config.GameConfig) ([]period.Lane, error) {
	var lanes []period.Lane
	for _, g := range games {
		kind, err := domain.ParseGameKind(g.Kind)
		if err != nil {
			return nil, fmt.Errorf("lanes: %w", err)
		}
		for _, d := range g.Durations {
			for _, tl := range g.Timelines {
				lanes = append(lanes, period.Lane{
					Kind:         kind,
					DurationSec:  d,
					Timeline:     tl,
					FreezeBefore: g.FreezeBefore.Duration,
				})
			}
		}
	}
	return lanes, nil
}
