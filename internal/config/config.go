// Package config defines the top-level configuration for drawcore and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DRAWCORE_* environment variables.
type Config struct {
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Store     StoreConfig     `toml:"store"`
	Engine    EngineConfig    `toml:"engine"`
	Table     TableConfig     `toml:"table"`
	Games     []GameConfig    `toml:"games"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	CommandTimeout duration `toml:"command_timeout"`
}

// PostgresConfig holds the result store connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters. Storage is used for
// the combinations table when table.source is "s3:<key>" and for the result
// archive when enabled.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StoreConfig selects the shared state backend.
type StoreConfig struct {
	// Backend is "redis" (redis period store + postgres results) or "memory"
	// (single process only).
	Backend string `toml:"backend"`
	// Retention is the TTL of every per-period key.
	Retention duration `toml:"retention"`
}

// EngineConfig tunes selection.
type EngineConfig struct {
	// EnhancedUserThreshold is the unique user count at which protection
	// turns off.
	EnhancedUserThreshold int `toml:"enhanced_user_threshold"`
	// ProtectedSharePct is the share of protected periods that take the
	// protected branch.
	ProtectedSharePct int      `toml:"protected_share_pct"`
	SettleLockTTL     duration `toml:"settle_lock_ttl"`
}

// TableConfig locates the combinations table.
type TableConfig struct {
	// Source is "generate", "file:<path>" or "s3:<key>".
	Source string `toml:"source"`
}

// GameConfig declares the lanes of one game kind: every duration is run on
// every timeline.
type GameConfig struct {
	Kind         string   `toml:"kind"`
	Durations    []int    `toml:"durations"`
	Timelines    []string `toml:"timelines"`
	FreezeBefore duration `toml:"freeze_before"`
}

// SchedulerConfig holds the lifecycle loop parameters.
type SchedulerConfig struct {
	Tick duration `toml:"tick"`
	// ArchiveInterval is how often results are archived; zero disables it.
	ArchiveInterval duration `toml:"archive_interval"`
	// ArchiveAfter is the minimum age of an archived result.
	ArchiveAfter  duration `toml:"archive_after"`
	EscalateEvery int      `toml:"escalate_every"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// BetRateLimit is bets per second per client IP; zero disables limiting.
	BetRateLimit int `toml:"bet_rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			CommandTimeout: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "drawcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "drawcore",
			ForcePathStyle: true,
		},
		Store: StoreConfig{
			Backend:   "redis",
			Retention: duration{24 * time.Hour},
		},
		Engine: EngineConfig{
			EnhancedUserThreshold: 10,
			ProtectedSharePct:     60,
			SettleLockTTL:         duration{30 * time.Second},
		},
		Table: TableConfig{Source: "generate"},
		Games: []GameConfig{
			{Kind: string(domain.GameSmallDiscrete), Durations: []int{60, 180, 300, 600}, Timelines: []string{"main"}, FreezeBefore: duration{5 * time.Second}},
			{Kind: string(domain.GameTripleDice), Durations: []int{60, 180}, Timelines: []string{"main"}, FreezeBefore: duration{5 * time.Second}},
			{Kind: string(domain.GameCombinatorial5), Durations: []int{60, 180, 300}, Timelines: []string{"main"}, FreezeBefore: duration{5 * time.Second}},
		},
		Scheduler: SchedulerConfig{
			Tick:            duration{time.Second},
			ArchiveInterval: duration{time.Hour},
			ArchiveAfter:    duration{48 * time.Hour},
			EscalateEvery:   5,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"settle_failed", "settle_stalled", "archive_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const secondsPerDay = 86400

// RunsScheduler reports whether the mode drives the period lifecycle.
func (c *Config) RunsScheduler() bool {
	m := strings.ToLower(c.Mode)
	return m == "engine" || m == "full"
}

// RunsServer reports whether the mode serves HTTP.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		errs = append(errs, c.Postgres.validate()...)
	case "memory":
		if strings.ToLower(c.Mode) != "full" {
			errs = append(errs, "store: the memory backend is single process and requires mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: redis, memory)", c.Store.Backend))
	}
	if c.Store.Retention.Duration <= 0 {
		errs = append(errs, "store: retention must be > 0")
	}

	// Engine
	if c.Engine.EnhancedUserThreshold < 1 {
		errs = append(errs, "engine: enhanced_user_threshold must be >= 1")
	}
	if c.Engine.ProtectedSharePct < 0 || c.Engine.ProtectedSharePct > 100 {
		errs = append(errs, fmt.Sprintf("engine: protected_share_pct must be 0-100, got %d", c.Engine.ProtectedSharePct))
	}
	if c.Engine.SettleLockTTL.Duration <= 0 {
		errs = append(errs, "engine: settle_lock_ttl must be > 0")
	}

	// Table
	src := c.Table.Source
	switch {
	case src == "generate":
	case strings.HasPrefix(src, "file:") && len(src) > len("file:"):
	case strings.HasPrefix(src, "s3:") && len(src) > len("s3:"):
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required for an s3 table source")
		}
	default:
		errs = append(errs, fmt.Sprintf("table: bad source %q (valid: generate, file:<path>, s3:<key>)", src))
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Games
	if c.RunsScheduler() && len(c.Games) == 0 {
		errs = append(errs, "games: at least one game is required for mode "+c.Mode)
	}
	errs = append(errs, c.validateGames()...)
	// Keys must outlive a period plus its settle retries.
	if longest := c.longestGame(); c.Store.Retention.Duration > 0 && c.Store.Retention.Duration < 2*longest {
		errs = append(errs, fmt.Sprintf("store: retention %s must be at least twice the longest game duration %s",
			c.Store.Retention.Duration, longest))
	}

	// Scheduler
	if c.Scheduler.Tick.Duration <= 0 {
		errs = append(errs, "scheduler: tick must be > 0")
	}
	if c.Scheduler.ArchiveInterval.Duration < 0 {
		errs = append(errs, "scheduler: archive_interval must be >= 0")
	}
	if c.Scheduler.ArchiveInterval.Duration > 0 && c.Scheduler.ArchiveAfter.Duration < 24*time.Hour {
		errs = append(errs, "scheduler: archive_after must be at least 24h")
	}
	if c.Scheduler.EscalateEvery < 1 {
		errs = append(errs, "scheduler: escalate_every must be >= 1")
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BetRateLimit < 0 {
			errs = append(errs, "server: bet_rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (p PostgresConfig) validate() []string {
	var errs []string
	if strings.TrimSpace(p.DSN) == "" {
		if p.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
		}
		if p.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if p.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if p.PoolMinConns < 0 || p.PoolMinConns > p.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}
	return errs
}

func (c *Config) longestGame() time.Duration {
	var longest time.Duration
	for _, g := range c.Games {
		for _, d := range g.Durations {
			longest = max(longest, time.Duration(d)*time.Second)
		}
	}
	return longest
}

func (c *Config) validateGames() []string {
	var errs []string
	seen := make(map[string]bool)
	for i, g := range c.Games {
		name := fmt.Sprintf("games[%d]", i)
		if _, err := domain.ParseGameKind(g.Kind); err != nil {
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q", name, g.Kind))
			continue
		}
		if len(g.Durations) == 0 || len(g.Timelines) == 0 {
			errs = append(errs, name+": durations and timelines must not be empty")
		}
		if g.FreezeBefore.Duration < 0 {
			errs = append(errs, name+": freeze_before must be >= 0")
		}
		for _, d := range g.Durations {
			if d <= 0 || secondsPerDay%d != 0 {
				errs = append(errs, fmt.Sprintf("%s: duration %ds must divide a day", name, d))
				continue
			}
			if g.FreezeBefore.Duration >= time.Duration(d)*time.Second {
				errs = append(errs, fmt.Sprintf("%s: freeze_before %s must be shorter than duration %ds", name, g.FreezeBefore.Duration, d))
			}
			for _, tl := range g.Timelines {
				lane := fmt.Sprintf("%s:%d:%s", strings.ToLower(g.Kind), d, tl)
				if seen[lane] {
					errs = append(errs, name+": duplicate lane "+lane)
				}
				seen[lane] = true
			}
		}
	}
	return errs
}
