package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DRAWCORE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// Entries of a [[games]] array in the file are decoded over the
		// default games at the same index and the list is cut to the
		// file's length.
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DRAWCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DRAWCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DRAWCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DRAWCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DRAWCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DRAWCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DRAWCORE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CommandTimeout, "DRAWCORE_REDIS_COMMAND_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DRAWCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // common platform alias
	setStr(&cfg.Postgres.Host, "DRAWCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DRAWCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DRAWCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DRAWCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DRAWCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DRAWCORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DRAWCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DRAWCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DRAWCORE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DRAWCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DRAWCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DRAWCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "DRAWCORE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "DRAWCORE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "DRAWCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DRAWCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DRAWCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DRAWCORE_S3_FORCE_PATH_STYLE")

	// ── Store / engine / table ──
	setStr(&cfg.Store.Backend, "DRAWCORE_STORE_BACKEND")
	setDuration(&cfg.Store.Retention, "DRAWCORE_STORE_RETENTION")
	setInt(&cfg.Engine.EnhancedUserThreshold, "DRAWCORE_ENGINE_ENHANCED_USER_THRESHOLD")
	setInt(&cfg.Engine.ProtectedSharePct, "DRAWCORE_ENGINE_PROTECTED_SHARE_PCT")
	setDuration(&cfg.Engine.SettleLockTTL, "DRAWCORE_ENGINE_SETTLE_LOCK_TTL")
	setStr(&cfg.Table.Source, "DRAWCORE_TABLE_SOURCE")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.Tick, "DRAWCORE_SCHEDULER_TICK")
	setDuration(&cfg.Scheduler.ArchiveInterval, "DRAWCORE_SCHEDULER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Scheduler.ArchiveAfter, "DRAWCORE_SCHEDULER_ARCHIVE_AFTER")
	setInt(&cfg.Scheduler.EscalateEvery, "DRAWCORE_SCHEDULER_ESCALATE_EVERY")

	// ── Server ──
	setInt(&cfg.Server.Port, "DRAWCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DRAWCORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DRAWCORE_SERVER_API_KEY")
	setInt(&cfg.Server.BetRateLimit, "DRAWCORE_SERVER_BET_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DRAWCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DRAWCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DRAWCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DRAWCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DRAWCORE_MODE")
	setStr(&cfg.LogLevel, "DRAWCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
