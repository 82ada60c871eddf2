package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsScheduler())
	assert.True(t, cfg.RunsServer())
	assert.Equal(t, 10, cfg.Engine.EnhancedUserThreshold)
	assert.Equal(t, 60, cfg.Engine.ProtectedSharePct)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"backend", func(c *Config) { c.Store.Backend = "etcd" }, "unknown backend"},
		{"memory split", func(c *Config) { c.Store.Backend = "memory"; c.Mode = "server" }, "requires mode full"},
		{"threshold", func(c *Config) { c.Engine.EnhancedUserThreshold = 0 }, "enhanced_user_threshold"},
		{"share", func(c *Config) { c.Engine.ProtectedSharePct = 120 }, "protected_share_pct"},
		{"table", func(c *Config) { c.Table.Source = "http://x" }, "bad source"},
		{"duration", func(c *Config) { c.Games[0].Durations = []int{7} }, "must divide a day"},
		{"freeze", func(c *Config) { c.Games[0].FreezeBefore = duration{2 * time.Minute} }, "freeze_before"},
		{"kind", func(c *Config) { c.Games[0].Kind = "poker" }, "unknown kind"},
		{"duplicate lane", func(c *Config) { c.Games = append(c.Games, c.Games[0]) }, "duplicate lane"},
		{"retention", func(c *Config) {
			c.Store.Retention = duration{30 * time.Second}
			c.Games[0].Durations = []int{3600}
		}, "retention 30s must be at least twice"},
		{"retention below two periods", func(c *Config) { c.Store.Retention = duration{15 * time.Minute} }, "longest game duration 10m0s"},
		{"archive age", func(c *Config) { c.Scheduler.ArchiveAfter = duration{time.Hour} }, "archive_after"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"postgres", func(c *Config) { c.Postgres.Host = "" }, "postgres: host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_EngineModeSkipsServer(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "engine"
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.RunsServer())
}

func TestValidate_PostgresDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres = PostgresConfig{DSN: "postgres://u:p@db:5432/draw", PoolMaxConns: 4}
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drawcore.toml")
	body := `
mode = "engine"
log_level = "debug"

[store]
backend = "redis"
retention = "12h"

[engine]
enhanced_user_threshold = 25

[[games]]
kind = "triple_dice"
durations = [60, 300]
timelines = ["main", "fast"]
freeze_before = "10s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("DRAWCORE_REDIS_ADDR", "redis:6380")
	t.Setenv("DRAWCORE_ENGINE_PROTECTED_SHARE_PCT", "75")
	t.Setenv("DRAWCORE_SCHEDULER_TICK", "250ms")
	t.Setenv("DRAWCORE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DRAWCORE_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, 12*time.Hour, cfg.Store.Retention.Duration)
	assert.Equal(t, 25, cfg.Engine.EnhancedUserThreshold)
	require.Len(t, cfg.Games, 1)
	assert.Equal(t, "triple_dice", cfg.Games[0].Kind)
	assert.Equal(t, []int{60, 300}, cfg.Games[0].Durations)
	assert.Equal(t, 10*time.Second, cfg.Games[0].FreezeBefore.Duration)

	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 75, cfg.Engine.ProtectedSharePct)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.Tick.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port, "unparseable overrides are ignored")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "pw"
	cfg.Postgres.DSN = "postgres://draw:hunter2@db:5432/draw?sslmode=disable"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.S3.AccessKey)
	assert.NotContains(t, out.Postgres.DSN, "hunter2")
	assert.Contains(t, out.Postgres.DSN, "db:5432")

	out.Games[0].Timelines[0] = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "main", cfg.Games[0].Timelines[0])
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "pw", cfg.Redis.Password)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "", redactDSN(""))
	assert.Equal(t, "***", redactDSN("host=db password=secret"))
	assert.Equal(t, "postgres://db/draw", redactDSN("postgres://db/draw"))
}
