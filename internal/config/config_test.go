package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "development", cfg.Server.Env)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.False(t, cfg.ClickHouse.Enabled)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 7*24*time.Hour, cfg.Attribution.AdWindow)
	require.Equal(t, 3*24*time.Hour, cfg.Attribution.EmailWindow)
	require.Equal(t, 500, cfg.Attribution.BackfillLimit)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INSIGHTS_HTTP_ADDR", ":9999")
	t.Setenv("INSIGHTS_ENV", "production")
	t.Setenv("INSIGHTS_DB_PORT", "5433")
	t.Setenv("INSIGHTS_ATTRIBUTION_EMAIL_WINDOW", "48h")
	t.Setenv("INSIGHTS_CLICKHOUSE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":9999", cfg.Server.Addr)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 5433, cfg.Database.Port)
	require.Equal(t, 48*time.Hour, cfg.Attribution.EmailWindow)
	require.True(t, cfg.ClickHouse.Enabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("INSIGHTS_DB_PORT", "not-a-number")
	t.Setenv("INSIGHTS_ATTRIBUTION_AD_WINDOW", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, 7*24*time.Hour, cfg.Attribution.AdWindow)
}

func TestValidateBackfillLimit(t *testing.T) {
	t.Setenv("INSIGHTS_ATTRIBUTION_BACKFILL_LIMIT", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "insights", SSLMode: "disable",
	}
	require.Equal(t, "postgres://u:p@db:5432/insights?sslmode=disable", d.DSN())
}
