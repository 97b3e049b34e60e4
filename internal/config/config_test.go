package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	require.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SETTINGS_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")
	t.Setenv("AUTO_MIGRATE", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	cfg := Load()
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, 60, cfg.SettingsCacheTTLSeconds)
	require.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	require.False(t, cfg.AutoMigrate)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("AUTH_SECRET", "  padded-secret  ")

	cfg := Load()
	require.Equal(t, ":9090", cfg.Address())
	require.True(t, cfg.AutoMigrate)
	require.Equal(t, 3, cfg.RedisDB)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "padded-secret", cfg.AuthSecret)
}
