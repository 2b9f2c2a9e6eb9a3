package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "8080", cfg.ServerPort)
	require.True(t, cfg.NATSEnabled)
	require.Equal(t, 60, cfg.RateLimitRequests)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Equal(t, []string{"https://*", "http://*"}, cfg.AllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NATS_ENABLED", "false")
	t.Setenv("DATABASE_PATH", ":memory:")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("TRACING_ENABLED", "notabool")

	cfg := Load()
	require.Equal(t, "9090", cfg.ServerPort)
	require.False(t, cfg.NATSEnabled)
	require.Equal(t, ":memory:", cfg.DatabasePath)
	require.Equal(t, 5, cfg.RateLimitRequests)
	require.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.False(t, cfg.TracingEnabled)
}
