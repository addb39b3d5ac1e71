package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "stdio", cfg.TrackerTransport)
	assert.Equal(t, 45, cfg.SessionTTLMinutes)
	assert.Equal(t, 45*time.Minute, cfg.sessionTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.eventRetention())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIAGE_LOG_LEVEL", "debug")
	t.Setenv("TRIAGE_TRACKER_TRANSPORT", "http")
	t.Setenv("TRIAGE_TRACKER_URL", "http://localhost:9000/mcp")
	t.Setenv("TRIAGE_TRACKER_ARGS", "serve --stdio")
	t.Setenv("TRIAGE_SESSION_TTL_MINUTES", "10")
	t.Setenv("TRIAGE_EVENT_RETENTION_DAYS", "2")

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http", cfg.TrackerTransport)
	assert.Equal(t, "http://localhost:9000/mcp", cfg.TrackerURL)
	assert.Equal(t, []string{"serve", "--stdio"}, cfg.TrackerArgs)
	assert.Equal(t, 10*time.Minute, cfg.sessionTTL())
	assert.Equal(t, 48*time.Hour, cfg.eventRetention())
}

func TestEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("TRIAGE_SESSION_TTL_MINUTES", "lots")
	cfg := loadConfig()
	require.Equal(t, 45, cfg.SessionTTLMinutes)
}
