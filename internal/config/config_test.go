package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/crisp")
	t.Setenv("CRISP_IDENTIFIER", "id")
	t.Setenv("CRISP_KEY", "key")
}

func TestLoad_Defaults(t *testing.T) {
	validEnv(t)
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "plugin", cfg.CrispTier)
	assert.Equal(t, EventSourceNATS, cfg.EventSource)
	assert.Equal(t, 5*time.Second, cfg.MessageCacheTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	validEnv(t)
	t.Setenv("BACKFILL_CONCURRENCY", "8")
	t.Setenv("EVENT_SOURCE", "websocket")
	t.Setenv("RTM_URL", "wss://rtm.example.com")
	t.Setenv("MESSAGE_CACHE_TTL", "0s")
	t.Setenv("CRISP_MAX_RETRIES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 8, cfg.BackfillConcurrency)
	assert.Equal(t, EventSourceWebsocket, cfg.EventSource)
	assert.Zero(t, cfg.MessageCacheTTL)
	assert.Equal(t, 3, cfg.CrispMaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestValidate_MissingCredentialsFailFast(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/crisp")
	t.Setenv("CRISP_IDENTIFIER", "")
	t.Setenv("CRISP_KEY", "")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CrispIdentifier")
	assert.Contains(t, err.Error(), "CrispKey")
}

func TestValidate_WebsocketNeedsURL(t *testing.T) {
	validEnv(t)
	t.Setenv("EVENT_SOURCE", "websocket")
	t.Setenv("RTM_URL", "")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RTMURL")
}
