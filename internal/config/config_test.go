package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.HistoryBackend)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 300, cfg.Rules().DaySec)
	assert.Equal(t, 1000, cfg.Orchestrator().MaxMessageLen)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PHASE_DAY_SEC", "60")
	t.Setenv("HISTORY_BACKEND", "redis")
	t.Setenv("PG_HOST", "db")
	t.Setenv("POSTGRES_USER", "wolf")
	t.Setenv("POSTGRES_PASSWORD", "moon")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Rules().DaySec)
	assert.Equal(t, BackendRedis, cfg.HistoryBackend)
	assert.Equal(t, "postgres://wolf:moon@db:5432/werewolf", cfg.Postgres.DSN())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "tape")
	_, err := Load()
	assert.Error(t, err)
}

func TestKeyPathsGoTogether(t *testing.T) {
	t.Setenv("AUTH_PRIVATE_KEY", "/keys/priv")
	_, err := Load()
	assert.Error(t, err)
}
