package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.Rooms.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Rooms.ReaperInterval)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ROOM_TTL", "30m")
	t.Setenv("REAPER_INTERVAL", "1m")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://meet.example")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Rooms.TTL)
	assert.Equal(t, time.Minute, cfg.Rooms.ReaperInterval)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, []string{"https://meet.example"}, cfg.AllowedOrigins)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("ROOM_TTL", "soon")
	t.Setenv("MIRROR_WORKERS", "many")

	cfg := Load()

	assert.Equal(t, time.Hour, cfg.Rooms.TTL)
	assert.Equal(t, 4, cfg.Mirror.Workers)
}

func TestValidateRejectsSlowReaper(t *testing.T) {
	cfg := Load()
	cfg.Rooms.ReaperInterval = 2 * time.Hour

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateRejectsEmptySecret(t *testing.T) {
	cfg := Load()
	cfg.JWTSecret = ""

	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
