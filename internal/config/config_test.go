package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHELLGATE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.DefaultTimeoutSec)
	assert.Equal(t, 1800, cfg.MaxTimeoutSec)
	assert.Equal(t, 8192, cfg.MaxCommandChars)
	assert.Equal(t, 10, cfg.RateCapacity)
	assert.Equal(t, time.Minute, cfg.RateRefillEvery)
	assert.Equal(t, OverflowTruncate, cfg.OverflowStrategy)
	assert.True(t, cfg.PublishAttempts)
	assert.True(t, cfg.HistoryEnabled)
	assert.Equal(t, 7, cfg.HistoryRetentionDays)
	assert.Empty(t, cfg.AuthKey)
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs"), cfg.LogsDir)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SHELLGATE_DATA_DIR", t.TempDir())
	t.Setenv("SHELLGATE_DEFAULT_TIMEOUT_SEC", "30")
	t.Setenv("SHELLGATE_MAX_TIMEOUT_SEC", "600")
	t.Setenv("SHELLGATE_AUTH_KEY", "'secret'")
	t.Setenv("SHELLGATE_WORKDIR_ENFORCED", "true")
	t.Setenv("SHELLGATE_WORKDIR_ROOTS", "/srv/a, /srv/b ,")
	t.Setenv("SHELLGATE_RATE_REFILL_MS", "5000")
	t.Setenv("SHELLGATE_OVERFLOW_STRATEGY", OverflowReturn)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.DefaultTimeoutSec)
	assert.Equal(t, 600, cfg.MaxTimeoutSec)
	assert.Equal(t, "secret", cfg.AuthKey, "quotes must be stripped")
	assert.True(t, cfg.WorkdirEnforced)
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, cfg.WorkdirRoots)
	assert.Equal(t, 5*time.Second, cfg.RateRefillEvery)
	assert.Equal(t, OverflowReturn, cfg.OverflowStrategy)

	assert.True(t, cfg.EnvOverrides["defaultTimeoutSec"])
	assert.True(t, cfg.EnvOverrides["authKey"])
	assert.False(t, cfg.EnvOverrides["maxCommandChars"])
}

func TestLoadIgnoresNonNumericOverride(t *testing.T) {
	t.Setenv("SHELLGATE_DATA_DIR", t.TempDir())
	t.Setenv("SHELLGATE_MAX_OUTPUT_KB", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.MaxOutputKB)
	assert.False(t, cfg.EnvOverrides["maxOutputKB"])
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("SHELLGATE_MAX_COMMAND_CHARS=4096\n"), 0o600))
	t.Setenv("SHELLGATE_DATA_DIR", dir)
	// godotenv does not overwrite existing vars, so clear any ambient one.
	t.Setenv("SHELLGATE_MAX_COMMAND_CHARS", "")
	os.Unsetenv("SHELLGATE_MAX_COMMAND_CHARS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.MaxCommandChars)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DefaultTimeoutSec:    60,
			MaxTimeoutSec:        1800,
			MaxCommandChars:      8192,
			RateCapacity:         10,
			RateRefillEvery:      time.Minute,
			RateRefillAmount:     10,
			OverflowStrategy:     OverflowTruncate,
			MaxOutputKB:          1024,
			MaxLines:             10000,
			ChunkKB:              64,
			HistoryRetentionDays: 7,
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.MaxTimeoutSec = 30
	assert.Error(t, cfg.Validate(), "max timeout below default")

	cfg = base()
	cfg.OverflowStrategy = "explode"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RateCapacity = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ChunkKB = 4096
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.MaxOutputKB, cfg.ChunkKB, "chunk size clamps to the output cap")

	cfg = base()
	cfg.HistoryRetentionDays = -1
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.HistoryRetentionDays)
}

func TestTimeoutDurations(t *testing.T) {
	cfg := &Config{DefaultTimeoutSec: 60, MaxTimeoutSec: 1800}
	assert.Equal(t, time.Minute, cfg.DefaultTimeout())
	assert.Equal(t, 30*time.Minute, cfg.MaxTimeout())
}
