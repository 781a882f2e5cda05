// Package config loads gateway configuration from defaults, an optional
// .env file in the data directory, and environment variable overrides.
// Environment variables always win; EnvOverrides records which keys came
// from the environment so the UI and watcher can avoid clobbering them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Overflow strategy names accepted by SHELLGATE_OVERFLOW_STRATEGY.
const (
	OverflowReturn    = "return"
	OverflowTruncate  = "truncate"
	OverflowTerminate = "terminate"
)

// Config holds every runtime tunable the gateway consumes.
type Config struct {
	DataDir string `json:"dataDir"`
	LogsDir string `json:"logsDir"`

	// Authentication. AuthKey is a plaintext shared secret; AuthKeyBcrypt
	// is a bcrypt hash of one. When both are empty the server runs open.
	AuthKey       string `json:"-"`
	AuthKeyBcrypt string `json:"-"`

	DefaultTimeoutSec int `json:"defaultTimeoutSec"`
	MaxTimeoutSec     int `json:"maxTimeoutSec"`
	MaxCommandChars   int `json:"maxCommandChars"`

	RateCapacity     int           `json:"rateCapacity"`
	RateRefillEvery  time.Duration `json:"rateRefillEvery"`
	RateRefillAmount int           `json:"rateRefillAmount"`

	WorkdirEnforced bool     `json:"workdirEnforced"`
	WorkdirRoots    []string `json:"workdirRoots"`

	Shell                 string `json:"shell"`
	OverflowStrategy      string `json:"overflowStrategy"`
	MaxOutputKB           int    `json:"maxOutputKB"`
	MaxLines              int    `json:"maxLines"`
	ChunkKB               int    `json:"chunkKB"`
	CaptureProcessMetrics bool   `json:"captureProcessMetrics"`
	DisableSelfDestruct   bool   `json:"disableSelfDestruct"`

	LearnHMACSecret   string `json:"-"`
	LearnJournalMaxKB int    `json:"learnJournalMaxKB"`

	PublishAttempts bool `json:"publishAttempts"`

	// ListenAddr enables the operator HTTP sidecar (WebSocket event feed,
	// Prometheus metrics, health) when non-empty.
	ListenAddr string `json:"listenAddr"`

	HistoryEnabled       bool `json:"historyEnabled"`
	HistoryRetentionDays int  `json:"historyRetentionDays"`

	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile"`
	LogMaxSize  int    `json:"logMaxSize"`
	LogMaxAge   int    `json:"logMaxAge"`
	LogCompress bool   `json:"logCompress"`

	// EnvOverrides tracks which settings came from environment variables
	EnvOverrides map[string]bool `json:"-"`
}

// Load builds the runtime configuration: defaults, then the data
// directory's .env file, then environment variable overrides.
func Load() (*Config, error) {
	dataDir := "/etc/shellgate"
	if dir := os.Getenv("SHELLGATE_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	// Load .env file if it exists (for deployment overrides)
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	// Also try loading from current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		DataDir:              dataDir,
		LogsDir:              filepath.Join(dataDir, "logs"),
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
		PublishAttempts:      true,
		LearnJournalMaxKB:    4096,
		HistoryEnabled:       true,
		HistoryRetentionDays: 7,
		LogLevel:             "info",
		LogMaxSize:           100,
		LogMaxAge:            30,
		LogCompress:          true,
		EnvOverrides:         make(map[string]bool),
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string, name string) {
		if v := strings.Trim(os.Getenv(key), "'\""); v != "" {
			*dst = v
			cfg.EnvOverrides[name] = true
		}
	}
	setInt := func(key string, dst *int, name string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
				cfg.EnvOverrides[name] = true
			} else {
				log.Warn().Str("var", key).Str("value", v).Msg("Ignoring non-numeric environment override")
			}
		}
	}
	setBool := func(key string, dst *bool, name string) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
			cfg.EnvOverrides[name] = true
		}
	}

	setString("SHELLGATE_LOGS_DIR", &cfg.LogsDir, "logsDir")
	setString("SHELLGATE_AUTH_KEY", &cfg.AuthKey, "authKey")
	setString("SHELLGATE_AUTH_KEY_BCRYPT", &cfg.AuthKeyBcrypt, "authKeyBcrypt")
	setInt("SHELLGATE_DEFAULT_TIMEOUT_SEC", &cfg.DefaultTimeoutSec, "defaultTimeoutSec")
	setInt("SHELLGATE_MAX_TIMEOUT_SEC", &cfg.MaxTimeoutSec, "maxTimeoutSec")
	setInt("SHELLGATE_MAX_COMMAND_CHARS", &cfg.MaxCommandChars, "maxCommandChars")
	setInt("SHELLGATE_RATE_CAPACITY", &cfg.RateCapacity, "rateCapacity")
	setInt("SHELLGATE_RATE_REFILL_AMOUNT", &cfg.RateRefillAmount, "rateRefillAmount")
	if v := os.Getenv("SHELLGATE_RATE_REFILL_MS"); v != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms > 0 {
			cfg.RateRefillEvery = time.Duration(ms) * time.Millisecond
			cfg.EnvOverrides["rateRefillEvery"] = true
		}
	}
	setBool("SHELLGATE_WORKDIR_ENFORCED", &cfg.WorkdirEnforced, "workdirEnforced")
	if v := os.Getenv("SHELLGATE_WORKDIR_ROOTS"); v != "" {
		roots := splitAndTrim(v)
		if len(roots) > 0 {
			cfg.WorkdirRoots = roots
			cfg.EnvOverrides["workdirRoots"] = true
		}
	}
	setString("SHELLGATE_SHELL", &cfg.Shell, "shell")
	setString("SHELLGATE_OVERFLOW_STRATEGY", &cfg.OverflowStrategy, "overflowStrategy")
	setInt("SHELLGATE_MAX_OUTPUT_KB", &cfg.MaxOutputKB, "maxOutputKB")
	setInt("SHELLGATE_MAX_LINES", &cfg.MaxLines, "maxLines")
	setInt("SHELLGATE_CHUNK_KB", &cfg.ChunkKB, "chunkKB")
	setBool("SHELLGATE_CAPTURE_PS_METRICS", &cfg.CaptureProcessMetrics, "captureProcessMetrics")
	setBool("SHELLGATE_DISABLE_SELF_DESTRUCT", &cfg.DisableSelfDestruct, "disableSelfDestruct")
	setString("SHELLGATE_LEARN_HMAC_SECRET", &cfg.LearnHMACSecret, "learnHMACSecret")
	setInt("SHELLGATE_LEARN_JOURNAL_MAX_KB", &cfg.LearnJournalMaxKB, "learnJournalMaxKB")
	setBool("SHELLGATE_PUBLISH_ATTEMPTS", &cfg.PublishAttempts, "publishAttempts")
	setString("SHELLGATE_LISTEN_ADDR", &cfg.ListenAddr, "listenAddr")
	setBool("SHELLGATE_HISTORY_ENABLED", &cfg.HistoryEnabled, "historyEnabled")
	setInt("SHELLGATE_HISTORY_RETENTION_DAYS", &cfg.HistoryRetentionDays, "historyRetentionDays")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
		cfg.EnvOverrides["logLevel"] = true
	}
	setString("SHELLGATE_LOG_FILE", &cfg.LogFile, "logFile")
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("invalid default timeout: %d", c.DefaultTimeoutSec)
	}
	if c.MaxTimeoutSec < c.DefaultTimeoutSec {
		return fmt.Errorf("max timeout %ds below default %ds", c.MaxTimeoutSec, c.DefaultTimeoutSec)
	}
	if c.MaxCommandChars <= 0 {
		return fmt.Errorf("invalid max command length: %d", c.MaxCommandChars)
	}
	if c.RateCapacity <= 0 || c.RateRefillAmount <= 0 || c.RateRefillEvery <= 0 {
		return fmt.Errorf("invalid rate limit settings: capacity=%d refill=%d every=%s",
			c.RateCapacity, c.RateRefillAmount, c.RateRefillEvery)
	}
	switch c.OverflowStrategy {
	case OverflowReturn, OverflowTruncate, OverflowTerminate:
	default:
		return fmt.Errorf("invalid overflow strategy: %q", c.OverflowStrategy)
	}
	if c.MaxOutputKB <= 0 || c.MaxLines <= 0 || c.ChunkKB <= 0 {
		return fmt.Errorf("invalid output caps: maxOutputKB=%d maxLines=%d chunkKB=%d",
			c.MaxOutputKB, c.MaxLines, c.ChunkKB)
	}
	if c.ChunkKB > c.MaxOutputKB {
		c.ChunkKB = c.MaxOutputKB
	}
	if c.HistoryRetentionDays <= 0 {
		c.HistoryRetentionDays = 7
	}
	return nil
}

// DefaultTimeout returns the default execution timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSec) * time.Second
}

// MaxTimeout returns the execution timeout ceiling as a duration.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutSec) * time.Second
}
