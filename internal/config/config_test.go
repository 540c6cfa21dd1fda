package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/orchestrator"
)

// setupConfigHome points HOME at a temp directory and returns the config
// directory path inside it.
func setupConfigHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	configDir := filepath.Join(home, ".config", "patternd")
	require.NoError(t, os.MkdirAll(configDir, 0700))
	return configDir
}

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile(t *testing.T) {
	t.Run("defaults when no file exists", func(t *testing.T) {
		setupConfigHome(t)

		cfg, err := LoadWithFile("")
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.InDelta(t, 0.6, cfg.Detection.ConfidenceThreshold, 1e-9)
		assert.InDelta(t, 0.8, cfg.Detection.SimilarityThreshold, 1e-9)
		assert.Equal(t, time.Hour, cfg.Detection.EvolutionWindow)
		assert.Equal(t, orchestrator.ModeContinuous, cfg.Orchestrator.Mode)
		assert.InDelta(t, 90, cfg.Orchestrator.Frequencies["detection"], 1e-9)
		assert.Equal(t, 3, cfg.Orchestrator.MaxRecoveryAttempts)
	})

	t.Run("reads values from yaml", func(t *testing.T) {
		dir := setupConfigHome(t)
		path := writeConfigFile(t, dir, `
server:
  http_port: 8080
  shutdown_timeout: 5s
logging:
  format: console
  level: debug
detection:
  confidence_threshold: 0.7
  evolution_window: 30m
orchestrator:
  mode: deep
  frequencies:
    detection: 60
`)

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "console", cfg.Logging.Format)
		assert.InDelta(t, 0.7, cfg.Detection.ConfidenceThreshold, 1e-9)
		assert.Equal(t, 30*time.Minute, cfg.Detection.EvolutionWindow)
		assert.Equal(t, orchestrator.ModeDeep, cfg.Orchestrator.Mode)
		assert.InDelta(t, 60, cfg.Orchestrator.Frequencies["detection"], 1e-9)
		// Unspecified fields still get defaults.
		assert.InDelta(t, 0.8, cfg.Detection.SimilarityThreshold, 1e-9)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		dir := setupConfigHome(t)
		path := writeConfigFile(t, dir, "server:\n  http_port: 8080\n")
		t.Setenv("SERVER_HTTP_PORT", "7070")
		t.Setenv("DETECTION_SIMILARITY_THRESHOLD", "0.9")

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)

		assert.Equal(t, 7070, cfg.Server.Port)
		assert.InDelta(t, 0.9, cfg.Detection.SimilarityThreshold, 1e-9)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		setupConfigHome(t)
		t.Setenv("SERVER_HTTP_PORT", "70000")

		_, err := LoadWithFile("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("rejects insecure file permissions", func(t *testing.T) {
		dir := setupConfigHome(t)
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8080\n"), 0644))

		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("rejects paths outside allowed directories", func(t *testing.T) {
		setupConfigHome(t)
		outside := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(outside, []byte("server: {}\n"), 0600))

		_, err := LoadWithFile(outside)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config file must be in")
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		dir := setupConfigHome(t)
		path := writeConfigFile(t, dir, "server: [not a map\n")

		_, err := LoadWithFile(path)
		require.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		var cfg Config
		applyDefaults(&cfg)
		require.NoError(t, cfg.Validate())
		return &cfg
	}

	t.Run("zero shutdown timeout", func(t *testing.T) {
		cfg := valid(t)
		cfg.Server.ShutdownTimeout = 0
		assert.ErrorContains(t, cfg.Validate(), "shutdown timeout")
	})

	t.Run("confidence threshold out of range", func(t *testing.T) {
		cfg := valid(t)
		cfg.Detection.ConfidenceThreshold = 1.5
		assert.ErrorContains(t, cfg.Validate(), "confidence threshold")
	})

	t.Run("bad logging format", func(t *testing.T) {
		cfg := valid(t)
		cfg.Logging.Format = "xml"
		assert.ErrorContains(t, cfg.Validate(), "logging")
	})

	t.Run("bad orchestrator frequency", func(t *testing.T) {
		cfg := valid(t)
		cfg.Orchestrator.Frequencies = map[string]float64{"detection": 500}
		assert.ErrorContains(t, cfg.Validate(), "orchestrator")
	})
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "patternd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}
