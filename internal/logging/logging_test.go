package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Caller.Enabled)
	assert.Equal(t, zapcore.ErrorLevel, cfg.Stacktrace.Level)
	assert.Equal(t, "patternd", cfg.Fields["service"])
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid console format",
			mutate: func(c *Config) { c.Format = "console" },
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Format = "xml" },
			wantErr: "format must be",
		},
		{
			name:    "negative caller skip",
			mutate:  func(c *Config) { c.Caller.Skip = -1 },
			wantErr: "caller skip",
		},
		{
			name:    "empty field key",
			mutate:  func(c *Config) { c.Fields = map[string]string{"": "x"} },
			wantErr: "field key cannot be empty",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields = map[string]string{"env": ""} },
			wantErr: "empty value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		logger, err := New(nil)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("default config works")
	})

	t.Run("console format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "console"
		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "bogus"
		_, err := New(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("level filtering", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Level = zapcore.WarnLevel
		logger, err := New(cfg)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
	})
}
