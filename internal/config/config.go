// Package config provides configuration loading for patternd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and hardcoded defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/orchestrator"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Config holds the complete patternd configuration.
type Config struct {
	Server       ServerConfig            `koanf:"server"`
	Logging      logging.Config          `koanf:"logging"`
	Detection    DetectionConfig         `koanf:"detection"`
	Lifecycle    pattern.LifecycleConfig `koanf:"lifecycle"`
	Orchestrator orchestrator.Config     `koanf:"orchestrator"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DetectionConfig holds pattern detector thresholds.
type DetectionConfig struct {
	ConfidenceThreshold float64       `koanf:"confidence_threshold"`
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
	EvolutionWindow     time.Duration `koanf:"evolution_window"`
	Categories          []string      `koanf:"categories"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1], got %v", c.Detection.ConfidenceThreshold)
	}
	if c.Detection.SimilarityThreshold < 0 || c.Detection.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0, 1], got %v", c.Detection.SimilarityThreshold)
	}
	if c.Detection.EvolutionWindow <= 0 {
		return errors.New("evolution window must be positive")
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	def := logging.NewDefaultConfig()
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Format
		cfg.Logging.Level = def.Level
		cfg.Logging.Caller = def.Caller
		cfg.Logging.Stacktrace = def.Stacktrace
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = def.Fields
	}

	if cfg.Detection.ConfidenceThreshold == 0 {
		cfg.Detection.ConfidenceThreshold = pattern.DefaultConfidenceThreshold
	}
	if cfg.Detection.SimilarityThreshold == 0 {
		cfg.Detection.SimilarityThreshold = pattern.DefaultSimilarityThreshold
	}
	if cfg.Detection.EvolutionWindow == 0 {
		cfg.Detection.EvolutionWindow = pattern.DefaultEvolutionWindow
	}

	lcDef := pattern.DefaultLifecycleConfig()
	if cfg.Lifecycle.EmergingMinAge == 0 {
		cfg.Lifecycle.EmergingMinAge = lcDef.EmergingMinAge
	}
	if cfg.Lifecycle.EmergingMinFrequency == 0 {
		cfg.Lifecycle.EmergingMinFrequency = lcDef.EmergingMinFrequency
	}
	if cfg.Lifecycle.DevelopingMinStageAge == 0 {
		cfg.Lifecycle.DevelopingMinStageAge = lcDef.DevelopingMinStageAge
	}
	if cfg.Lifecycle.DevelopingMinFrequency == 0 {
		cfg.Lifecycle.DevelopingMinFrequency = lcDef.DevelopingMinFrequency
	}
	if cfg.Lifecycle.MatureIdleTimeout == 0 {
		cfg.Lifecycle.MatureIdleTimeout = lcDef.MatureIdleTimeout
	}
	if cfg.Lifecycle.EvolvingWindow == 0 {
		cfg.Lifecycle.EvolvingWindow = lcDef.EvolvingWindow
	}
	if cfg.Lifecycle.EvolvingMinEntries == 0 {
		cfg.Lifecycle.EvolvingMinEntries = lcDef.EvolvingMinEntries
	}
	if cfg.Lifecycle.FadingToArchive == 0 {
		cfg.Lifecycle.FadingToArchive = lcDef.FadingToArchive
	}
	if cfg.Lifecycle.ArchiveGrace == 0 {
		cfg.Lifecycle.ArchiveGrace = lcDef.ArchiveGrace
	}

	orchDef := orchestrator.DefaultConfig()
	if cfg.Orchestrator.Mode == "" {
		cfg.Orchestrator.Mode = orchDef.Mode
	}
	if cfg.Orchestrator.Frequencies == nil {
		cfg.Orchestrator.Frequencies = orchDef.Frequencies
	}
	if cfg.Orchestrator.MaxRecoveryAttempts == 0 {
		cfg.Orchestrator.MaxRecoveryAttempts = orchDef.MaxRecoveryAttempts
	}
	if cfg.Orchestrator.RecoverySpacing == 0 {
		cfg.Orchestrator.RecoverySpacing = orchDef.RecoverySpacing
	}
	if cfg.Orchestrator.CollaboratorTimeout == 0 {
		cfg.Orchestrator.CollaboratorTimeout = orchDef.CollaboratorTimeout
	}
	if cfg.Orchestrator.RealignmentThreshold == 0 {
		cfg.Orchestrator.RealignmentThreshold = orchDef.RealignmentThreshold
	}
	if cfg.Orchestrator.RealignmentScale == 0 {
		cfg.Orchestrator.RealignmentScale = orchDef.RealignmentScale
	}
	if cfg.Orchestrator.RealignmentHold == 0 {
		cfg.Orchestrator.RealignmentHold = orchDef.RealignmentHold
	}
}
