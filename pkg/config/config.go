package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
	"github.com/Sumatoshi-tech/marathon/pkg/observability"
	"github.com/Sumatoshi-tech/marathon/pkg/session"
)

// Sentinel validation errors.
var (
	ErrInvalidDuration           = errors.New("session duration must be positive")
	ErrInvalidAgents             = errors.New("session agents must be positive")
	ErrInvalidPollInterval       = errors.New("poll interval must be positive")
	ErrInvalidCheckpointInterval = errors.New("checkpoint interval must be positive")
	ErrInvalidStaleThreshold     = errors.New("stale threshold must exceed the poll interval")
	ErrInvalidPattern            = errors.New("invalid checkpoint pattern")
	ErrInvalidRecoveryCommand    = errors.New("recovery command must not be empty")
	ErrInvalidRecoveryTimeout    = errors.New("recovery timeout must be positive")
	ErrInvalidLogLevel           = errors.New("invalid log level")
	ErrInvalidSampleRatio        = errors.New("sample ratio must be within [0, 1]")
	ErrUnknownProject            = errors.New("unknown project")
)

// Config is the full marathon configuration.
type Config struct {
	Session       SessionConfig       `mapstructure:"session"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Health        HealthConfig        `mapstructure:"health"`
	Recovery      RecoveryConfig      `mapstructure:"recovery"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
}

// SessionConfig controls the orchestrator.
type SessionConfig struct {
	Project            string        `mapstructure:"project"`
	RunsDir            string        `mapstructure:"runs_dir"`
	Workspace          string        `mapstructure:"workspace"`
	Duration           time.Duration `mapstructure:"duration"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	Agents             int           `mapstructure:"agents"`
}

// CheckpointConfig locates the executor's snapshots.
type CheckpointConfig struct {
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
}

// HealthConfig controls stall detection.
type HealthConfig struct {
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
}

// RecoveryConfig describes the resume command.
type RecoveryConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls progress sampling.
type MetricsConfig struct {
	// CountLines scans the workspace with enry instead of estimating LOC.
	CountLines bool `mapstructure:"count_lines"`
}

// ObservabilityConfig controls logs, traces and the ops endpoint.
type ObservabilityConfig struct {
	Listen          string  `mapstructure:"listen"`
	LogLevel        string  `mapstructure:"log_level"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	SampleRatio     float64 `mapstructure:"sample_ratio"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout_sec"`
	LogJSON         bool    `mapstructure:"log_json"`
	OTLPInsecure    bool    `mapstructure:"otlp_insecure"`
	Prometheus      bool    `mapstructure:"prometheus"`
}

// LedgerConfig locates the sqlite session ledger.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := session.LookupProject(c.Session.Project); !ok {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProject, c.Session.Project))
	}

	if c.Session.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidDuration, c.Session.Duration))
	}

	if c.Session.Agents <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidAgents, c.Session.Agents))
	}

	if c.Session.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidPollInterval, c.Session.PollInterval))
	}

	if c.Session.CheckpointInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidCheckpointInterval, c.Session.CheckpointInterval))
	}

	if c.Health.StaleThreshold <= c.Session.PollInterval {
		errs = append(errs, fmt.Errorf("%w: %s <= %s",
			ErrInvalidStaleThreshold, c.Health.StaleThreshold, c.Session.PollInterval))
	}

	if _, err := path.Match(c.Checkpoint.Pattern, ""); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPattern, c.Checkpoint.Pattern))
	}

	if c.Recovery.Command == "" {
		errs = append(errs, ErrInvalidRecoveryCommand)
	}

	if c.Recovery.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidRecoveryTimeout, c.Recovery.Timeout))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Observability.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Observability.LogLevel))
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Observability.SampleRatio))
	}

	return errors.Join(errs...)
}

// Source returns the reader for the executor's checkpoint directory.
func (c *Config) Source() *checkpoint.DirSource {
	source := checkpoint.NewDirSource(c.Checkpoint.Dir)
	source.Pattern = c.Checkpoint.Pattern

	return source
}

// Project returns the session project preset.
func (c *Config) Project() session.Project {
	p, _ := session.LookupProject(c.Session.Project)

	return p
}

// SessionConfig converts the settings into an orchestrator configuration.
func (c *Config) SessionConfig(id string) session.Config {
	return session.Config{
		ID:                 id,
		Project:            c.Project(),
		Duration:           c.Session.Duration,
		Agents:             c.Session.Agents,
		CheckpointInterval: c.Session.CheckpointInterval,
		PollInterval:       c.Session.PollInterval,
		RunsDir:            c.Session.RunsDir,
		Workspace:          c.Session.Workspace,
	}
}

// ObservabilityConfig converts the settings for observability.Init.
func (c *Config) ObservabilityConfig(mode observability.AppMode, sessionID string) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.Mode = mode
	cfg.SessionID = sessionID
	cfg.OTLPEndpoint = c.Observability.OTLPEndpoint
	cfg.OTLPInsecure = c.Observability.OTLPInsecure
	cfg.Prometheus = c.Observability.Prometheus
	cfg.SampleRatio = c.Observability.SampleRatio
	cfg.LogJSON = c.Observability.LogJSON
	cfg.ShutdownTimeoutSec = c.Observability.ShutdownTimeout
	cfg.LogLevel = observability.ParseLogLevel(c.Observability.LogLevel)

	return cfg
}
