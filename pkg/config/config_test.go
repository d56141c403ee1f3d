package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Session: SessionConfig{
			Project:            DefaultSessionProject,
			Duration:           DefaultSessionDuration,
			Agents:             DefaultSessionAgents,
			PollInterval:       DefaultSessionPollInterval,
			CheckpointInterval: DefaultSessionCheckpointInterval,
		},
		Checkpoint:    CheckpointConfig{Pattern: DefaultCheckpointPattern},
		Health:        HealthConfig{StaleThreshold: DefaultHealthStaleThreshold},
		Recovery:      RecoveryConfig{Command: DefaultRecoveryCommand, Args: defaultRecoveryArgs(), Timeout: time.Minute},
		Observability: ObservabilityConfig{LogLevel: "info", SampleRatio: 1},
	}
}

func TestValidate_ValidConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"duration", func(c *Config) { c.Session.Duration = 0 }, ErrInvalidDuration},
		{"agents", func(c *Config) { c.Session.Agents = -1 }, ErrInvalidAgents},
		{"poll", func(c *Config) { c.Session.PollInterval = 0 }, ErrInvalidPollInterval},
		{"checkpoint interval", func(c *Config) { c.Session.CheckpointInterval = 0 }, ErrInvalidCheckpointInterval},
		{"stale below poll", func(c *Config) { c.Health.StaleThreshold = 20 * time.Second }, ErrInvalidStaleThreshold},
		{"pattern", func(c *Config) { c.Checkpoint.Pattern = "[" }, ErrInvalidPattern},
		{"command", func(c *Config) { c.Recovery.Command = "" }, ErrInvalidRecoveryCommand},
		{"timeout", func(c *Config) { c.Recovery.Timeout = 0 }, ErrInvalidRecoveryTimeout},
		{"log level", func(c *Config) { c.Observability.LogLevel = "loud" }, ErrInvalidLogLevel},
		{"sample ratio", func(c *Config) { c.Observability.SampleRatio = 1.5 }, ErrInvalidSampleRatio},
		{"project", func(c *Config) { c.Session.Project = "spaceship" }, ErrUnknownProject},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)

			assert.ErrorIs(t, cfg.Validate(), tc.want)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Session.Agents = 0
	cfg.Recovery.Command = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidAgents)
	require.ErrorIs(t, err, ErrInvalidRecoveryCommand)
}
