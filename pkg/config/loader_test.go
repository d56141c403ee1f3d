package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/marathon/pkg/config"
	"github.com/Sumatoshi-tech/marathon/pkg/observability"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".marathon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.DefaultSessionProject, cfg.Session.Project)
	assert.Equal(t, config.DefaultSessionDuration, cfg.Session.Duration)
	assert.Equal(t, config.DefaultSessionAgents, cfg.Session.Agents)
	assert.Equal(t, config.DefaultSessionPollInterval, cfg.Session.PollInterval)
	assert.Equal(t, config.DefaultSessionCheckpointInterval, cfg.Session.CheckpointInterval)
	assert.Equal(t, config.DefaultHealthStaleThreshold, cfg.Health.StaleThreshold)
	assert.Equal(t, config.DefaultCheckpointPattern, cfg.Checkpoint.Pattern)
	assert.Equal(t, config.DefaultRecoveryCommand, cfg.Recovery.Command)
	assert.Equal(t, []string{"resume"}, cfg.Recovery.Args)
	assert.Equal(t, config.DefaultRecoveryTimeout, cfg.Recovery.Timeout)
	assert.Equal(t, config.DefaultObservabilityLogLevel, cfg.Observability.LogLevel)
	assert.InDelta(t, config.DefaultObservabilitySampleRatio, cfg.Observability.SampleRatio, 0.001)
	assert.Empty(t, cfg.Ledger.Path)
}

func TestLoadConfig_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `session:
  project: database
  duration: 90m
  agents: 3
  runs_dir: /var/lib/marathon/runs
  poll_interval: 10s
checkpoint:
  dir: /tmp/selfware
health:
  stale_threshold: 2m
recovery:
  command: /usr/local/bin/selfware
  args: ["--quiet", "resume"]
  timeout: 1m
metrics:
  count_lines: true
observability:
  listen: ":9464"
  log_level: debug
  log_json: true
  prometheus: true
ledger:
  path: /var/lib/marathon/ledger.db
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "database", cfg.Session.Project)
	assert.Equal(t, 90*time.Minute, cfg.Session.Duration)
	assert.Equal(t, 3, cfg.Session.Agents)
	assert.Equal(t, "/var/lib/marathon/runs", cfg.Session.RunsDir)
	assert.Equal(t, 10*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, "/tmp/selfware", cfg.Checkpoint.Dir)
	assert.Equal(t, 2*time.Minute, cfg.Health.StaleThreshold)
	assert.Equal(t, []string{"--quiet", "resume"}, cfg.Recovery.Args)
	assert.Equal(t, time.Minute, cfg.Recovery.Timeout)
	assert.True(t, cfg.Metrics.CountLines)
	assert.Equal(t, ":9464", cfg.Observability.Listen)
	assert.True(t, cfg.Observability.LogJSON)
	assert.True(t, cfg.Observability.Prometheus)
	assert.Equal(t, "/var/lib/marathon/ledger.db", cfg.Ledger.Path)

	// Unset keys in a partial section keep their defaults.
	assert.Equal(t, config.DefaultSessionCheckpointInterval, cfg.Session.CheckpointInterval)
}

func TestLoadConfig_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "session: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidValues_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "session:\n  agents: 0\n"))
	require.ErrorIs(t, err, config.ErrInvalidAgents)
}

func TestLoadConfig_ExplicitPath_NotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_EnvOverride_NestedKey(t *testing.T) {
	path := writeConfig(t, "")

	t.Setenv("MARATHON_HEALTH_STALE_THRESHOLD", "10m")
	t.Setenv("MARATHON_SESSION_PROJECT", "microservices")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Health.StaleThreshold)
	assert.Equal(t, "ServiceMesh", cfg.Project().Name)
}

func TestLoadWith_ExplicitOverrideWins(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "session:\n  duration: 2h\n")

	viperCfg := viper.New()
	viperCfg.Set("session.duration", "30m")

	cfg, err := config.LoadWith(viperCfg, path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Session.Duration)
}

func TestConfig_Conversions(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, "session:\n  duration: 1h\n  workspace: /src\nobservability:\n  log_level: warn\n"))
	require.NoError(t, err)

	sc := cfg.SessionConfig("abc")
	assert.Equal(t, "abc", sc.ID)
	assert.Equal(t, time.Hour, sc.Duration)
	assert.Equal(t, "/src", sc.Workspace)
	assert.Equal(t, "RedQueue", sc.Project.Name)

	oc := cfg.ObservabilityConfig(observability.ModeRun, "abc")
	assert.Equal(t, observability.ModeRun, oc.Mode)
	assert.Equal(t, "abc", oc.SessionID)
	assert.Equal(t, "WARN", oc.LogLevel.String())

	source := cfg.Source()
	assert.Equal(t, config.DefaultCheckpointPattern, source.Pattern)
}
