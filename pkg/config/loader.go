package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".marathon"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for marathon settings.
const envPrefix = "MARATHON"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith loads configuration through a caller-owned viper instance, so CLI
// flags bound to it take precedence over file and env values.
func LoadWith(viperCfg *viper.Viper, configPath string) (*Config, error) {
	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("session.project", DefaultSessionProject)
	viperCfg.SetDefault("session.duration", DefaultSessionDuration)
	viperCfg.SetDefault("session.agents", DefaultSessionAgents)
	viperCfg.SetDefault("session.runs_dir", DefaultSessionRunsDir)
	viperCfg.SetDefault("session.workspace", DefaultSessionWorkspace)
	viperCfg.SetDefault("session.poll_interval", DefaultSessionPollInterval)
	viperCfg.SetDefault("session.checkpoint_interval", DefaultSessionCheckpointInterval)

	viperCfg.SetDefault("checkpoint.dir", DefaultCheckpointDir)
	viperCfg.SetDefault("checkpoint.pattern", DefaultCheckpointPattern)

	viperCfg.SetDefault("health.stale_threshold", DefaultHealthStaleThreshold)

	viperCfg.SetDefault("recovery.command", DefaultRecoveryCommand)
	viperCfg.SetDefault("recovery.args", defaultRecoveryArgs())
	viperCfg.SetDefault("recovery.timeout", DefaultRecoveryTimeout)

	viperCfg.SetDefault("metrics.count_lines", DefaultMetricsCountLines)

	viperCfg.SetDefault("observability.listen", DefaultObservabilityListen)
	viperCfg.SetDefault("observability.log_level", DefaultObservabilityLogLevel)
	viperCfg.SetDefault("observability.log_json", DefaultObservabilityLogJSON)
	viperCfg.SetDefault("observability.otlp_endpoint", DefaultObservabilityOTLPEndpoint)
	viperCfg.SetDefault("observability.otlp_insecure", DefaultObservabilityOTLPInsecure)
	viperCfg.SetDefault("observability.prometheus", DefaultObservabilityPrometheus)
	viperCfg.SetDefault("observability.sample_ratio", DefaultObservabilitySampleRatio)
	viperCfg.SetDefault("observability.shutdown_timeout_sec", DefaultObservabilityShutdown)

	viperCfg.SetDefault("ledger.path", DefaultLedgerPath)
}
