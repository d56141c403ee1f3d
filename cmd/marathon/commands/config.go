// Package commands implements CLI command handlers for marathon.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/marathon/pkg/config"
	"github.com/Sumatoshi-tech/marathon/pkg/observability"
)

const configFlag = "config"

// Output formats shared by the inspection commands.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatHTML = "html"
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

// ExitError carries a process exit status out of a command. Err may be nil
// when the command already reported the failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}

	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(configFlag, "", "Config file (default: .marathon.yaml in CWD or $HOME)")
}

// loadConfig reads the file named by --config and overlays every changed flag
// listed in bindings (config key to flag name).
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	var configPath string
	if flag := cmd.Flag(configFlag); flag != nil {
		configPath = flag.Value.String()
	}

	viperCfg := viper.New()

	for key, name := range bindings {
		flag := cmd.Flag(name)
		if flag == nil {
			continue
		}

		err := viperCfg.BindPFlag(key, flag)
		if err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return config.LoadWith(viperCfg, configPath)
}

func shutdownProviders(providers observability.Providers) {
	err := providers.Shutdown(context.Background())
	if err != nil {
		providers.Logger.Warn("observability shutdown failed", slog.String("error", err.Error()))
	}
}

func validateFormat(format string, allowed ...string) error {
	for _, f := range allowed {
		if f == format {
			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
