package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/marathon/pkg/config"
	"github.com/Sumatoshi-tech/marathon/pkg/mcp"
	"github.com/Sumatoshi-tech/marathon/pkg/observability"
	"github.com/Sumatoshi-tech/marathon/pkg/version"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes marathon session state as tools that AI agents
can discover and invoke:
  - marathon_status: Phase, latest metrics and checkpoint health of a session
  - marathon_report: Final report of a session, or one derived from its metrics`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cobraCmd, map[string]string{
				"session.runs_dir": "runs-dir",
				"checkpoint.dir":   "checkpoint-dir",
			})
			if err != nil {
				return err
			}

			obsCfg := cfg.ObservabilityConfig(observability.ModeMCP, "")
			obsCfg.ServiceVersion = version.Version
			obsCfg.LogJSON = true

			if debug {
				obsCfg.LogLevel = slog.LevelDebug
			}

			providers, err := observability.InitWithWriter(obsCfg, cobraCmd.ErrOrStderr())
			if err != nil {
				return err
			}

			defer shutdownProviders(providers)

			red, redErr := observability.NewREDMetrics(providers.Meter)
			if redErr != nil {
				return redErr
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				RunsDir:        cfg.Session.RunsDir,
				CheckpointDir:  cfg.Checkpoint.Dir,
				StaleThreshold: cfg.Health.StaleThreshold,
				Logger:         providers.Logger,
				Metrics:        red,
				Tracer:         providers.Tracer,
			})

			return srv.Run(cobraCmd.Context())
		},
	}

	addConfigFlag(cmd)
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")
	cmd.Flags().String("runs-dir", config.DefaultSessionRunsDir, "Directory holding one subdirectory per session")
	cmd.Flags().String("checkpoint-dir", config.DefaultCheckpointDir, "Executor checkpoint directory")

	return cmd
}
