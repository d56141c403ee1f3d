// Package main provides the entry point for the marathon session supervisor.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/marathon/cmd/marathon/commands"
	"github.com/Sumatoshi-tech/marathon/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "marathon",
		Short: "Marathon - long-running agent session supervisor",
		Long: `Marathon drives a multi-hour autonomous coding session through fixed phases,
watches the executor's checkpoints for stalls, and resumes it when it stops
making progress.

Commands:
  run         Supervise one session
  report      Print the report of a session
  sessions    List recorded sessions
  checkpoint  Inspect executor checkpoints
  mcp         Serve session status over MCP stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewSessionsCommand())
	rootCmd.AddCommand(commands.NewCheckpointCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(exitStatus(err))
	}
}

func exitStatus(err error) int {
	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
		}

		return exitErr.Code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	return 1
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
