package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/marathon/pkg/config"
	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/persist"
	"github.com/Sumatoshi-tech/marathon/pkg/session"
)

const msgDerivedReport = "Session has no final report yet; derived from the metrics log."

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "report [session-id]",
		Short: "Print the report of a session",
		Long: `Print the report of a session. Without an id the most recently started
session is used. A session still running has no final_report.json; its report
is derived from the metrics snapshots written so far.

Formats: text, json, yaml, html (token, LOC and error charts).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateFormat(format, formatText, formatJSON, formatYAML, formatHTML)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, map[string]string{"session.runs_dir": "runs-dir"})
			if err != nil {
				return err
			}

			var id string
			if len(args) == 1 {
				id = args[0]
			}

			dir, err := session.ResolveDir(cfg.Session.RunsDir, id)
			if err != nil {
				return err
			}

			if output == "" {
				return writeReport(cmd.OutOrStdout(), dir, format)
			}

			err = persist.WriteFileAtomic(output, func(w io.Writer) error {
				return writeReport(w, dir, format)
			})
			if err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Report written to "+output)

			return err
		},
	}

	addConfigFlag(cmd)
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml, html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().String("runs-dir", config.DefaultSessionRunsDir, "Directory holding one subdirectory per session")

	return cmd
}

func writeReport(w io.Writer, dir, format string) error {
	id := filepath.Base(dir)

	switch format {
	case formatHTML:
		history, err := session.ReplayHistory(dir)
		if err != nil {
			return err
		}

		return metrics.RenderHTML(w, id, history)
	case formatText:
		report, final, err := session.CurrentReport(dir)
		if err != nil {
			return err
		}

		history, err := session.ReplayHistory(dir)
		if err != nil {
			return err
		}

		if !final {
			_, err = fmt.Fprintln(w, msgDerivedReport)
			if err != nil {
				return err
			}
		}

		return metrics.RenderText(w, id, report, history)
	default:
		codec, ok := persist.CodecFor(format)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
		}

		report, _, err := session.CurrentReport(dir)
		if err != nil {
			return err
		}

		return codec.Encode(w, report)
	}
}
