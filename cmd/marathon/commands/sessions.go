package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/marathon/pkg/config"
	"github.com/Sumatoshi-tech/marathon/pkg/ledger"
	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/persist"
	"github.com/Sumatoshi-tech/marathon/pkg/session"
)

const msgNoSessions = "No sessions found in "

// sessionRow is one line of the sessions listing.
type sessionRow struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	StartedAt  time.Time `json:"started_at"`
	Status     string    `json:"status"`
	Duration   int64     `json:"duration_seconds"`
	Tokens     int64     `json:"total_tokens"`
	LOC        int       `json:"final_loc"`
	Snapshots  int       `json:"snapshots"`
	Recoveries *int      `json:"recoveries,omitempty"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand() *cobra.Command {
	var (
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Long: `List the sessions under the runs directory, most recent first. When a
ledger is configured, each row also shows the number of recovery attempts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateFormat(format, formatText, formatJSON, formatYAML)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, map[string]string{
				"session.runs_dir": "runs-dir",
				"ledger.path":      "ledger",
			})
			if err != nil {
				return err
			}

			rows, err := collectSessions(cmd.Context(), cfg, limit)
			if err != nil {
				return err
			}

			if format != formatText {
				codec, _ := persist.CodecFor(format)

				return codec.Encode(cmd.OutOrStdout(), rows)
			}

			if len(rows) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), msgNoSessions+cfg.Session.RunsDir)

				return err
			}

			renderSessions(cmd.OutOrStdout(), rows)

			return nil
		},
	}

	addConfigFlag(cmd)
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json, yaml")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many sessions (0 = all)")
	cmd.Flags().String("runs-dir", config.DefaultSessionRunsDir, "Directory holding one subdirectory per session")
	cmd.Flags().String("ledger", config.DefaultLedgerPath, "SQLite ledger path")

	return cmd
}

func collectSessions(ctx context.Context, cfg *config.Config, limit int) ([]sessionRow, error) {
	listings, err := session.ListSessions(cfg.Session.RunsDir)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}

	var led *ledger.Ledger

	if cfg.Ledger.Path != "" {
		led, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}

		defer func() {
			closeErr := led.Close()
			if closeErr != nil {
				slog.Warn("close ledger failed", slog.String("error", closeErr.Error()))
			}
		}()
	}

	rows := make([]sessionRow, 0, len(listings))

	for _, listing := range listings {
		row := sessionRow{
			ID:        listing.Info.ID,
			Project:   listing.Info.Project.Key,
			StartedAt: listing.Info.StartedAt,
			Status:    metrics.StatusRunning,
		}

		report := listing.Report
		if report == nil {
			derived, _, reportErr := session.CurrentReport(listing.Dir)
			if reportErr == nil {
				report = &derived
			}
		} else if report.Status != "" {
			row.Status = report.Status
		}

		if report != nil {
			row.Duration = report.DurationSeconds
			row.Tokens = report.TotalTokens
			row.LOC = report.FinalLOC
			row.Snapshots = report.Checkpoints
		}

		if led != nil {
			attempts, attemptsErr := led.Attempts(ctx, row.ID)
			if attemptsErr != nil {
				return nil, attemptsErr
			}

			count := len(attempts)
			row.Recoveries = &count
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func renderSessions(w io.Writer, rows []sessionRow) {
	withRecoveries := rows[0].Recoveries != nil

	header := table.Row{"ID", "Project", "Started", "Status", "Duration", "Tokens", "LOC", "Snapshots"}
	if withRecoveries {
		header = append(header, "Recoveries")
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(header)

	for _, r := range rows {
		line := table.Row{
			r.ID,
			r.Project,
			humanize.Time(r.StartedAt),
			r.Status,
			(time.Duration(r.Duration) * time.Second).String(),
			humanize.Comma(r.Tokens),
			humanize.Comma(int64(r.LOC)),
			r.Snapshots,
		}

		if withRecoveries {
			line = append(line, *r.Recoveries)
		}

		tbl.AppendRow(line)
	}

	tbl.Render()
}
