package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
	"github.com/Sumatoshi-tech/marathon/pkg/health"
	"github.com/Sumatoshi-tech/marathon/pkg/persist"
)

const (
	checkpointDirFlag = "checkpoint-dir"
	journalSubdir     = "journal"
	msgNoCheckpoint   = "No checkpoint found in "
)

var checkpointFlagBindings = map[string]string{
	"checkpoint.dir":         checkpointDirFlag,
	"health.stale_threshold": "stale-threshold",
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect executor checkpoints",
		Long: `Inspect the executor's task checkpoints without modifying them.

Subcommands:
  latest   Health and summary of the newest snapshot
  list     Every snapshot in the checkpoint directory
  diff     Delta between two snapshots of one task
  replay   Rebuild a task from its snapshot plus delta journal`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addConfigFlag(cmd)
	cmd.PersistentFlags().String(checkpointDirFlag, "", "Executor checkpoint directory (default: ~/.selfware/checkpoints)")

	cmd.AddCommand(newCheckpointLatestCommand())
	cmd.AddCommand(newCheckpointListCommand())
	cmd.AddCommand(newCheckpointDiffCommand())
	cmd.AddCommand(newCheckpointReplayCommand())

	return cmd
}

// latestView is the JSON form of checkpoint latest.
type latestView struct {
	Dir        string              `json:"dir"`
	Ref        string              `json:"ref,omitempty"`
	Healthy    bool                `json:"healthy"`
	Condition  string              `json:"condition"`
	AgeSeconds int64               `json:"age_seconds"`
	Error      string              `json:"error,omitempty"`
	Summary    *checkpoint.Summary `json:"summary,omitempty"`
}

func newCheckpointLatestCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "latest",
		Short:         "Show health and summary of the newest checkpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateFormat(format, formatText, formatJSON)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, checkpointFlagBindings)
			if err != nil {
				return err
			}

			source := cfg.Source()
			report := health.NewMonitor(cfg.Health.StaleThreshold).Check(cmd.Context(), source, time.Now())

			view := latestView{
				Dir:        source.Dir,
				Ref:        report.Ref.String(),
				Healthy:    report.Healthy,
				Condition:  string(report.Condition),
				AgeSeconds: int64(report.Age / time.Second),
			}

			if report.Err != nil {
				view.Error = report.Err.Error()
			}

			if report.Checkpoint != nil {
				summary := report.Checkpoint.Summary()
				view.Summary = &summary
			}

			if format == formatJSON {
				return persist.NewJSONCodec().Encode(cmd.OutOrStdout(), view)
			}

			return renderLatest(cmd.OutOrStdout(), view)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json")
	cmd.Flags().Duration("stale-threshold", health.DefaultStaleThreshold, "Checkpoint age considered stale")

	return cmd
}

func renderLatest(w io.Writer, view latestView) error {
	if view.Condition == string(health.ConditionMissing) {
		_, err := fmt.Fprintln(w, msgNoCheckpoint+view.Dir)

		return err
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("Checkpoint " + view.Ref)

	tbl.AppendRow(table.Row{"Condition", conditionColor(view.Healthy).Sprint(view.Condition)})
	tbl.AppendRow(table.Row{"Age", (time.Duration(view.AgeSeconds) * time.Second).String()})

	if view.Error != "" {
		tbl.AppendRow(table.Row{"Error", view.Error})
	}

	if view.Summary != nil {
		appendSummaryRows(tbl, *view.Summary)
	}

	tbl.Render()

	return nil
}

func conditionColor(healthy bool) *color.Color {
	if healthy {
		return color.New(color.FgGreen)
	}

	return color.New(color.FgRed, color.Bold)
}

func appendSummaryRows(tbl table.Writer, s checkpoint.Summary) {
	tbl.AppendRows([]table.Row{
		{"Task", s.TaskID},
		{"Description", s.TaskDescription},
		{"Status", string(s.Status)},
		{"Version", s.Version},
		{"Step", s.CurrentStep},
		{"Tokens", humanize.Comma(int64(s.EstimatedTokens))},
		{"Tool calls", s.ToolCallCount},
		{"Errors", s.ErrorCount},
		{"Updated", humanize.Time(s.UpdatedAt)},
	})
}

func newCheckpointListCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List every snapshot in the checkpoint directory",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateFormat(format, formatText, formatJSON)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, checkpointFlagBindings)
			if err != nil {
				return err
			}

			dir := cfg.Source().Dir

			_, statErr := os.Stat(dir)
			if errors.Is(statErr, os.ErrNotExist) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), msgNoCheckpoint+dir)

				return err
			}

			summaries, err := checkpoint.NewStore(dir).List()
			if err != nil {
				return err
			}

			if format == formatJSON {
				return persist.NewJSONCodec().Encode(cmd.OutOrStdout(), summaries)
			}

			tbl := table.NewWriter()
			tbl.SetOutputMirror(cmd.OutOrStdout())
			tbl.SetStyle(table.StyleLight)
			tbl.AppendHeader(table.Row{"Task", "Status", "Version", "Step", "Tokens", "Errors", "Updated"})

			for _, s := range summaries {
				tbl.AppendRow(table.Row{
					s.TaskID, s.Status, s.Version, s.CurrentStep,
					humanize.Comma(int64(s.EstimatedTokens)), s.ErrorCount, humanize.Time(s.UpdatedAt),
				})
			}

			tbl.Render()

			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json")

	return cmd
}

func newCheckpointDiffCommand() *cobra.Command {
	var lines bool

	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Show the delta between two snapshots of one task",
		Long: `Compute the delta that advances the old snapshot to the new one and print it
as JSON. With --lines, print a line diff of the two snapshots instead.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := readCheckpointFile(args[0])
			if err != nil {
				return err
			}

			current, err := readCheckpointFile(args[1])
			if err != nil {
				return err
			}

			if lines {
				return writeLineDiff(cmd.OutOrStdout(), base, current)
			}

			delta, ok := checkpoint.ComputeDelta(current, base)
			if !ok {
				return fmt.Errorf("%w: %s, %s", checkpoint.ErrTaskMismatch, base.TaskID, current.TaskID)
			}

			return persist.NewJSONCodec().Encode(cmd.OutOrStdout(), delta)
		},
	}

	cmd.Flags().BoolVar(&lines, "lines", false, "Print a line diff instead of the delta")

	return cmd
}

func readCheckpointFile(path string) (*checkpoint.TaskCheckpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	cp, err := checkpoint.ParsePayload(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return cp, nil
}

func writeLineDiff(w io.Writer, base, current *checkpoint.TaskCheckpoint) error {
	before, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	after, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dmp := diffmatchpatch.New()
	src, dst, lineArray := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(src, dst, false), lineArray)

	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)

	for _, diff := range diffs {
		for _, line := range strings.Split(strings.TrimSuffix(diff.Text, "\n"), "\n") {
			var writeErr error

			switch diff.Type {
			case diffmatchpatch.DiffInsert:
				_, writeErr = added.Fprintln(w, "+ "+line)
			case diffmatchpatch.DiffDelete:
				_, writeErr = removed.Fprintln(w, "- "+line)
			case diffmatchpatch.DiffEqual:
				_, writeErr = fmt.Fprintln(w, "  "+line)
			}

			if writeErr != nil {
				return writeErr
			}
		}
	}

	return nil
}

func newCheckpointReplayCommand() *cobra.Command {
	var (
		journalDir string
		saveDir    string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "replay <task-id>",
		Short: "Rebuild a task from its snapshot and delta journal",
		Long: `Load <checkpoint-dir>/<task-id>.json and apply every journaled delta newer
than it. With --save-dir, the rebuilt checkpoint is written as a full snapshot
to that directory; the executor's own directory is never modified.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateFormat(format, formatText, formatJSON)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, checkpointFlagBindings)
			if err != nil {
				return err
			}

			taskID := args[0]
			dir := cfg.Source().Dir

			if journalDir == "" {
				journalDir = filepath.Join(dir, journalSubdir)
			}

			base, err := checkpoint.NewStore(dir).Load(taskID)
			if err != nil {
				return err
			}

			rebuilt, err := replayJournal(journalDir, base)
			if err != nil {
				return err
			}

			if saveDir != "" {
				err = saveRebuilt(saveDir, rebuilt)
				if err != nil {
					return err
				}
			}

			if format == formatJSON {
				return persist.NewJSONCodec().Encode(cmd.OutOrStdout(), rebuilt)
			}

			tbl := table.NewWriter()
			tbl.SetOutputMirror(cmd.OutOrStdout())
			tbl.SetStyle(table.StyleLight)
			tbl.SetTitle("Replayed " + taskID + " from v" + strconv.FormatUint(uint64(base.Version), 10))
			appendSummaryRows(tbl, rebuilt.Summary())
			tbl.Render()

			return nil
		},
	}

	cmd.Flags().StringVar(&journalDir, "journal-dir", "", "Delta journal directory (default: <checkpoint-dir>/journal)")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "Write the rebuilt snapshot to this directory")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json")

	return cmd
}

// replayJournal applies the task's journal to base. A missing journal
// leaves base unchanged.
func replayJournal(dir string, base *checkpoint.TaskCheckpoint) (*checkpoint.TaskCheckpoint, error) {
	journal, err := checkpoint.OpenJournal(dir, base.TaskID)
	if err != nil {
		return nil, err
	}

	return journal.Replay(base)
}

func saveRebuilt(dir string, rebuilt *checkpoint.TaskCheckpoint) error {
	return checkpoint.NewStore(dir).Save(rebuilt)
}
