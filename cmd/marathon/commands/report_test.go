package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/persist"
	"github.com/Sumatoshi-tech/marathon/pkg/session"
)

func TestReportCommand_Formats(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()
	runShortSession(t, runsDir, "report01")

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{name: "text", format: formatText, want: "Session report01"},
		{name: "yaml", format: formatYAML, want: "status: completed"},
		{name: "html", format: formatHTML, want: "marathon session report01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stdout, _, err := execute(context.Background(), NewReportCommand(),
				"report01", "--config", emptyConfig(t), "--runs-dir", runsDir, "--format", tt.format)
			require.NoError(t, err)
			assert.Contains(t, stdout, tt.want)
			assert.NotContains(t, stdout, msgDerivedReport)
		})
	}
}

func TestReportCommand_JSONMatchesFinalReport(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()
	runShortSession(t, runsDir, "report02")

	stdout, _, err := execute(context.Background(), NewReportCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir, "--format", formatJSON)
	require.NoError(t, err)

	var got metrics.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))

	want, err := session.LoadReport(filepath.Join(runsDir, "report02"))
	require.NoError(t, err)
	assert.Equal(t, *want, got)
}

func TestReportCommand_WritesOutputFile(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()
	runShortSession(t, runsDir, "report03")

	out := filepath.Join(t.TempDir(), "report.html")

	stdout, _, err := execute(context.Background(), NewReportCommand(),
		"report03", "--config", emptyConfig(t), "--runs-dir", runsDir, "--format", formatHTML, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<html")
}

func TestReportCommand_RunningSessionDerivesReport(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()
	dir := filepath.Join(runsDir, "live01")
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := persist.SaveState(dir, "session", persist.NewJSONCodec(), &session.Info{ID: "live01", StartedAt: started})
	require.NoError(t, err)

	collector := metrics.NewCollector(session.MetricsDir(dir))
	require.NoError(t, collector.RecordSnapshot(started.Add(time.Minute), metrics.SessionMetrics{
		ElapsedSeconds: 60,
		TotalTokens:    900,
		Phase:          string(session.PhaseBootstrap),
		Status:         metrics.StatusRunning,
	}))

	stdout, _, err := execute(context.Background(), NewReportCommand(),
		"live01", "--config", emptyConfig(t), "--runs-dir", runsDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, msgDerivedReport)
	assert.Contains(t, stdout, "900")
}

func TestReportCommand_Errors(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()

	_, _, err := execute(context.Background(), NewReportCommand(),
		"missing", "--config", emptyConfig(t), "--runs-dir", runsDir)
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	_, _, err = execute(context.Background(), NewReportCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir)
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	_, _, err = execute(context.Background(), NewReportCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir, "--format", "pdf")
	require.ErrorIs(t, err, ErrUnknownFormat)
}
