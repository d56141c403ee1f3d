package commands

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
)

func TestSessionsCommand_ListsSessions(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()
	runShortSession(t, runsDir, "list01")
	runShortSession(t, runsDir, "list02")

	stdout, _, err := execute(context.Background(), NewSessionsCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir, "--format", formatJSON)
	require.NoError(t, err)

	var rows []sessionRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "list02", rows[0].ID)
	assert.Equal(t, "list01", rows[1].ID)

	for _, row := range rows {
		assert.Equal(t, metrics.StatusCompleted, row.Status)
		assert.Positive(t, row.Snapshots)
		assert.Nil(t, row.Recoveries)
	}

	stdout, _, err = execute(context.Background(), NewSessionsCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir, "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "list02")
	assert.NotContains(t, stdout, "list01")
}

func TestSessionsCommand_LedgerAddsRecoveries(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	runShortSession(t, runsDir, "ledger02", "--ledger", ledgerPath)

	stdout, _, err := execute(context.Background(), NewSessionsCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir, "--ledger", ledgerPath, "--format", formatJSON)
	require.NoError(t, err)

	var rows []sessionRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Recoveries)
	assert.Zero(t, *rows[0].Recoveries)

	stdout, _, err = execute(context.Background(), NewSessionsCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir, "--ledger", ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Recoveries")
}

func TestSessionsCommand_Empty(t *testing.T) {
	t.Parallel()

	runsDir := t.TempDir()

	stdout, _, err := execute(context.Background(), NewSessionsCommand(),
		"--config", emptyConfig(t), "--runs-dir", runsDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, msgNoSessions+runsDir)
}
