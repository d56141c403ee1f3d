package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// emptyConfig writes a config file so tests never pick up .marathon.yaml from
// the working directory or $HOME.
func emptyConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "marathon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  agents: 6\n"), 0o600))

	return path
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(ctx context.Context, cmd *cobra.Command, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)

	return stdout.String(), stderr.String(), err
}

// runShortSession records a completed sub-second session under runsDir.
func runShortSession(t *testing.T, runsDir, id string, extra ...string) string {
	t.Helper()

	args := append([]string{
		"--config", emptyConfig(t),
		"--session-id", id,
		"--runs-dir", runsDir,
		"--checkpoint-dir", t.TempDir(),
		"--duration", "300ms",
		"--poll-interval", "10ms",
		"--checkpoint-interval", "50ms",
	}, extra...)

	stdout, _, err := execute(context.Background(), NewRunCommand(), args...)
	require.NoError(t, err)

	return stdout
}
