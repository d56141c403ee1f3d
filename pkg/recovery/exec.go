package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Default resume entry point of the executor.
const (
	DefaultCommand = "selfware"
	DefaultTimeout = 10 * time.Minute

	// waitDelay bounds how long output pipes held by orphaned children may
	// keep Run blocked after the command is killed.
	waitDelay = time.Second
)

// DefaultArgs precede the task id on the resume command line.
func DefaultArgs() []string {
	return []string{"resume"}
}

// ExecResult is the captured outcome of one resume command.
type ExecResult struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Resumer asks the executor to continue a task from its last checkpoint.
type Resumer interface {
	Resume(ctx context.Context, taskID string) (*ExecResult, error)
}

// ExecResumer runs "<Command> <Args...> <taskID>" as a child process.
type ExecResumer struct {
	Command string
	Args    []string
	WorkDir string
	// Timeout bounds a single invocation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// NewExecResumer creates an ExecResumer. An empty command selects the
// executor's default resume entry point.
func NewExecResumer(command string, args []string, timeout time.Duration) *ExecResumer {
	if command == "" {
		command = DefaultCommand
		if args == nil {
			args = DefaultArgs()
		}
	}

	return &ExecResumer{Command: command, Args: args, Timeout: timeout}
}

// Resume implements Resumer. A non-zero exit is reported in the result, not as
// an error; the error is reserved for failures to run the command at all and
// for commands killed by the timeout or ctx.
func (r *ExecResumer) Resume(ctx context.Context, taskID string) (*ExecResult, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Args...), taskID)

	cmd := exec.CommandContext(ctx, r.Command, args...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("exec %s: %w", r.Command, ctx.Err())
	}

	exitCode := 0

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec %s: %w", r.Command, err)
		}

		exitCode = exitErr.ExitCode()
	}

	return &ExecResult{
		Command:  r.Command,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
