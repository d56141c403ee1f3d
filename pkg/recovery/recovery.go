// Package recovery restarts a stalled executor through its resume entry point.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
)

// Sentinel errors.
var (
	ErrRecoveryFailed  = errors.New("recovery failed")
	ErrNoCheckpointRef = errors.New("no checkpoint reference to resume from")
)

// maxOutputLog bounds how much child output is copied into logs.
const maxOutputLog = 2048

// Attempt describes one recovery invocation.
type Attempt struct {
	TaskID    string
	Ref       checkpoint.Ref
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Stdout    string
	Stderr    string
	Succeeded bool
	Err       error
}

// Recorder receives every attempt, successful or not.
type Recorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Manager performs single recovery attempts. It never retries on its own; the
// caller decides whether the next unhealthy observation warrants another try.
type Manager struct {
	resumer  Resumer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder attaches an attempt recorder.
func WithRecorder(rec Recorder) Option {
	return func(m *Manager) { m.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source used for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager around resumer.
func NewManager(resumer Resumer, opts ...Option) *Manager {
	m := &Manager{
		resumer: resumer,
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Attempt resumes the task identified by ref exactly once.
func (m *Manager) Attempt(ctx context.Context, ref checkpoint.Ref) (Attempt, error) {
	attempt := Attempt{Ref: ref, StartedAt: m.now()}

	if ref == "" {
		attempt.Err = ErrNoCheckpointRef
		m.record(ctx, attempt)

		return attempt, fmt.Errorf("%w: %w", ErrRecoveryFailed, ErrNoCheckpointRef)
	}

	attempt.TaskID = ref.TaskID()

	m.logger.InfoContext(ctx, "attempting recovery", "task_id", attempt.TaskID, "ref", ref.String())

	result, err := m.resumer.Resume(ctx, attempt.TaskID)
	attempt.Duration = m.now().Sub(attempt.StartedAt)

	switch {
	case err != nil:
		attempt.Err = err
	case result.ExitCode != 0:
		attempt.ExitCode = result.ExitCode
		attempt.Stdout = result.Stdout
		attempt.Stderr = result.Stderr
		attempt.Err = fmt.Errorf("resume exited with code %d", result.ExitCode)
	default:
		attempt.Stdout = result.Stdout
		attempt.Stderr = result.Stderr
		attempt.Succeeded = true
	}

	m.record(ctx, attempt)

	if !attempt.Succeeded {
		m.logger.ErrorContext(ctx, "recovery failed",
			"task_id", attempt.TaskID,
			"exit_code", attempt.ExitCode,
			"stderr", truncate(attempt.Stderr),
			"error", attempt.Err)

		return attempt, fmt.Errorf("%w: task %s: %w", ErrRecoveryFailed, attempt.TaskID, attempt.Err)
	}

	m.logger.InfoContext(ctx, "recovery succeeded", "task_id", attempt.TaskID, "duration", attempt.Duration)

	return attempt, nil
}

func (m *Manager) record(ctx context.Context, attempt Attempt) {
	if m.recorder == nil {
		return
	}

	err := m.recorder.RecordAttempt(ctx, attempt)
	if err != nil {
		m.logger.WarnContext(ctx, "record recovery attempt", "error", err)
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxOutputLog {
		return s
	}

	return s[:maxOutputLog] + "..."
}
