// Package ledger keeps a sqlite record of marathon sessions and the recovery
// attempts made during them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver.

	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/recovery"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

const (
	driverName = "sqlite"
	dsnOptions = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	dirPerm    = 0o750

	// maxOutput bounds the stdout/stderr stored per attempt.
	maxOutput = 16 << 10
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project TEXT NOT NULL,
	dir TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	final_loc INTEGER NOT NULL DEFAULT 0,
	checkpoints INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS recovery_attempts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	ref TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	error TEXT,
	stdout TEXT,
	stderr TEXT,
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_attempts_session_id ON recovery_attempts(session_id);
`

// Session is one row of the sessions table.
type Session struct {
	ID              string     `json:"id"`
	Project         string     `json:"project"`
	Dir             string     `json:"dir"`
	State           string     `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	TotalTokens     int64      `json:"total_tokens"`
	FinalLOC        int        `json:"final_loc"`
	Checkpoints     int        `json:"checkpoints"`
	Errors          int        `json:"errors"`
}

// Attempt is one row of the recovery_attempts table.
type Attempt struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	TaskID    string        `json:"task_id"`
	Ref       string        `json:"ref"`
	ExitCode  int           `json:"exit_code"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Ledger is the sqlite-backed session ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and runs migrations.
func Open(path string) (*Ledger, error) {
	err := os.MkdirAll(filepath.Dir(path), dirPerm)
	if err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open(driverName, path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(schema)
	if err != nil {
		closeErr := db.Close()

		return nil, fmt.Errorf("migrate ledger: %w", errors.Join(err, closeErr))
	}

	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Ping checks the database connection is alive.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// SessionStarted inserts or resets the row for a session.
func (l *Ledger) SessionStarted(ctx context.Context, id, project, dir string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project, dir, state, started_at) VALUES (?, ?, ?, 'running', ?)
		ON CONFLICT(id) DO UPDATE SET project = excluded.project, dir = excluded.dir,
			state = 'running', started_at = excluded.started_at, finished_at = NULL`,
		id, project, dir, startedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// SessionFinished stores the final state and report of a session.
func (l *Ledger) SessionFinished(
	ctx context.Context, id, state string, finishedAt time.Time, report metrics.Report,
) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, finished_at = ?, duration_seconds = ?, total_tokens = ?,
			final_loc = ?, checkpoints = ?, errors = ? WHERE id = ?`,
		state, finishedAt.UTC(), report.DurationSeconds, report.TotalTokens,
		report.FinalLOC, report.Checkpoints, report.Errors, id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return nil
}

// Session returns one session.
func (l *Ledger) Session(ctx context.Context, id string) (*Session, error) {
	row := l.db.QueryRowContext(ctx, selectSession+` WHERE id = ?`, id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	return s, nil
}

// Sessions returns up to limit sessions, newest first. A non-positive limit
// returns all of them.
func (l *Ledger) Sessions(ctx context.Context, limit int) ([]Session, error) {
	query := selectSession + ` ORDER BY started_at DESC`

	var args []any

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session

	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session: %w", scanErr)
		}

		sessions = append(sessions, *s)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

const selectSession = `SELECT id, project, dir, state, started_at, finished_at, duration_seconds,
	total_tokens, final_loc, checkpoints, errors FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s        Session
		finished sql.NullTime
	)

	err := row.Scan(&s.ID, &s.Project, &s.Dir, &s.State, &s.StartedAt, &finished,
		&s.DurationSeconds, &s.TotalTokens, &s.FinalLOC, &s.Checkpoints, &s.Errors)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		s.FinishedAt = &finished.Time
	}

	return &s, nil
}

// RecordAttempt stores a recovery attempt for a session.
func (l *Ledger) RecordAttempt(ctx context.Context, sessionID string, attempt recovery.Attempt) error {
	var errText sql.NullString
	if attempt.Err != nil {
		errText = sql.NullString{String: attempt.Err.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO recovery_attempts (id, session_id, task_id, ref, exit_code, succeeded, error,
			stdout, stderr, started_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, attempt.TaskID, attempt.Ref.String(), attempt.ExitCode,
		attempt.Succeeded, errText, clip(attempt.Stdout), clip(attempt.Stderr),
		attempt.StartedAt.UTC(), attempt.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert recovery attempt: %w", err)
	}

	return nil
}

// Attempts returns the recovery attempts of a session, oldest first.
func (l *Ledger) Attempts(ctx context.Context, sessionID string) ([]Attempt, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, task_id, ref, exit_code, succeeded, error, stdout, stderr,
			started_at, duration_ms FROM recovery_attempts WHERE session_id = ? ORDER BY started_at, rowid`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recovery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt

	for rows.Next() {
		var (
			a              Attempt
			errText        sql.NullString
			stdout, stderr sql.NullString
			durationMS     int64
		)

		scanErr := rows.Scan(&a.ID, &a.SessionID, &a.TaskID, &a.Ref, &a.ExitCode, &a.Succeeded,
			&errText, &stdout, &stderr, &a.StartedAt, &durationMS)
		if scanErr != nil {
			return nil, fmt.Errorf("scan recovery attempt: %w", scanErr)
		}

		a.Error = errText.String
		a.Stdout = stdout.String
		a.Stderr = stderr.String
		a.Duration = time.Duration(durationMS) * time.Millisecond

		attempts = append(attempts, a)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate recovery attempts: %w", err)
	}

	return attempts, nil
}

// ForSession binds the ledger to one session as a recovery.Recorder.
func (l *Ledger) ForSession(sessionID string) recovery.Recorder {
	return sessionRecorder{ledger: l, sessionID: sessionID}
}

type sessionRecorder struct {
	ledger    *Ledger
	sessionID string
}

func (r sessionRecorder) RecordAttempt(ctx context.Context, attempt recovery.Attempt) error {
	return r.ledger.RecordAttempt(ctx, r.sessionID, attempt)
}

func clip(s string) string {
	if len(s) <= maxOutput {
		return s
	}

	return s[len(s)-maxOutput:]
}
