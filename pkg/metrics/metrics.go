// Package metrics samples session progress, keeps a write-ahead log of
// snapshots, and derives the final session report from it.
package metrics

import (
	"encoding/json"
	"time"
)

// Session status values carried in SessionMetrics.Status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SessionMetrics is a point-in-time view of session progress. Values are
// derived from sampled checkpoints and are never authoritative.
type SessionMetrics struct {
	ElapsedSeconds    int64   `json:"elapsed_seconds"`
	TotalTokens       int64   `json:"total_tokens"`
	TokensPerMinute   float64 `json:"tokens_per_minute"`
	TasksCompleted    int     `json:"tasks_completed"`
	TasksRemaining    int     `json:"tasks_remaining"`
	TestPassRate      float64 `json:"test_pass_rate"`
	LinesOfCode       int     `json:"lines_of_code"`
	TestCoverage      float64 `json:"test_coverage"`
	CheckpointCount   int     `json:"checkpoint_count"`
	ErrorsEncountered int     `json:"errors_encountered"`
	Phase             string  `json:"phase"`
	Status            string  `json:"status"`
}

// Elapsed returns ElapsedSeconds as a duration.
func (m SessionMetrics) Elapsed() time.Duration {
	return time.Duration(m.ElapsedSeconds) * time.Second
}

// UpdateRate recomputes TokensPerMinute from the token total and elapsed time.
func (m *SessionMetrics) UpdateRate() {
	if m.ElapsedSeconds <= 0 {
		m.TokensPerMinute = 0

		return
	}

	m.TokensPerMinute = float64(m.TotalTokens) / (float64(m.ElapsedSeconds) / secondsPerMinute)
}

const secondsPerMinute = 60

// Snapshot is one timestamped copy of the session metrics.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Metrics   SessionMetrics `json:"metrics"`
}

// Report summarizes a session from its snapshot history.
type Report struct {
	DurationSeconds int64   `json:"duration_seconds"`
	TotalTokens     int64   `json:"total_tokens"`
	FinalCoverage   float64 `json:"final_coverage"`
	FinalLOC        int     `json:"final_loc"`
	Checkpoints     int     `json:"checkpoints"`
	Errors          int     `json:"errors"`
	Status          string  `json:"status"`
}

// IsEmpty reports whether the report was generated from no snapshots.
func (r Report) IsEmpty() bool {
	return r == Report{}
}

// MarshalJSON renders an empty report as {}.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.IsEmpty() {
		return []byte("{}"), nil
	}

	type plain Report

	return json.Marshal(plain(r))
}

// GenerateReport derives the session report from the last snapshot. Checkpoints
// counts snapshots, not checkpoint events. An empty history yields an empty
// report.
func GenerateReport(history []Snapshot) Report {
	if len(history) == 0 {
		return Report{}
	}

	last := history[len(history)-1].Metrics

	return Report{
		DurationSeconds: last.ElapsedSeconds,
		TotalTokens:     last.TotalTokens,
		FinalCoverage:   last.TestCoverage,
		FinalLOC:        last.LinesOfCode,
		Checkpoints:     len(history),
		Errors:          last.ErrorsEncountered,
		Status:          last.Status,
	}
}
