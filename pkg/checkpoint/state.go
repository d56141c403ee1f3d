// Package checkpoint provides the versioned task checkpoint model, its delta
// algebra, and read/write access to persisted snapshots.
package checkpoint

import (
	"encoding/json"
	"slices"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Legacy status spellings written by older executors.
const (
	legacyStatusInProgress = "in_progress"
	legacyStatusPaused     = "paused"
)

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusBlocked, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// UnmarshalJSON accepts both current and legacy status spellings.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	*s = normalizeStatus(raw)

	return nil
}

func normalizeStatus(raw string) Status {
	switch raw {
	case legacyStatusInProgress:
		return StatusRunning
	case legacyStatusPaused:
		return StatusBlocked
	case "":
		return StatusPending
	default:
		return Status(raw)
	}
}

// Message is a conversation message. The checkpoint layer never interprets it.
type Message = json.RawMessage

// MemoryEntry is a serialized working-memory item.
type MemoryEntry struct {
	Timestamp     string `json:"timestamp"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	TokenEstimate int    `json:"token_estimate"`
}

// ToolCallLog records a single tool execution.
type ToolCallLog struct {
	Timestamp  time.Time `json:"timestamp"`
	ToolName   string    `json:"tool_name"`
	Arguments  string    `json:"arguments"`
	Result     *string   `json:"result,omitempty"`
	Success    bool      `json:"success"`
	DurationMS *uint64   `json:"duration_ms,omitempty"`
}

// ErrorLog records an error raised during execution.
type ErrorLog struct {
	Timestamp time.Time `json:"timestamp"`
	Step      int       `json:"step"`
	Error     string    `json:"error"`
	Recovered bool      `json:"recovered"`
}

// GitCheckpointInfo is the version-control marker attached to a checkpoint.
type GitCheckpointInfo struct {
	Branch        string   `json:"branch"`
	CommitHash    string   `json:"commit_hash"`
	Dirty         bool     `json:"dirty"`
	StagedFiles   []string `json:"staged_files"`
	ModifiedFiles []string `json:"modified_files"`
}

// Equal reports whether two markers describe the same repository state.
func (g *GitCheckpointInfo) Equal(other *GitCheckpointInfo) bool {
	if g == nil || other == nil {
		return g == other
	}

	return g.Branch == other.Branch &&
		g.CommitHash == other.CommitHash &&
		g.Dirty == other.Dirty &&
		slices.Equal(g.StagedFiles, other.StagedFiles) &&
		slices.Equal(g.ModifiedFiles, other.ModifiedFiles)
}

// TaskCheckpoint is a durable snapshot of one task's progress.
//
// Sequence fields are append-only across versions and scalar counters never
// decrease. Once Status is terminal the checkpoint is immutable.
type TaskCheckpoint struct {
	TaskID           string             `json:"task_id"`
	TaskDescription  string             `json:"task_description,omitempty"`
	Version          uint32             `json:"version"`
	Status           Status             `json:"status"`
	CurrentStep      int                `json:"current_step"`
	CurrentIteration int                `json:"current_iteration"`
	Messages         []Message          `json:"messages"`
	MemoryEntries    []MemoryEntry      `json:"memory_entries"`
	ToolCalls        []ToolCallLog      `json:"tool_calls"`
	Errors           []ErrorLog         `json:"errors"`
	EstimatedTokens  int                `json:"estimated_tokens"`
	GitCheckpoint    *GitCheckpointInfo `json:"git_checkpoint,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// New creates the first version of a task checkpoint.
func New(taskID, description string, now time.Time) *TaskCheckpoint {
	return &TaskCheckpoint{
		TaskID:          taskID,
		TaskDescription: description,
		Version:         1,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of the checkpoint.
func (c *TaskCheckpoint) Clone() *TaskCheckpoint {
	if c == nil {
		return nil
	}

	out := *c
	out.Messages = slices.Clone(c.Messages)
	out.MemoryEntries = slices.Clone(c.MemoryEntries)
	out.ToolCalls = slices.Clone(c.ToolCalls)
	out.Errors = slices.Clone(c.Errors)

	if c.GitCheckpoint != nil {
		git := *c.GitCheckpoint
		git.StagedFiles = slices.Clone(c.GitCheckpoint.StagedFiles)
		git.ModifiedFiles = slices.Clone(c.GitCheckpoint.ModifiedFiles)
		out.GitCheckpoint = &git
	}

	return &out
}

// Summary is a condensed view of a checkpoint used for listings.
type Summary struct {
	TaskID          string    `json:"task_id"`
	TaskDescription string    `json:"task_description"`
	Status          Status    `json:"status"`
	Version         uint32    `json:"version"`
	CurrentStep     int       `json:"current_step"`
	EstimatedTokens int       `json:"estimated_tokens"`
	ToolCallCount   int       `json:"tool_call_count"`
	ErrorCount      int       `json:"error_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Summary condenses the checkpoint.
func (c *TaskCheckpoint) Summary() Summary {
	return Summary{
		TaskID:          c.TaskID,
		TaskDescription: c.TaskDescription,
		Status:          c.Status,
		Version:         c.Version,
		CurrentStep:     c.CurrentStep,
		EstimatedTokens: c.EstimatedTokens,
		ToolCallCount:   len(c.ToolCalls),
		ErrorCount:      len(c.Errors),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
