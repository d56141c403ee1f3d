package checkpoint

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Sentinel errors for delta application.
var (
	ErrTaskMismatch  = errors.New("delta task id mismatch")
	ErrVersionGap    = errors.New("delta base version does not match checkpoint version")
	ErrDeltaReplayed = errors.New("delta already applied")
	ErrTerminal      = errors.New("checkpoint is in a terminal state")
)

// Delta is the minimal diff that advances a checkpoint from BaseVersion to
// TargetVersion. Pointer fields are set only when the value changed; the New*
// sequences hold exactly the elements appended since BaseVersion.
type Delta struct {
	TaskID        string    `json:"task_id"`
	BaseVersion   uint32    `json:"base_version"`
	TargetVersion uint32    `json:"target_version"`
	UpdatedAt     time.Time `json:"updated_at"`

	Status           *Status            `json:"status,omitempty"`
	CurrentStep      *int               `json:"current_step,omitempty"`
	CurrentIteration *int               `json:"current_iteration,omitempty"`
	UpdatedTokens    *int               `json:"updated_tokens,omitempty"`
	GitCheckpoint    *GitCheckpointInfo `json:"git_checkpoint,omitempty"`

	NewMessages      []Message     `json:"new_messages"`
	NewMemoryEntries []MemoryEntry `json:"new_memory_entries"`
	NewToolCalls     []ToolCallLog `json:"new_tool_calls"`
	NewErrors        []ErrorLog    `json:"new_errors"`
}

// IsEmpty reports whether the delta carries no change besides the version bump.
func (d *Delta) IsEmpty() bool {
	return d.Status == nil && d.CurrentStep == nil && d.CurrentIteration == nil &&
		d.UpdatedTokens == nil && d.GitCheckpoint == nil &&
		len(d.NewMessages) == 0 && len(d.NewMemoryEntries) == 0 &&
		len(d.NewToolCalls) == 0 && len(d.NewErrors) == 0
}

// ComputeDelta returns the diff that turns base into current. The second
// result is false when the checkpoints belong to different tasks.
func ComputeDelta(current, base *TaskCheckpoint) (*Delta, bool) {
	if current.TaskID != base.TaskID {
		return nil, false
	}

	delta := &Delta{
		TaskID:           current.TaskID,
		BaseVersion:      base.Version,
		TargetVersion:    current.Version,
		UpdatedAt:        current.UpdatedAt,
		NewMessages:      suffix(current.Messages, base.Messages),
		NewMemoryEntries: suffix(current.MemoryEntries, base.MemoryEntries),
		NewToolCalls:     suffix(current.ToolCalls, base.ToolCalls),
		NewErrors:        suffix(current.Errors, base.Errors),
	}

	if current.Status != base.Status {
		delta.Status = ptr(current.Status)
	}

	if current.CurrentStep != base.CurrentStep {
		delta.CurrentStep = ptr(current.CurrentStep)
	}

	if current.CurrentIteration != base.CurrentIteration {
		delta.CurrentIteration = ptr(current.CurrentIteration)
	}

	if current.EstimatedTokens != base.EstimatedTokens {
		delta.UpdatedTokens = ptr(current.EstimatedTokens)
	}

	if current.GitCheckpoint != nil && !current.GitCheckpoint.Equal(base.GitCheckpoint) {
		delta.GitCheckpoint = current.Clone().GitCheckpoint
	}

	return delta, true
}

// ApplyDelta mutates target in place so that it reaches delta.TargetVersion.
//
// Only the task id is checked: applying the same delta twice appends its
// sequences twice. Use a Replayer when the caller cannot track applied versions.
func ApplyDelta(target *TaskCheckpoint, delta *Delta) error {
	if target.TaskID != delta.TaskID {
		return fmt.Errorf("%w: checkpoint %q, delta %q", ErrTaskMismatch, target.TaskID, delta.TaskID)
	}

	target.Version = delta.TargetVersion
	target.UpdatedAt = delta.UpdatedAt

	if delta.Status != nil {
		target.Status = *delta.Status
	}

	if delta.CurrentStep != nil {
		target.CurrentStep = *delta.CurrentStep
	}

	if delta.CurrentIteration != nil {
		target.CurrentIteration = *delta.CurrentIteration
	}

	if delta.UpdatedTokens != nil {
		target.EstimatedTokens = *delta.UpdatedTokens
	}

	if delta.GitCheckpoint != nil {
		git := *delta.GitCheckpoint
		target.GitCheckpoint = &git
	}

	target.Messages = append(target.Messages, delta.NewMessages...)
	target.MemoryEntries = append(target.MemoryEntries, delta.NewMemoryEntries...)
	target.ToolCalls = append(target.ToolCalls, delta.NewToolCalls...)
	target.Errors = append(target.Errors, delta.NewErrors...)

	return nil
}

// Replayer applies a stream of deltas to one checkpoint and refuses any delta
// that does not continue from the checkpoint's current version.
type Replayer struct {
	current *TaskCheckpoint
}

// NewReplayer starts a replay from base. base is not modified.
func NewReplayer(base *TaskCheckpoint) *Replayer {
	return &Replayer{current: base.Clone()}
}

// Apply advances the checkpoint by one delta.
func (r *Replayer) Apply(delta *Delta) error {
	if r.current.TaskID != delta.TaskID {
		return fmt.Errorf("%w: checkpoint %q, delta %q", ErrTaskMismatch, r.current.TaskID, delta.TaskID)
	}

	if delta.TargetVersion <= r.current.Version {
		return fmt.Errorf("%w: target %d, current %d", ErrDeltaReplayed, delta.TargetVersion, r.current.Version)
	}

	if delta.BaseVersion != r.current.Version {
		return fmt.Errorf("%w: base %d, current %d", ErrVersionGap, delta.BaseVersion, r.current.Version)
	}

	if r.current.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, r.current.Status)
	}

	return ApplyDelta(r.current, delta)
}

// Checkpoint returns a copy of the replayed state.
func (r *Replayer) Checkpoint() *TaskCheckpoint {
	return r.current.Clone()
}

// Version returns the last applied version.
func (r *Replayer) Version() uint32 {
	return r.current.Version
}

func suffix[T any](current, base []T) []T {
	if len(current) <= len(base) {
		return []T{}
	}

	return slices.Clone(current[len(base):])
}

func ptr[T any](v T) *T {
	return &v
}
