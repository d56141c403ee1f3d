package checkpoint

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(text string) Message {
	return Message(fmt.Sprintf(`{"role":"assistant","content":%q}`, text))
}

func messages(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = msg(fmt.Sprintf("m%d", i+1))
	}

	return out
}

// advance returns a copy of cp that moved forward by one version.
func advance(cp *TaskCheckpoint, mutate func(*TaskCheckpoint)) *TaskCheckpoint {
	next := cp.Clone()
	next.Version++
	next.UpdatedAt = cp.UpdatedAt.Add(time.Minute)
	mutate(next)

	return next
}

func TestComputeDelta_TaskMismatch(t *testing.T) {
	t.Parallel()

	a := New("task-a", "", testEpoch)
	b := New("task-b", "", testEpoch)

	delta, ok := ComputeDelta(a, b)
	assert.False(t, ok)
	assert.Nil(t, delta)
}

func TestComputeDelta_OnlyChangedScalars(t *testing.T) {
	t.Parallel()

	base := New("task", "desc", testEpoch)
	current := advance(base, func(c *TaskCheckpoint) {
		c.CurrentStep = 3
	})

	delta, ok := ComputeDelta(current, base)
	require.True(t, ok)

	require.NotNil(t, delta.CurrentStep)
	assert.Equal(t, 3, *delta.CurrentStep)
	assert.Nil(t, delta.Status)
	assert.Nil(t, delta.CurrentIteration)
	assert.Nil(t, delta.UpdatedTokens)
	assert.Nil(t, delta.GitCheckpoint)
	assert.Equal(t, uint32(1), delta.BaseVersion)
	assert.Equal(t, uint32(2), delta.TargetVersion)
	assert.Equal(t, current.UpdatedAt, delta.UpdatedAt)
}

func TestComputeDelta_SuffixLengths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		baseLen, currentLen, want int
	}{
		{0, 0, 0},
		{0, 4, 4},
		{3, 4, 1},
		{4, 4, 0},
		// Shorter current never yields a negative or truncating delta.
		{5, 2, 0},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_to_%d", tc.baseLen, tc.currentLen), func(t *testing.T) {
			t.Parallel()

			base := New("task", "", testEpoch)
			base.Messages = messages(tc.baseLen)
			current := base.Clone()
			current.Messages = messages(tc.currentLen)

			delta, ok := ComputeDelta(current, base)
			require.True(t, ok)
			assert.Len(t, delta.NewMessages, tc.want)
			assert.NotNil(t, delta.NewMessages)
		})
	}
}

func TestApplyDelta_TaskMismatch(t *testing.T) {
	t.Parallel()

	target := New("task-a", "", testEpoch)
	before := target.Clone()

	err := ApplyDelta(target, &Delta{TaskID: "task-b", TargetVersion: 2})
	require.ErrorIs(t, err, ErrTaskMismatch)
	assert.Equal(t, before, target)
}

func TestApplyDelta_ScenarioAppendMessage(t *testing.T) {
	t.Parallel()

	cp := New("task", "", testEpoch)
	cp.Version = 3
	cp.Messages = []Message{msg("m1"), msg("m2"), msg("m3")}

	stamp := testEpoch.Add(time.Hour)
	delta := &Delta{
		TaskID:        "task",
		BaseVersion:   3,
		TargetVersion: 4,
		UpdatedAt:     stamp,
		NewMessages:   []Message{msg("m4")},
	}

	require.NoError(t, ApplyDelta(cp, delta))

	assert.Equal(t, uint32(4), cp.Version)
	assert.Equal(t, []Message{msg("m1"), msg("m2"), msg("m3"), msg("m4")}, cp.Messages)
	assert.Equal(t, stamp, cp.UpdatedAt)
}

func TestApplyDelta_NotIdempotent(t *testing.T) {
	t.Parallel()

	cp := New("task", "", testEpoch)
	delta := &Delta{TaskID: "task", BaseVersion: 1, TargetVersion: 2, NewMessages: []Message{msg("m1")}}

	require.NoError(t, ApplyDelta(cp, delta))
	require.NoError(t, ApplyDelta(cp, delta))

	assert.Len(t, cp.Messages, 2)
}

func TestApplyDelta_RoundTripEquivalence(t *testing.T) {
	t.Parallel()

	result := "ok"
	duration := uint64(120)

	v1 := New("task", "build the queue", testEpoch)
	v1.Messages = messages(2)

	later := advance(v1, func(c *TaskCheckpoint) {
		c.Status = StatusRunning
		c.CurrentStep = 4
		c.CurrentIteration = 7
		c.EstimatedTokens = 12000
		c.Messages = append(c.Messages, messages(5)[2:]...)
		c.MemoryEntries = append(c.MemoryEntries, MemoryEntry{Role: "user", Content: "note", TokenEstimate: 4})
		c.ToolCalls = append(c.ToolCalls, ToolCallLog{
			Timestamp: testEpoch, ToolName: "shell", Arguments: "ls", Result: &result, Success: true, DurationMS: &duration,
		})
		c.Errors = append(c.Errors, ErrorLog{Timestamp: testEpoch, Step: 2, Error: "timeout", Recovered: true})
		c.GitCheckpoint = &GitCheckpointInfo{Branch: "main", CommitHash: "abc123", ModifiedFiles: []string{"a.go"}}
	})

	delta, ok := ComputeDelta(later, v1)
	require.True(t, ok)

	rebuilt := v1.Clone()
	require.NoError(t, ApplyDelta(rebuilt, delta))

	assert.Equal(t, later, rebuilt)
}

func TestApplyDelta_RoundTripThroughJSON(t *testing.T) {
	t.Parallel()

	v1 := New("task", "", testEpoch)
	later := advance(v1, func(c *TaskCheckpoint) {
		c.Status = StatusCompleted
		c.Messages = messages(3)
		c.EstimatedTokens = 900
	})

	delta, ok := ComputeDelta(later, v1)
	require.True(t, ok)

	raw, err := json.Marshal(delta)
	require.NoError(t, err)

	var decoded Delta

	require.NoError(t, json.Unmarshal(raw, &decoded))

	rebuilt := v1.Clone()
	require.NoError(t, ApplyDelta(rebuilt, &decoded))

	assert.Equal(t, later.Version, rebuilt.Version)
	assert.Equal(t, later.Status, rebuilt.Status)
	assert.Equal(t, later.EstimatedTokens, rebuilt.EstimatedTokens)
	assert.Len(t, rebuilt.Messages, 3)
	assert.True(t, later.UpdatedAt.Equal(rebuilt.UpdatedAt))
}

func TestReplayer_RejectsReplayAndGaps(t *testing.T) {
	t.Parallel()

	base := New("task", "", testEpoch)
	replayer := NewReplayer(base)

	first := &Delta{TaskID: "task", BaseVersion: 1, TargetVersion: 2, NewMessages: []Message{msg("m1")}}
	require.NoError(t, replayer.Apply(first))

	err := replayer.Apply(first)
	require.ErrorIs(t, err, ErrDeltaReplayed)

	gap := &Delta{TaskID: "task", BaseVersion: 3, TargetVersion: 4}
	require.ErrorIs(t, replayer.Apply(gap), ErrVersionGap)

	other := &Delta{TaskID: "other", BaseVersion: 2, TargetVersion: 3}
	require.ErrorIs(t, replayer.Apply(other), ErrTaskMismatch)

	assert.Len(t, replayer.Checkpoint().Messages, 1)
	assert.Equal(t, uint32(2), replayer.Version())
	assert.Equal(t, uint32(1), base.Version, "base must not be mutated")
}

func TestReplayer_TerminalIsImmutable(t *testing.T) {
	t.Parallel()

	done := StatusCompleted
	replayer := NewReplayer(New("task", "", testEpoch))

	require.NoError(t, replayer.Apply(&Delta{TaskID: "task", BaseVersion: 1, TargetVersion: 2, Status: &done}))

	err := replayer.Apply(&Delta{TaskID: "task", BaseVersion: 2, TargetVersion: 3})
	require.ErrorIs(t, err, ErrTerminal)
}

func TestDelta_IsEmpty(t *testing.T) {
	t.Parallel()

	base := New("task", "", testEpoch)
	same := advance(base, func(*TaskCheckpoint) {})

	delta, ok := ComputeDelta(same, base)
	require.True(t, ok)
	assert.True(t, delta.IsEmpty())
}
