package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flatSnapshot = `{
  "task_id": "redqueue",
  "version": 3,
  "status": "running",
  "current_step": 5,
  "estimated_tokens": 4200,
  "messages": [{"role":"user","content":"go"}],
  "memory_entries": [],
  "tool_calls": [],
  "errors": [],
  "executor_build": "0.9.1",
  "created_at": "2026-03-01T12:00:00Z",
  "updated_at": "2026-03-01T12:30:00Z"
}`

func TestParsePayload_Flat(t *testing.T) {
	t.Parallel()

	cp, shape, err := ParsePayloadShape([]byte(flatSnapshot))
	require.NoError(t, err)

	assert.Equal(t, ShapeFlat, shape)
	assert.Equal(t, "redqueue", cp.TaskID)
	assert.Equal(t, uint32(3), cp.Version)
	assert.Equal(t, StatusRunning, cp.Status)
	assert.Equal(t, 5, cp.CurrentStep)
	assert.Equal(t, 4200, cp.EstimatedTokens)
	assert.Len(t, cp.Messages, 1)
}

func TestParsePayload_EnvelopeMatchesFlat(t *testing.T) {
	t.Parallel()

	envelope := `{"kind":"checkpoint","payload":` + flatSnapshot + `}`

	wrapped, shape, err := ParsePayloadShape([]byte(envelope))
	require.NoError(t, err)
	assert.Equal(t, ShapeEnvelope, shape)
	assert.Equal(t, "envelope", shape.String())

	flat, err := ParsePayload([]byte(flatSnapshot))
	require.NoError(t, err)

	assert.Equal(t, flat, wrapped)
}

func TestParsePayload_NonObjectPayloadFieldIsFlat(t *testing.T) {
	t.Parallel()

	cp, shape, err := ParsePayloadShape([]byte(`{"task_id":"t","payload":"opaque"}`))
	require.NoError(t, err)

	assert.Equal(t, ShapeFlat, shape)
	assert.Equal(t, "t", cp.TaskID)
}

func TestParsePayload_LegacyStatuses(t *testing.T) {
	t.Parallel()

	cases := map[string]Status{
		"in_progress": StatusRunning,
		"paused":      StatusBlocked,
		"":            StatusPending,
		"completed":   StatusCompleted,
	}

	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()

			cp, err := ParsePayload([]byte(`{"task_id":"t","status":"` + raw + `"}`))
			require.NoError(t, err)
			assert.Equal(t, want, cp.Status)
		})
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"truncated":  `{"task_id": "t", "version":`,
		"null":       `null`,
		"array":      `[1,2,3]`,
		"bad_field":  `{"task_id": "t", "version": "three"}`,
		"bad_nested": `{"payload": {"version": -1}}`,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cp, err := ParsePayload([]byte(input))
			require.ErrorIs(t, err, ErrMalformedSnapshot)
			assert.Nil(t, cp)
		})
	}
}

func TestParseProgress_ToleratesUnreadHistory(t *testing.T) {
	t.Parallel()

	// tool_calls[0].timestamp is not a time; the fields the sampler reads are fine.
	raw := `{"payload": {
	  "task_id": "redqueue",
	  "version": 4,
	  "status": "in_progress",
	  "current_step": 7,
	  "estimated_tokens": 5100,
	  "tool_calls": [{"timestamp": 1712345678, "tool_name": "shell"}],
	  "errors": [{"step": 2, "error": "flaky"}, "disk full"],
	  "git_checkpoint": {"branch": "main", "commit_hash": "abc", "dirty": false,
	    "staged_files": [], "modified_files": []}
	}}`

	_, err := ParsePayload([]byte(raw))
	require.ErrorIs(t, err, ErrMalformedSnapshot)

	cp, partial, err := ParseProgress([]byte(raw))
	require.NoError(t, err)
	assert.True(t, partial)
	assert.Equal(t, "redqueue", cp.TaskID)
	assert.Equal(t, uint32(4), cp.Version)
	assert.Equal(t, StatusRunning, cp.Status)
	assert.Equal(t, 7, cp.CurrentStep)
	assert.Equal(t, 5100, cp.EstimatedTokens)
	require.Len(t, cp.Errors, 2)
	assert.Equal(t, "flaky", cp.Errors[0].Error)
	assert.Equal(t, `"disk full"`, cp.Errors[1].Error)
	require.NotNil(t, cp.GitCheckpoint)
	assert.Equal(t, "abc", cp.GitCheckpoint.CommitHash)
	assert.Empty(t, cp.ToolCalls)
}

func TestParseProgress_WellFormedIsComplete(t *testing.T) {
	t.Parallel()

	cp, partial, err := ParseProgress([]byte(flatSnapshot))
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Len(t, cp.Messages, 1)
}

func TestParseProgress_BadProgressFieldIsMalformed(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"tokens":    `{"task_id": "t", "estimated_tokens": "lots"}`,
		"step":      `{"task_id": "t", "current_step": 1.5}`,
		"errors":    `{"task_id": "t", "errors": {"count": 3}}`,
		"truncated": `{"task_id": "t", "version":`,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cp, _, err := ParseProgress([]byte(input))
			require.ErrorIs(t, err, ErrMalformedSnapshot)
			assert.Nil(t, cp)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusBlocked.IsTerminal())
	assert.True(t, StatusBlocked.Valid())
	assert.False(t, Status("exploded").Valid())
}
