package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReport_Empty(t *testing.T) {
	t.Parallel()

	report := GenerateReport(nil)
	assert.True(t, report.IsEmpty())

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestGenerateReport_UsesLastSnapshot(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := []Snapshot{
		{Timestamp: start, Metrics: SessionMetrics{ElapsedSeconds: 30, TotalTokens: 100, Status: StatusRunning}},
		{Timestamp: start.Add(time.Minute), Metrics: SessionMetrics{
			ElapsedSeconds:    90,
			TotalTokens:       2500,
			TestCoverage:      0.72,
			LinesOfCode:       1150,
			ErrorsEncountered: 2,
			CheckpointCount:   1,
			Status:            StatusCompleted,
		}},
	}

	report := GenerateReport(history)

	assert.Equal(t, Report{
		DurationSeconds: 90,
		TotalTokens:     2500,
		FinalCoverage:   0.72,
		FinalLOC:        1150,
		Checkpoints:     2,
		Errors:          2,
		Status:          StatusCompleted,
	}, report)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"duration_seconds": 90,
		"total_tokens": 2500,
		"final_coverage": 0.72,
		"final_loc": 1150,
		"checkpoints": 2,
		"errors": 2,
		"status": "completed"
	}`, string(data))
}

func TestSessionMetrics_UpdateRate(t *testing.T) {
	t.Parallel()

	m := SessionMetrics{ElapsedSeconds: 120, TotalTokens: 600}
	m.UpdateRate()
	assert.InDelta(t, 300.0, m.TokensPerMinute, 1e-9)

	zero := SessionMetrics{TotalTokens: 600, TokensPerMinute: 5}
	zero.UpdateRate()
	assert.Zero(t, zero.TokensPerMinute)
	assert.Equal(t, 2*time.Minute, m.Elapsed())
}
