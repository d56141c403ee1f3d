package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestRenderText_Empty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, RenderText(&buf, "abc", Report{}, nil))
	assert.Contains(t, buf.String(), msgNoReportData)
}

func TestRenderText_Report(t *testing.T) {
	t.Parallel()

	history := []Snapshot{
		{Timestamp: epoch, Metrics: sample(30, StatusRunning)},
		{Timestamp: epoch.Add(time.Hour), Metrics: sample(3630, StatusCompleted)},
	}

	var buf bytes.Buffer

	require.NoError(t, RenderText(&buf, "abc12345", GenerateReport(history), history))

	out := buf.String()
	assert.Contains(t, out, "Session abc12345")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "36,300")
	assert.Contains(t, out, "1h0m30s")
	assert.Contains(t, out, "development")
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	history := []Snapshot{
		{Timestamp: epoch, Metrics: sample(30, StatusRunning)},
		{Timestamp: epoch.Add(time.Minute), Metrics: sample(90, StatusRunning)},
	}

	var buf bytes.Buffer

	require.NoError(t, RenderHTML(&buf, "abc", history))

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "Lines of code")
	assert.Contains(t, out, "marathon session abc")
}
