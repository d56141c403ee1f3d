package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/session"
)

// Tool name constants.
const (
	ToolNameStatus = "marathon_status"
	ToolNameReport = "marathon_report"
)

// ErrInvalidSessionID indicates a session id that could escape the runs directory.
var ErrInvalidSessionID = errors.New("session_id must be a plain directory name")

// SessionInput is the input schema of both tools.
type SessionInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session identifier (default: most recent session)"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// StatusResult is the payload of marathon_status.
type StatusResult struct {
	SessionID  string                  `json:"session_id"`
	Project    string                  `json:"project"`
	Phase      string                  `json:"phase"`
	Status     string                  `json:"status"`
	Finished   bool                    `json:"finished"`
	Metrics    *metrics.SessionMetrics `json:"metrics,omitempty"`
	Checkpoint CheckpointHealth        `json:"checkpoint"`
}

// CheckpointHealth describes the executor's newest snapshot.
type CheckpointHealth struct {
	Healthy    bool                `json:"healthy"`
	Condition  string              `json:"condition"`
	AgeSeconds int64               `json:"age_seconds"`
	Ref        string              `json:"ref,omitempty"`
	Summary    *checkpoint.Summary `json:"summary,omitempty"`
}

// ReportResult is the payload of marathon_report.
type ReportResult struct {
	SessionID string         `json:"session_id"`
	Final     bool           `json:"final"`
	Report    metrics.Report `json:"report"`
}

func (s *Server) handleStatus(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input SessionInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	dir, err := s.resolve(input.SessionID)
	if err != nil {
		return errorResult(err)
	}

	info, err := session.LoadInfo(dir)
	if err != nil {
		return errorResult(err)
	}

	result := StatusResult{
		SessionID: info.ID,
		Project:   info.Project.Name,
	}

	history, err := session.ReplayHistory(dir)
	if err != nil {
		return errorResult(err)
	}

	if len(history) > 0 {
		last := history[len(history)-1].Metrics
		result.Metrics = &last
		result.Phase = last.Phase
		result.Status = last.Status
		result.Finished = last.Status != metrics.StatusRunning
	}

	source := checkpoint.NewDirSource(s.deps.CheckpointDir)
	report := s.monitor.Check(ctx, source, s.deps.Now())

	result.Checkpoint = CheckpointHealth{
		Healthy:    report.Healthy,
		Condition:  string(report.Condition),
		AgeSeconds: int64(report.Age.Seconds()),
		Ref:        report.Ref.String(),
	}

	if report.Checkpoint != nil {
		summary := report.Checkpoint.Summary()
		result.Checkpoint.Summary = &summary
	}

	return jsonResult(result)
}

func (s *Server) handleReport(
	_ context.Context, _ *mcpsdk.CallToolRequest, input SessionInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	dir, err := s.resolve(input.SessionID)
	if err != nil {
		return errorResult(err)
	}

	info, err := session.LoadInfo(dir)
	if err != nil {
		return errorResult(err)
	}

	report, final, err := session.CurrentReport(dir)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(ReportResult{SessionID: info.ID, Final: final, Report: report})
}

func (s *Server) resolve(id string) (string, error) {
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	dir, err := session.ResolveDir(s.deps.RunsDir, id)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}

	return dir, nil
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
