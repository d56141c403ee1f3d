package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedSnapshot is returned when a snapshot cannot be parsed as either
// supported on-disk shape.
var ErrMalformedSnapshot = errors.New("malformed checkpoint snapshot")

// payloadKey is the envelope field wrapping the checkpoint in newer executors.
const payloadKey = "payload"

// Shape identifies which on-disk layout a snapshot used.
type Shape int

// Snapshot shapes.
const (
	ShapeFlat Shape = iota
	ShapeEnvelope
)

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s == ShapeEnvelope {
		return "envelope"
	}

	return "flat"
}

// ParsePayload decodes a checkpoint written either as a flat object or wrapped
// as {"payload": {...}}. Unknown fields are ignored.
func ParsePayload(raw []byte) (*TaskCheckpoint, error) {
	cp, _, err := ParsePayloadShape(raw)

	return cp, err
}

// ParsePayloadShape is ParsePayload that also reports the detected shape.
func ParsePayloadShape(raw []byte) (*TaskCheckpoint, Shape, error) {
	var fields map[string]json.RawMessage

	err := json.Unmarshal(raw, &fields)
	if err != nil {
		return nil, ShapeFlat, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}

	if fields == nil {
		return nil, ShapeFlat, fmt.Errorf("%w: not an object", ErrMalformedSnapshot)
	}

	body := raw
	shape := ShapeFlat

	if inner, ok := fields[payloadKey]; ok && isObject(inner) {
		body = inner
		shape = ShapeEnvelope
	}

	var cp TaskCheckpoint

	err = json.Unmarshal(body, &cp)
	if err != nil {
		return nil, shape, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}

	return &cp, shape, nil
}

// ParseProgress decodes a snapshot for sampling. When the full decode fails
// but the progress fields (current_step, estimated_tokens, errors and
// git_checkpoint) are well formed, it returns a checkpoint holding just those
// plus whatever identity fields decode, and partial is true. A partial
// checkpoint must not be used as a delta base.
func ParseProgress(raw []byte) (cp *TaskCheckpoint, partial bool, err error) {
	cp, shape, err := ParsePayloadShape(raw)
	if err == nil {
		return cp, false, nil
	}

	body, ok := progressBody(raw, shape)
	if !ok {
		return nil, false, err
	}

	cp, progressErr := decodeProgress(body)
	if progressErr != nil {
		return nil, false, err
	}

	return cp, true, nil
}

func progressBody(raw []byte, shape Shape) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage

	if json.Unmarshal(raw, &fields) != nil || fields == nil {
		return nil, false
	}

	if shape == ShapeEnvelope {
		return fields[payloadKey], true
	}

	return raw, true
}

func decodeProgress(body json.RawMessage) (*TaskCheckpoint, error) {
	var fields map[string]json.RawMessage

	err := json.Unmarshal(body, &fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}

	var (
		cp     TaskCheckpoint
		errLog []json.RawMessage
	)

	consumed := map[string]any{
		"current_step":     &cp.CurrentStep,
		"estimated_tokens": &cp.EstimatedTokens,
		"errors":           &errLog,
		"git_checkpoint":   &cp.GitCheckpoint,
	}

	for key, dst := range consumed {
		value, ok := fields[key]
		if !ok {
			continue
		}

		err = json.Unmarshal(value, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedSnapshot, key, err)
		}
	}

	identity := map[string]any{
		"task_id":           &cp.TaskID,
		"task_description":  &cp.TaskDescription,
		"version":           &cp.Version,
		"status":            &cp.Status,
		"current_iteration": &cp.CurrentIteration,
		"created_at":        &cp.CreatedAt,
		"updated_at":        &cp.UpdatedAt,
	}

	for key, dst := range identity {
		if value, ok := fields[key]; ok {
			_ = json.Unmarshal(value, dst)
		}
	}

	cp.Errors = make([]ErrorLog, 0, len(errLog))

	for _, entry := range errLog {
		var logged ErrorLog

		if json.Unmarshal(entry, &logged) != nil && logged.Error == "" {
			logged.Error = string(entry)
		}

		cp.Errors = append(cp.Errors, logged)
	}

	return &cp, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && trimmed[0] == '{'
}
