package metrics

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidSnapshot is returned when a snapshot file fails schema validation.
var ErrInvalidSnapshot = errors.New("invalid metrics snapshot")

//go:embed snapshot.schema.json
var snapshotSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(snapshotSchema)

// Validate checks one encoded snapshot against the embedded schema.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		msgs = append(msgs, resultErr.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, strings.Join(msgs, "; "))
}

// Replay reads the snapshot files under dir in sequence order. Feeding the
// result to GenerateReport reproduces the report of the recorded session.
func Replay(dir string) ([]Snapshot, error) {
	paths, err := filepath.Glob(filepath.Join(dir, snapshotGlob))
	if err != nil {
		return nil, fmt.Errorf("glob snapshots: %w", err)
	}

	type entry struct {
		seq  int
		path string
	}

	entries := make([]entry, 0, len(paths))

	for _, path := range paths {
		seq, ok := parseSeq(path)
		if !ok {
			continue
		}

		entries = append(entries, entry{seq: seq, path: path})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	history := make([]Snapshot, 0, len(entries))

	for _, e := range entries {
		data, readErr := os.ReadFile(e.path)
		if readErr != nil {
			return history, fmt.Errorf("read snapshot %s: %w", e.path, readErr)
		}

		validErr := Validate(data)
		if validErr != nil {
			return history, fmt.Errorf("snapshot %s: %w", filepath.Base(e.path), validErr)
		}

		var snap Snapshot

		decodeErr := json.Unmarshal(data, &snap)
		if decodeErr != nil {
			return history, fmt.Errorf("decode snapshot %s: %w", e.path, decodeErr)
		}

		history = append(history, snap)
	}

	return history, nil
}
