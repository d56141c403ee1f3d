package session

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/persist"
)

// CheckpointsDirName is the directory for checkpoint events inside a session directory.
const CheckpointsDirName = "checkpoints"

const eventIDFormat = "checkpoint_%06d"

// Event is an orchestrator-side checkpoint marker. It records where the
// session stood and is unrelated to the executor's own snapshots.
type Event struct {
	ID        string                        `json:"id"`
	Timestamp time.Time                     `json:"timestamp"`
	Phase     Phase                         `json:"phase"`
	Metrics   metrics.SessionMetrics        `json:"metrics"`
	GitCommit *string                       `json:"git_commit"`
	// Git is the workspace state at the time of the event.
	Git       *checkpoint.GitCheckpointInfo `json:"git,omitempty"`
}

// eventLog writes numbered events under one directory.
type eventLog struct {
	dir   string
	codec persist.Codec
	seq   int
}

func newEventLog(sessionDir string) *eventLog {
	return &eventLog{
		dir:   filepath.Join(sessionDir, CheckpointsDirName),
		codec: persist.NewJSONCodec(),
	}
}

func (l *eventLog) write(ev *Event) (string, error) {
	l.seq++
	ev.ID = fmt.Sprintf(eventIDFormat, l.seq)

	path := filepath.Join(l.dir, ev.ID+l.codec.Extension())

	err := persist.WriteFileAtomic(path, func(w io.Writer) error {
		return l.codec.Encode(w, ev)
	})
	if err != nil {
		return "", fmt.Errorf("write checkpoint event: %w", err)
	}

	return path, nil
}

// ListEvents returns the checkpoint event files of a session, oldest first.
func ListEvents(sessionDir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(sessionDir, CheckpointsDirName, "checkpoint_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list checkpoint events: %w", err)
	}

	return paths, nil
}
