package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Sumatoshi-tech/marathon/pkg/persist"
)

// ErrEmptyTaskID is returned when a checkpoint has no task id.
var ErrEmptyTaskID = errors.New("checkpoint task id is empty")

// Directory permissions for checkpoints.
const dirPerm = 0o750

// Store saves and loads full task snapshots, one file per task. It is the
// executor-side writer; marathon itself only reads through a Source.
type Store struct {
	Dir   string
	codec persist.Codec
}

// NewStore creates a Store rooted at dir. An empty dir selects DefaultDir.
// The directory is created by the first Save; reads never touch the disk layout.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}

	return &Store{Dir: dir, codec: persist.NewJSONCodec()}
}

// Path returns the snapshot path for a task.
func (s *Store) Path(taskID string) string {
	return filepath.Join(s.Dir, taskID+s.codec.Extension())
}

// Save atomically writes the full checkpoint.
func (s *Store) Save(cp *TaskCheckpoint) error {
	if cp.TaskID == "" {
		return ErrEmptyTaskID
	}

	err := persist.WriteFileAtomic(s.Path(cp.TaskID), func(w io.Writer) error {
		return s.codec.Encode(w, cp)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.TaskID, err)
	}

	return nil
}

// Load reads the checkpoint for a task.
func (s *Store) Load(taskID string) (*TaskCheckpoint, error) {
	data, err := os.ReadFile(s.Path(taskID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, taskID)
		}

		return nil, fmt.Errorf("read checkpoint %s: %w", taskID, err)
	}

	cp, err := ParsePayload(data)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", taskID, err)
	}

	return cp, nil
}

// List returns summaries of every readable snapshot, most recently updated
// first. Files that fail to parse are skipped.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != s.codec.Extension() {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if readErr != nil {
			continue
		}

		cp, parseErr := ParsePayload(data)
		if parseErr != nil {
			continue
		}

		summaries = append(summaries, cp.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// Exists reports whether a snapshot for the task is present.
func (s *Store) Exists(taskID string) bool {
	_, err := os.Stat(s.Path(taskID))

	return err == nil
}

// Delete removes the snapshot for a task. Deleting a missing task is not an error.
func (s *Store) Delete(taskID string) error {
	err := os.Remove(s.Path(taskID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", taskID, err)
	}

	return nil
}
